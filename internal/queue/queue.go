package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"schoolattend/internal/attendance"
)

// TypeScan marks a message carrying one normalized device scan.
const TypeScan = "scan"

// Message represents work to be processed.
type Message struct {
	Type string `json:"type"`
	Body []byte `json:"body"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// NewScanMessage wraps a scan event for publishing.
func NewScanMessage(evt attendance.ScanEvent) (Message, error) {
	body, err := sonic.Marshal(evt)
	if err != nil {
		return Message{}, fmt.Errorf("encode scan: %w", err)
	}
	return Message{Type: TypeScan, Body: body}, nil
}

// DecodeScan unwraps a scan message.
func DecodeScan(msg Message) (attendance.ScanEvent, error) {
	if msg.Type != TypeScan {
		return attendance.ScanEvent{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var evt attendance.ScanEvent
	if err := sonic.Unmarshal(msg.Body, &evt); err != nil {
		return attendance.ScanEvent{}, fmt.Errorf("decode scan: %w", err)
	}
	return evt, nil
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = "attendance:scans"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, key: key, logger: logger.With("component", "queue", "key", key)}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				q.logger.Warn("brpop failed", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			msg, err := decode(res[1])
			if err != nil {
				q.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func encode(msg Message) (string, error) {
	raw, err := sonic.MarshalString(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return raw, nil
}

func decode(s string) (Message, error) {
	var msg Message
	if err := sonic.UnmarshalString(s, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
