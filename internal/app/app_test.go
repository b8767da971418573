package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/attendance"
	"schoolattend/internal/config"
	"schoolattend/internal/logging"
	"schoolattend/internal/queue"
)

func memoryConfig() config.App {
	return config.App{
		StoreBackend:    "memory",
		QueueBackend:    "memory",
		Timezone:        "Africa/Cairo",
		NotifySkip:      true,
		NotifyTimeout:   time.Second,
		ScanDedupWindow: time.Minute,
	}
}

func TestNewInMemoryWiresPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, memoryConfig(), logging.Discard())
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.InProcess())
	assert.Nil(t, a.Broadcaster)

	mem, ok := a.Backend.(*attendance.MemoryStore)
	require.True(t, ok)
	mem.AddStudent(attendance.Student{ID: "stu-1", ClassID: "c1", DeviceCode: "10234", Active: true})

	a.StartConsumer(ctx)

	ts, ok := a.Clock.Parse("2025-01-20 07:55:00")
	require.True(t, ok)
	msg, err := queue.NewScanMessage(attendance.ScanEvent{SubjectCode: "10234", Timestamp: ts, VerifyMethod: attendance.VerifyFingerprint})
	require.NoError(t, err)
	require.NoError(t, a.Queue.Publish(ctx, msg))

	day, err := a.Clock.ParseDay("2025-01-20")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		rec, err := mem.StudentRecord(context.Background(), "stu-1", day)
		return err == nil && rec.Status == attendance.StudentPresent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsConsumerFirst(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logging.Discard())
	require.NoError(t, err)
	mem := a.Backend.(*attendance.MemoryStore)
	mem.AddStudent(attendance.Student{ID: "stu-1", ClassID: "c1", DeviceCode: "10234", Active: true})

	a.StartConsumer(context.Background())
	ts, ok := a.Clock.Parse("2025-01-20 07:55:00")
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		msg, err := queue.NewScanMessage(attendance.ScanEvent{SubjectCode: "10234", Timestamp: ts.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		require.NoError(t, a.Queue.Publish(context.Background(), msg))
	}

	closed := make(chan struct{})
	go func() {
		a.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return while the consumer was running")
	}

	select {
	case <-a.consumerDone:
	default:
		t.Fatal("consumer still running after close")
	}
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	cfg := memoryConfig()
	cfg.Timezone = "Mars/Olympus"

	_, err := New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}
