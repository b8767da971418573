// Package notify delivers attendance notifications to the messaging gateway.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"schoolattend/internal/attendance"
)

// Notification is the body posted for each student transition.
type Notification struct {
	Type      string    `json:"type"`
	StudentID string    `json:"student_id"`
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
}

// Client calls the notification gateway.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL, token string, timeout time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Skip:    skip || baseURL == "",
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// NotifyAttendance posts one attendance notification. It implements
// attendance.Notifier.
func (c *Client) NotifyAttendance(ctx context.Context, studentID string, status attendance.StudentStatus, at time.Time) error {
	if c.Skip {
		return nil
	}
	body, err := sonic.Marshal(Notification{
		Type:      "attendance",
		StudentID: studentID,
		Status:    string(status),
		Time:      at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notifications/attendance", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("notification gateway error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// Health checks if the gateway is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notification gateway unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway unhealthy: %s", resp.Status)
	}
	return nil
}
