package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/device"
	"schoolattend/internal/metrics"
	"schoolattend/internal/queue"
)

const (
	maxPushBody    = 1 << 20
	publishTimeout = 3 * time.Second
)

// deviceOK is the only answer a terminal ever gets.
func deviceOK(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Push accepts a scan push. Parsing happens inline; resolution and
// reconciliation happen after the scan is queued, so the device is answered
// regardless of their outcome.
func (h *Handler) Push(c *gin.Context) {
	logger := h.logger().With("path", c.FullPath(), "remote", c.ClientIP())

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		logger.Warn("read device push failed", "error", err)
		deviceOK(c)
		return
	}

	res, err := h.Parser.Parse(device.FromRequest(c.Request, body))
	if err != nil {
		metrics.ScansReceived.WithLabelValues("invalid").Inc()
		logger.Warn("unparseable device push", "error", err, "body", truncate(string(body), 256))
		deviceOK(c)
		return
	}
	metrics.ScansReceived.WithLabelValues(res.Format).Inc()
	evt := res.Event
	logger = logger.With("code", evt.SubjectCode, "device", evt.DeviceSerial, "format", res.Format)

	// The request context ends with the response; queueing must outlive it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), publishTimeout)
	defer cancel()

	msg, err := queue.NewScanMessage(evt)
	if err == nil {
		err = h.Queue.Publish(ctx, msg)
	}
	if err != nil {
		metrics.QueuePublishFailures.Inc()
		logger.Error("scan publish failed", "error", err)
	} else {
		logger.Debug("scan queued", "scan", evt.Timestamp, "table", res.Table)
	}
	deviceOK(c)
	h.touchDevice(c.Request.Context(), evt.DeviceSerial)
}

// Ping answers terminal heartbeats.
func (h *Handler) Ping(c *gin.Context) {
	deviceOK(c)
	h.touchDevice(c.Request.Context(), serialFromQuery(c))
}

// Registry answers terminal registration calls and logs what the terminal
// reported about itself.
func (h *Handler) Registry(c *gin.Context) {
	serial := serialFromQuery(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		h.logger().Warn("read device registry failed", "device", serial, "error", err)
	}
	h.logger().Info("device registry",
		"device", serial,
		"remote", c.ClientIP(),
		"query", truncate(c.Request.URL.RawQuery, 512),
		"body", truncate(string(body), 1024),
	)
	deviceOK(c)
	h.touchDevice(c.Request.Context(), serial)
}

func serialFromQuery(c *gin.Context) string {
	if serial := c.Query("SN"); serial != "" {
		return serial
	}
	return c.Query("sn")
}

// touchDevice records a check-in off the response path. Wait blocks until
// outstanding writes finish.
func (h *Handler) touchDevice(ctx context.Context, serial string) {
	if serial == "" || h.Devices == nil {
		return
	}
	logger := h.logger()
	detached := context.WithoutCancel(ctx)
	h.bookkeeping.Add(1)
	go func() {
		defer h.bookkeeping.Done()
		tctx, cancel := context.WithTimeout(detached, publishTimeout)
		defer cancel()
		if err := h.Devices.TouchDevice(tctx, serial); err != nil {
			logger.Debug("device bookkeeping failed", "device", serial, "error", err)
		}
	}()
}

// Wait blocks until detached device bookkeeping has finished.
func (h *Handler) Wait() { h.bookkeeping.Wait() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
