// Package handler exposes the device push endpoints and the admin API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/civiltime"
	"schoolattend/internal/device"
	"schoolattend/internal/httpmiddleware"
	"schoolattend/internal/queue"
	"schoolattend/internal/settings"
)

// DeviceRegistry records terminal check-ins.
type DeviceRegistry interface {
	TouchDevice(ctx context.Context, serial string) error
}

// Sweeper runs the absence sweep on demand.
type Sweeper interface {
	Run(ctx context.Context) (int, error)
}

// HealthCheck reports one dependency's reachability.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// AuthConfig configures admin token issue and verification.
type AuthConfig struct {
	Issuer      string
	SigningKey  string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	AdminAPIKey string
}

// Handler holds every HTTP collaborator.
type Handler struct {
	Clock     *civiltime.Normalizer
	Parser    *device.Parser
	Queue     queue.Queue
	Devices   DeviceRegistry
	Settings  *settings.Service
	Rollup    *attendance.Rollup
	Corrector *attendance.Corrector
	Sweeper   Sweeper
	Auth      AuthConfig
	RateLimit int
	Health    []HealthCheck
	Logger    *slog.Logger

	bookkeeping sync.WaitGroup
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Router builds the gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/iclock/getrequest", "/iclock/ping"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	for _, path := range []string{"/iclock/cdata", "/iclock/cdata.aspx", "/api/attendance/webhook", "/webhook/attendance"} {
		r.GET(path, h.Push)
		r.POST(path, h.Push)
	}
	for _, path := range []string{"/iclock/getrequest", "/iclock/getrequest.aspx", "/iclock/ping"} {
		r.GET(path, h.Ping)
	}
	r.Any("/iclock/registry", h.Registry)
	r.Any("/iclock/registry.aspx", h.Registry)

	v1 := r.Group("/v1",
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
			MaxAge:          12 * time.Hour,
		}),
		securityHeaders(),
		httpmiddleware.NewSimpleTokenBucket(h.RateLimit, h.RateLimit).GinMiddleware(),
	)
	v1.POST("/admin/token", h.IssueToken)
	v1.POST("/admin/token/refresh", h.RefreshToken)

	admin := v1.Group("", auth.RequireRole(auth.RoleAdmin, h.Auth.SigningKey, h.Auth.Issuer))
	admin.GET("/settings/attendance", h.GetSettings)
	admin.PATCH("/settings/attendance", h.PatchSettings)
	admin.GET("/classes/:classID/summary", h.ClassSummary)
	admin.POST("/students/:studentID/attendance/correct", h.CorrectStudent)
	admin.POST("/attendance/sweep", h.RunSweep)

	return r
}

// Healthz reports each dependency; any failure turns the status to 503.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.Health {
		healthy := hc.Check(ctx) == nil
		body[hc.Name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
