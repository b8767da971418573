package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/civiltime"
	"schoolattend/internal/settings"
)

// IssueToken exchanges the admin API key for a token pair.
func (h *Handler) IssueToken(c *gin.Context) {
	var req struct {
		APIKey  string `json:"api_key" binding:"required"`
		Subject string `json:"subject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Auth.AdminAPIKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin api disabled"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.Auth.AdminAPIKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = auth.RoleAdmin
	}

	h.issuePair(c, subject)
}

// RefreshToken exchanges a valid admin refresh token for a new pair.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, h.Auth.SigningKey, h.Auth.Issuer)
	if err != nil || claims.Role != auth.RoleAdmin {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.issuePair(c, claims.Subject)
}

func (h *Handler) issuePair(c *gin.Context, subject string) {
	tokens, err := auth.Issue(subject, auth.RoleAdmin, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.AccessTTL, h.Auth.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":       tokens.AccessToken,
		"refresh_token":      tokens.RefreshToken,
		"expires_at":         tokens.AccessExp.Unix(),
		"refresh_expires_at": tokens.RefreshExp.Unix(),
	})
}

// GetSettings returns the current thresholds.
func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.Settings.Current(c.Request.Context())
	if err != nil {
		h.logger().Error("load settings failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// PatchSettings applies a partial update. Change hooks reschedule the sweep.
func (h *Handler) PatchSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.Settings.Update(c.Request.Context(), patch)
	if errors.Is(err, settings.ErrInvalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger().Error("update settings failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings update failed"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// ClassSummary returns the rollup for ?date=YYYY-MM-DD, today by default.
func (h *Handler) ClassSummary(c *gin.Context) {
	day, ok := h.dayParam(c, c.Query("date"))
	if !ok {
		return
	}
	summary, err := h.Rollup.Summary(c.Request.Context(), c.Param("classID"), day)
	if err != nil {
		h.logger().Error("class summary failed", "class_id", c.Param("classID"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// CorrectStudent manually sets a student's status for a day.
func (h *Handler) CorrectStudent(c *gin.Context) {
	var req struct {
		Date   string                   `json:"date"`
		Status attendance.StudentStatus `json:"status" binding:"required,oneof=Present Absent Late EarlyLeave Permission"`
		Reason string                   `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	day, ok := h.dayParam(c, req.Date)
	if !ok {
		return
	}
	modifiedBy := ""
	if claims, ok := auth.ClaimsFrom(c); ok {
		modifiedBy = claims.Subject
	}

	rec, err := h.Corrector.Apply(c.Request.Context(), attendance.Correction{
		StudentID:  c.Param("studentID"),
		Day:        day,
		Status:     req.Status,
		Reason:     req.Reason,
		ModifiedBy: modifiedBy,
	})
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	case errors.Is(err, attendance.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "record is being updated, retry"})
		return
	case err != nil:
		h.logger().Error("manual correction failed", "student_id", c.Param("studentID"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "correction failed"})
		return
	}
	h.logger().Info("attendance corrected", "student_id", rec.StudentID, "status", rec.Status, "by", modifiedBy)
	c.JSON(http.StatusOK, rec)
}

// RunSweep runs the absence sweep for today.
func (h *Handler) RunSweep(c *gin.Context) {
	n, err := h.Sweeper.Run(c.Request.Context())
	if err != nil {
		h.logger().Error("manual sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": n})
}

func (h *Handler) dayParam(c *gin.Context, date string) (civiltime.Window, bool) {
	if date == "" {
		return h.Clock.DayBounds(h.Clock.Now()), true
	}
	day, err := h.Clock.ParseDay(date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return civiltime.Window{}, false
	}
	return day, true
}
