// Package handler exposes the visitor operations over HTTP/JSON.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"visitorlog/internal/apperr"
	"visitorlog/internal/audit"
	"visitorlog/internal/auth"
	"visitorlog/internal/checkin"
	"visitorlog/internal/importer"
	"visitorlog/internal/presence"
	"visitorlog/internal/retention"
	"visitorlog/internal/roster"
	"visitorlog/internal/search"
)

// AuditLog lists persisted audit events.
type AuditLog interface {
	ListAudit(ctx context.Context, limit int) ([]audit.Event, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services behind the routes.
type Deps struct {
	CheckIn    *checkin.Service
	Tracker    *presence.Tracker
	Search     *search.Ranker
	Importer   *importer.Reconciler
	Purger     *retention.Purger
	Roster     *roster.Roster
	Auth       *auth.Service
	Audit      AuditLog
	Health     map[string]HealthCheck
	Location   *time.Location
	SigningKey string
	Issuer     string
	// Limiter runs after authentication so callers are keyed by token subject.
	Limiter gin.HandlerFunc
	Logger  *slog.Logger
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Limiter == nil {
		d.Limiter = func(c *gin.Context) { c.Next() }
	}
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.healthz)

	r.POST("/v1/auth/admin", h.adminToken)
	r.POST("/v1/auth/refresh", h.refreshToken)

	bearer := auth.Bearer(h.SigningKey, h.Issuer)

	kiosk := r.Group("/v1", bearer, h.Limiter, auth.RequireRole(auth.RoleKiosk, auth.RoleAdmin))
	kiosk.POST("/checkins", h.checkIn)
	kiosk.POST("/checkins/orientation", h.completeOrientation)
	kiosk.POST("/checkouts", h.checkOut)
	kiosk.GET("/presence", h.listPresent)
	kiosk.GET("/visitors/search", h.search)

	admin := r.Group("/v1/admin", bearer, h.Limiter, auth.RequireRole(auth.RoleAdmin))
	admin.POST("/devices", h.registerDevice)
	admin.GET("/visitors/:id", h.getVisitor)
	admin.PUT("/visitors/:id/training", h.setTrainingDate)
	admin.GET("/compliance", h.complianceReport)
	admin.GET("/visits", h.visitHistory)
	admin.POST("/imports/training", h.importTraining)
	admin.POST("/purge", h.runPurge)
	admin.GET("/audit", h.listAudit)
}

// fail writes err with the status for its kind. Unknown failures are logged
// and reported as "internal error".
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrDuplicatePresence), errors.Is(err, apperr.ErrNotPresent):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.Logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
