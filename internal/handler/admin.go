package handler

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"visitorlog/internal/apperr"
	"visitorlog/internal/auth"
	"visitorlog/internal/model"
)

const maxImportBytes = 5 << 20

func (h *Handler) adminToken(c *gin.Context) {
	var req struct {
		APIKey string `json:"api_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	tokens, err := h.Auth.AdminToken(c.Request.Context(), req.APIKey)
	switch {
	case errors.Is(err, auth.ErrAdminDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

func (h *Handler) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}
	tokens, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}
	tokens, err := h.Auth.RegisterDevice(c.Request.Context(), req.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

func (h *Handler) getVisitor(c *gin.Context) {
	detail, err := h.Roster.Visitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) setTrainingDate(c *gin.Context) {
	var req struct {
		TrainingDate string `json:"training_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("invalid request body"))
		return
	}
	detail, err := h.Roster.SetTrainingDate(c.Request.Context(), c.Param("id"), req.TrainingDate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) complianceReport(c *gin.Context) {
	entries, err := h.Roster.ComplianceReport(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "contractors": entries})
}

// visitHistory serves the visit report as JSON, or as CSV with format=csv.
// from and to are inclusive calendar days in the site time zone.
func (h *Handler) visitHistory(c *gin.Context) {
	f := model.VisitFilter{VisitorID: c.Query("visitor_id")}
	if v := c.Query("from"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, h.Location)
		if err != nil {
			h.fail(c, apperr.Validation("from must be YYYY-MM-DD"))
			return
		}
		f.From = d
	}
	if v := c.Query("to"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, h.Location)
		if err != nil {
			h.fail(c, apperr.Validation("to must be YYYY-MM-DD"))
			return
		}
		f.To = d.AddDate(0, 0, 1)
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(c, apperr.Validation("limit must be a non-negative number"))
			return
		}
		f.Limit = n
	}

	visits, err := h.Tracker.History(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !strings.EqualFold(c.Query("format"), "csv") {
		c.JSON(http.StatusOK, gin.H{"count": len(visits), "visits": visits})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="visits.csv"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"visitor_id", "name", "company", "visitor_type", "checked_in_at", "checked_out_at", "duration_minutes"})
	for _, v := range visits {
		out := ""
		if v.CheckedOutAt != nil {
			out = v.CheckedOutAt.In(h.Location).Format(time.RFC3339)
		}
		_ = w.Write([]string{
			v.VisitorID,
			v.Visitor.Name,
			v.Visitor.Company,
			string(v.Visitor.Type),
			v.CheckedInAt.In(h.Location).Format(time.RFC3339),
			out,
			strconv.Itoa(v.DurationMinutes),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.Logger.Error("write visit csv failed", "error", err)
	}
}

// importTraining accepts the CSV as a multipart "file" field or as the raw body.
func (h *Handler) importTraining(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)

	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, _, ferr := c.Request.FormFile("file")
		if ferr != nil {
			h.fail(c, apperr.Validation("file field required"))
			return
		}
		defer file.Close()
		raw, err = io.ReadAll(file)
	} else {
		raw, err = io.ReadAll(c.Request.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		h.fail(c, apperr.Validation("could not read upload"))
		return
	}
	if len(raw) == 0 {
		h.fail(c, apperr.Validation("file is empty"))
		return
	}
	c.JSON(http.StatusOK, h.Importer.Import(c.Request.Context(), raw))
}

func (h *Handler) runPurge(c *gin.Context) {
	rep, err := h.Purger.Run(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) listAudit(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(c, apperr.Validation("limit must be a positive number"))
			return
		}
		limit = n
	}
	events, err := h.Audit.ListAudit(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
