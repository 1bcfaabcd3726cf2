package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"visitorlog/internal/apperr"
	"visitorlog/internal/auth"
	"visitorlog/internal/checkin"
)

// bindDevice ties the request to the calling kiosk. Admin callers may name any device.
func bindDevice(c *gin.Context, deviceID *string) bool {
	claims, _ := auth.FromContext(c)
	if claims.Role != auth.RoleKiosk {
		return true
	}
	if *deviceID != "" && *deviceID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "device mismatch"})
		return false
	}
	*deviceID = claims.Subject
	return true
}

func (h *Handler) checkIn(c *gin.Context) {
	var req checkin.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("invalid request body"))
		return
	}
	if !bindDevice(c, &req.DeviceID) {
		return
	}
	res, err := h.CheckIn.CheckIn(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.NeedsOrientation {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) completeOrientation(c *gin.Context) {
	var req checkin.OrientationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("invalid request body"))
		return
	}
	if !bindDevice(c, &req.DeviceID) {
		return
	}
	res, err := h.CheckIn.CompleteOrientationAndCheckIn(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) checkOut(c *gin.Context) {
	var req struct {
		VisitorID string `json:"visitor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("invalid request body"))
		return
	}
	rec, err := h.CheckIn.CheckOut(c.Request.Context(), req.VisitorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checked_out": true, "visit": rec})
}

// listPresent backs the dashboard. Loading it also gives the daily retention
// purge a chance to run.
func (h *Handler) listPresent(c *gin.Context) {
	if h.Purger != nil {
		h.Purger.RunOpportunistically(c.Request.Context())
	}
	present, err := h.Tracker.ListCurrentlyPresent(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(present), "visitors": present})
}

func (h *Handler) search(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			h.fail(c, apperr.Validation("limit must be a number"))
			return
		}
		limit = parsed
	}
	results, err := h.Search.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
