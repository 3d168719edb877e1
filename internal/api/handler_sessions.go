package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"parking-lot-backend/internal/engine"
)

type makeReservationRequest struct {
	SubscriberID int64     `json:"subscriber_id" binding:"required"`
	Start        time.Time `json:"start" binding:"required"`
	Slots        int       `json:"slots"`
}

// PostReservation handles POST /api/reservations.
func (h *Handler) PostReservation(c *gin.Context) {
	var req makeReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpMakeReservation, engine.MakeReservationRequest{
		SubscriberID: req.SubscriberID,
		Start:        req.Start,
		Slots:        req.Slots,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type walkInRequest struct {
	SubscriberID int64 `json:"subscriber_id" binding:"required"`
}

// PostWalkIn handles POST /api/entries/walk-in.
func (h *Handler) PostWalkIn(c *gin.Context) {
	var req walkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpEnterSpontaneous, engine.EnterSpontaneousRequest{
		SubscriberID: req.SubscriberID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type checkInRequest struct {
	Code string `json:"code" binding:"required"`
}

// PostCheckIn handles POST /api/entries/check-in.
func (h *Handler) PostCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpEnterWithReservation, engine.EnterWithReservationRequest{
		Code: req.Code,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type exitRequest struct {
	SubscriberID int64 `json:"subscriber_id" binding:"required"`
}

// PostExit handles POST /api/sessions/{code}/exit.
func (h *Handler) PostExit(c *gin.Context) {
	var req exitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpExit, engine.ExitRequest{
		Code:         c.Param("code"),
		SubscriberID: req.SubscriberID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type extendRequest struct {
	SubscriberID int64 `json:"subscriber_id" binding:"required"`
	Hours        int   `json:"hours" binding:"required"`
}

// PostExtend handles POST /api/sessions/{code}/extend.
func (h *Handler) PostExtend(c *gin.Context) {
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpExtend, engine.ExtendRequest{
		Code:         c.Param("code"),
		Hours:        req.Hours,
		SubscriberID: req.SubscriberID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type cancelRequest struct {
	SubscriberID int64 `json:"subscriber_id" binding:"required"`
}

// PostCancel handles POST /api/sessions/{code}/cancel. The API surface
// always requires the caller's identity; only the monitor cancels
// without one, and it does not go through HTTP.
func (h *Handler) PostCancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": err.Error()})
		return
	}

	_, err := h.dispatch.Do(c.Request.Context(), engine.OpCancel, engine.CancelRequest{
		Code:         c.Param("code"),
		SubscriberID: &req.SubscriberID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// GetHistory handles GET /api/subscribers/{id}/sessions.
func (h *Handler) GetHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": "invalid subscriber id"})
		return
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpHistory, engine.HistoryRequest{
		SubscriberID: id,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
