package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fplust/bilibili-live-danmu/internal/archive"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Uptime    string `json:"uptime"`
}

// EventsResponse is returned by GET /api/v1/events.
type EventsResponse struct {
	Count  int              `json:"count"`
	Events []archive.Record `json:"events"`
}

// handleHealth reports "ok" while a session is connected, "degraded" otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.tracker.Status()
	resp := HealthResponse{
		Status:    "ok",
		Connected: status.Connected,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if !status.Connected {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Status())
}

// handleEvents handles GET /api/v1/events?limit=N&kind=chat
func (s *Server) handleEvents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "archive disabled"})
		return
	}

	limit := archive.DefaultRecentLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Message: v})
			return
		}
		limit = n
	}

	kind := c.Query("kind")
	if kind != "" {
		if _, ok := event.ParseKind(kind); !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid kind", Message: kind})
			return
		}
	}

	records, err := s.store.Recent(c.Request.Context(), limit, kind)
	if err != nil {
		s.logger.Warn("failed to query events", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to query events"})
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	c.JSON(http.StatusOK, EventsResponse{Count: len(records), Events: records})
}

func (s *Server) handleEventCounts(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "archive disabled"})
		return
	}
	counts, err := s.store.CountByKind(c.Request.Context())
	if err != nil {
		s.logger.Warn("failed to count events", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to count events"})
		return
	}
	c.JSON(http.StatusOK, counts)
}
