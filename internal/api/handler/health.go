package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/eventgallery/internal/index"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db    Pinger
	index index.Index
	model string
}

// NewHealthHandler creates a new health handler. db and idx may be nil.
func NewHealthHandler(db Pinger, idx index.Index, model string) *HealthHandler {
	return &HealthHandler{db: db, index: idx, model: model}
}

// Health reports service status, the extractor model and the index size.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if h.model != "" {
		body["extractor"] = h.model
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}
	if h.index != nil {
		n, err := h.index.Len(ctx)
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["index"] = err.Error()
		} else {
			body["indexed"] = n
			body["dimensions"] = h.index.Dimensions()
		}
	}

	c.JSON(status, body)
}
