package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/service"
)

// EventHandler serves event and RSVP endpoints. Replies use the
// {success, message, data} envelope the client expects.
type EventHandler struct {
	events *service.EventService
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events *service.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// EventList is the data of GET /api/events.
type EventList struct {
	Events     []domain.Event `json:"events"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination describes a page of a listing.
type Pagination struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

func bindError(c *gin.Context, op string, err error) {
	respondEnvelopeError(c, domain.E(domain.KindInvalidRequest, op, err))
}

// ListEvents handles GET /api/events?search=&category=&page=&page_size=.
func (h *EventHandler) ListEvents(c *gin.Context) {
	var q service.EventListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, "events.list", err)
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}

	events, total, err := h.events.List(c.Request.Context(), q)
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusOK, "", EventList{
		Events:     events,
		Pagination: Pagination{Total: total, Page: q.Page, PageSize: len(events)},
	})
}

// CreateEvent handles POST /api/events.
func (h *EventHandler) CreateEvent(c *gin.Context) {
	var in service.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, "events.create", err)
		return
	}
	ev, err := h.events.Create(c.Request.Context(), &in)
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusCreated, "Event created", ev)
}

// GetEvent handles GET /api/events/:id.
func (h *EventHandler) GetEvent(c *gin.Context) {
	ev, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusOK, "", ev)
}

// UpdateEvent handles PUT /api/events/:id.
func (h *EventHandler) UpdateEvent(c *gin.Context) {
	var in service.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, "events.update", err)
		return
	}
	ev, err := h.events.Update(c.Request.Context(), c.Param("id"), &in)
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusOK, "Event updated", ev)
}

// DeleteEvent handles DELETE /api/events/:id.
func (h *EventHandler) DeleteEvent(c *gin.Context) {
	if err := h.events.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusOK, "Event deleted", nil)
}

// CreateRSVP handles POST /api/events/:id/rsvps and POST /api/rsvps. The
// latter takes the event id from the body.
func (h *EventHandler) CreateRSVP(c *gin.Context) {
	var in service.RSVPInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, "rsvps.create", err)
		return
	}
	eventID := c.Param("id")
	if eventID == "" {
		eventID = in.EventID
	}
	if eventID == "" {
		respondEnvelopeError(c, domain.Errorf(domain.KindInvalidRequest, "rsvps.create", "eventId is required"))
		return
	}

	rsvp, err := h.events.SubmitRSVP(c.Request.Context(), eventID, &in)
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusCreated, "RSVP recorded", rsvp)
}

// ListRSVPs handles GET /api/events/:id/rsvps.
func (h *EventHandler) ListRSVPs(c *gin.Context) {
	rsvps, err := h.events.ListRSVPs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusOK, "", rsvps)
}

// RSVPSummary handles GET /api/events/:id/rsvps/summary.
func (h *EventHandler) RSVPSummary(c *gin.Context) {
	summary, err := h.events.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEnvelopeError(c, err)
		return
	}
	respondEnvelope(c, http.StatusOK, "", summary)
}
