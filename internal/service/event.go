package service

import (
	"context"
	"strings"
	"time"

	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/repository"
)

// EventInput carries the writable fields of an event.
type EventInput struct {
	Name         string     `json:"name" binding:"required,max=200"`
	About        string     `json:"about" binding:"max=5000"`
	Location     string     `json:"location" binding:"max=200"`
	Category     string     `json:"category" binding:"max=100"`
	Capacity     int        `json:"capacity" binding:"gte=0"`
	Unit         string     `json:"unit" binding:"max=50"`
	StartAt      *time.Time `json:"startAt"`
	EndAt        *time.Time `json:"endAt"`
	ProfileImage string     `json:"profileImage" binding:"omitempty,url"`
}

// RSVPInput carries an invitee's response.
type RSVPInput struct {
	EventID  string              `json:"eventId"`
	Name     string              `json:"name" binding:"required,max=200"`
	Email    string              `json:"email" binding:"required,email"`
	Phone    string              `json:"phone" binding:"max=40"`
	Response domain.RSVPResponse `json:"response" binding:"required"`
}

// EventListQuery selects a page of events.
type EventListQuery struct {
	Search   string `form:"search"`
	Category string `form:"category"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// EventService manages events and their RSVPs.
type EventService struct {
	repo *repository.EventRepository
}

// NewEventService creates an EventService.
func NewEventService(repo *repository.EventRepository) *EventService {
	return &EventService{repo: repo}
}

func (in *EventInput) validate(op string) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Errorf(domain.KindInvalidRequest, op, "name is required")
	}
	if in.Capacity < 0 {
		return domain.Errorf(domain.KindInvalidRequest, op, "capacity must not be negative")
	}
	if in.StartAt != nil && in.EndAt != nil && in.EndAt.Before(*in.StartAt) {
		return domain.Errorf(domain.KindInvalidRequest, op, "endAt is before startAt")
	}
	return nil
}

func (in *EventInput) apply(ev *domain.Event) {
	ev.Name = in.Name
	ev.About = in.About
	ev.Location = in.Location
	ev.Category = in.Category
	ev.Capacity = in.Capacity
	ev.Unit = in.Unit
	ev.StartAt = in.StartAt
	ev.EndAt = in.EndAt
	ev.ProfileImage = in.ProfileImage
}

// Create adds a new event.
func (s *EventService) Create(ctx context.Context, in *EventInput) (*domain.Event, error) {
	if err := in.validate("event.create"); err != nil {
		return nil, err
	}
	ev := &domain.Event{}
	in.apply(ev)
	if err := s.repo.Create(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Get returns one event.
func (s *EventService) Get(ctx context.Context, id string) (*domain.Event, error) {
	return s.repo.Get(ctx, id)
}

// List returns events matching q and the total match count.
func (s *EventService) List(ctx context.Context, q EventListQuery) ([]domain.Event, int64, error) {
	if q.PageSize <= 0 || q.PageSize > 200 {
		q.PageSize = 50
	}
	return s.repo.List(ctx, repository.EventFilter{
		Query:    q.Search,
		Category: q.Category,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}

// Update replaces the writable fields of an event.
func (s *EventService) Update(ctx context.Context, id string, in *EventInput) (*domain.Event, error) {
	if err := in.validate("event.update"); err != nil {
		return nil, err
	}
	ev := &domain.Event{ID: id}
	in.apply(ev)
	if err := s.repo.Update(ctx, ev); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes an event together with its RSVPs.
func (s *EventService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// SubmitRSVP records a response for an existing event.
func (s *EventService) SubmitRSVP(ctx context.Context, eventID string, in *RSVPInput) (*domain.RSVP, error) {
	const op = "rsvp.submit"
	if !in.Response.Valid() {
		return nil, domain.Errorf(domain.KindInvalidRequest, op,
			"response must be %q or %q", domain.RSVPGoing, domain.RSVPNotGoing)
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" {
		return nil, domain.Errorf(domain.KindInvalidRequest, op, "name and email are required")
	}
	rsvp := &domain.RSVP{
		EventID:  eventID,
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:    strings.TrimSpace(in.Phone),
		Response: in.Response,
	}
	if err := s.repo.CreateRSVP(ctx, rsvp); err != nil {
		return nil, err
	}
	return rsvp, nil
}

// ListRSVPs returns the RSVPs of an existing event.
func (s *EventService) ListRSVPs(ctx context.Context, eventID string) ([]domain.RSVP, error) {
	if _, err := s.repo.Get(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListRSVPs(ctx, eventID)
}

// Summary counts responses for an event.
func (s *EventService) Summary(ctx context.Context, eventID string) (*domain.RSVPSummary, error) {
	ev, err := s.repo.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountRSVPs(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &domain.RSVPSummary{
		EventID:  eventID,
		Going:    counts[domain.RSVPGoing],
		NotGoing: counts[domain.RSVPNotGoing],
		Capacity: ev.Capacity,
	}, nil
}
