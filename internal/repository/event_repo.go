package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/eventgallery/internal/domain"
	"gorm.io/gorm"
)

// EventRepository handles event and RSVP persistence.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventFilter narrows List. Query matches name or location, case-insensitively.
type EventFilter struct {
	Query    string
	Category string
	Page     int
	PageSize int
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, ev *domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	return storeErr("event.create", r.db.WithContext(ctx).Create(ev).Error)
}

// Get retrieves an event by id.
func (r *EventRepository) Get(ctx context.Context, id string) (*domain.Event, error) {
	var ev domain.Event
	if err := r.db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, storeErr("event.get", err)
	}
	return &ev, nil
}

// List returns events matching f ordered by start time, then name.
func (r *EventRepository) List(ctx context.Context, f EventFilter) ([]domain.Event, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Event{})
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(location) LIKE ?", like, like)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeErr("event.list", err)
	}

	if f.Page < 1 {
		f.Page = 1
	}
	var events []domain.Event
	err := q.Order("start_at ASC").Order("name ASC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&events).Error
	if err != nil {
		return nil, 0, storeErr("event.list", err)
	}
	return events, total, nil
}

// Update overwrites the mutable fields of an existing event.
func (r *EventRepository) Update(ctx context.Context, ev *domain.Event) error {
	res := r.db.WithContext(ctx).Model(&domain.Event{}).
		Where("id = ?", ev.ID).
		Select("name", "about", "location", "category", "capacity", "unit",
			"start_at", "end_at", "profile_image", "updated_at").
		Updates(map[string]interface{}{
			"name":          ev.Name,
			"about":         ev.About,
			"location":      ev.Location,
			"category":      ev.Category,
			"capacity":      ev.Capacity,
			"unit":          ev.Unit,
			"start_at":      ev.StartAt,
			"end_at":        ev.EndAt,
			"profile_image": ev.ProfileImage,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return storeErr("event.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "event.update", "event %s not found", ev.ID)
	}
	return nil
}

// Delete removes an event and its RSVPs in one transaction.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&domain.RSVP{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Event{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Errorf(domain.KindNotFound, "event.delete", "event %s not found", id)
		}
		return nil
	})
	return storeErr("event.delete", err)
}

// CreateRSVP records a response for an existing event.
func (r *EventRepository) CreateRSVP(ctx context.Context, rsvp *domain.RSVP) error {
	if rsvp.ID == "" {
		rsvp.ID = uuid.New().String()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Event{}).Where("id = ?", rsvp.EventID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.Errorf(domain.KindNotFound, "rsvp.create", "event %s not found", rsvp.EventID)
		}
		return tx.Create(rsvp).Error
	})
	return storeErr("rsvp.create", err)
}

// ListRSVPs returns an event's RSVPs, oldest first.
func (r *EventRepository) ListRSVPs(ctx context.Context, eventID string) ([]domain.RSVP, error) {
	var rsvps []domain.RSVP
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC, id ASC").
		Find(&rsvps).Error
	if err != nil {
		return nil, storeErr("rsvp.list", err)
	}
	return rsvps, nil
}

// CountRSVPs returns response counts for an event keyed by response.
func (r *EventRepository) CountRSVPs(ctx context.Context, eventID string) (map[domain.RSVPResponse]int64, error) {
	var rows []struct {
		Response domain.RSVPResponse
		Total    int64
	}
	err := r.db.WithContext(ctx).Model(&domain.RSVP{}).
		Select("response, COUNT(*) AS total").
		Where("event_id = ?", eventID).
		Group("response").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("rsvp.count", err)
	}
	out := make(map[domain.RSVPResponse]int64, len(rows))
	for _, row := range rows {
		out[row.Response] = row.Total
	}
	return out, nil
}
