package domain

import "time"

// RSVPResponse is an invitee's answer.
type RSVPResponse string

const (
	RSVPGoing    RSVPResponse = "going"
	RSVPNotGoing RSVPResponse = "not-going"
)

// Valid reports whether r is a known response.
func (r RSVPResponse) Valid() bool {
	return r == RSVPGoing || r == RSVPNotGoing
}

// Event is an organizer-created event. Category and Unit are generic attributes.
type Event struct {
	ID           string     `gorm:"type:text;primaryKey" json:"_id"`
	Name         string     `gorm:"type:text;not null;index:idx_events_name" json:"name"`
	About        string     `gorm:"type:text" json:"about"`
	Location     string     `gorm:"type:text" json:"location"`
	Category     string     `gorm:"type:text" json:"category"`
	Capacity     int        `json:"capacity"`
	Unit         string     `gorm:"type:text" json:"unit"`
	StartAt      *time.Time `json:"startAt,omitempty"`
	EndAt        *time.Time `json:"endAt,omitempty"`
	ProfileImage string     `gorm:"type:text" json:"profileImage"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Event) TableName() string {
	return "events"
}

// RSVP is a response to an Event. An event's RSVP set is derived by query.
type RSVP struct {
	ID        string       `gorm:"type:text;primaryKey" json:"_id"`
	EventID   string       `gorm:"type:text;not null;index:idx_rsvps_event" json:"eventId"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     string       `gorm:"type:text;not null" json:"email"`
	Phone     string       `gorm:"type:text" json:"phone"`
	Response  RSVPResponse `gorm:"type:text;not null" json:"response"`
	CreatedAt time.Time    `json:"createdAt"`
}

// TableName returns the GORM table name.
func (RSVP) TableName() string {
	return "rsvps"
}

// RSVPSummary counts responses for one event.
type RSVPSummary struct {
	EventID  string `json:"eventId"`
	Going    int64  `json:"going"`
	NotGoing int64  `json:"notGoing"`
	Capacity int    `json:"capacity"`
}
