package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventStatusDraft           EventStatus = "draft"
	EventStatusPendingApproval EventStatus = "pending_approval"
	EventStatusConfirmed       EventStatus = "confirmed"
	EventStatusCancelled       EventStatus = "cancelled"
)

// Event is a scheduled happening organised by a forum. The interval
// [StartTime, EndTime) is half-open.
type Event struct {
	ID          string      `db:"id" json:"id"`
	CollegeID   string      `db:"college_id" json:"college_id"`
	ForumID     string      `db:"forum_id" json:"forum_id"`
	OrganizerID string      `db:"organizer_id" json:"organizer_id"`
	VenueID     *string     `db:"venue_id" json:"venue_id"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	StartTime   time.Time   `db:"start_time" json:"start_time"`
	EndTime     time.Time   `db:"end_time" json:"end_time"`
	Status      EventStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// HasVenue reports whether the event is bound to a venue.
func (e *Event) HasVenue() bool {
	return e.VenueID != nil && *e.VenueID != ""
}

// VenueSummary is the minimal venue projection returned with events.
type VenueSummary struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Location string `db:"location" json:"location,omitempty"`
}

// EventDetail is an event with its venue resolved.
type EventDetail struct {
	Event
	Venue *VenueSummary `json:"venue,omitempty"`
}

// Venue is a bookable space inside a college.
type Venue struct {
	ID        string `db:"id" json:"id"`
	CollegeID string `db:"college_id" json:"college_id"`
	Name      string `db:"name" json:"name"`
	Capacity  int    `db:"capacity" json:"capacity"`
	Location  string `db:"location" json:"location"`
}

// CreateEventRequest is the payload for creating an event.
type CreateEventRequest struct {
	ForumID     string    `json:"forum_id" validate:"required"`
	VenueID     *string   `json:"venue_id"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=4000"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required"`
}

// UpdateEventRequest carries a partial update. Nil fields keep the stored value.
type UpdateEventRequest struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string        `json:"description" validate:"omitempty,max=4000"`
	StartTime   *time.Time     `json:"start_time"`
	EndTime     *time.Time     `json:"end_time"`
	VenueID     OptionalString `json:"venue_id"`
}

// OptionalString distinguishes an absent JSON field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON records presence and accepts null or a string.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// MarshalJSON renders the value or null.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// Booking is the slice of an event the conflict checker needs.
type Booking struct {
	ID        string    `db:"id" json:"event_id"`
	Name      string    `db:"name" json:"event_name"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
}

// Conflict dimensions.
const (
	ConflictDimensionVenue   = "venue"
	ConflictDimensionTeacher = "teacher"
)

// BookingConflict is attached to conflict errors to name the clashing event.
type BookingConflict struct {
	Dimension string    `json:"dimension"`
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}
