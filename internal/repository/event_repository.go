package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-events-api/internal/models"
)

const eventColumns = `e.id, e.college_id, e.forum_id, e.organizer_id, e.venue_id, e.name, e.description, e.start_time, e.end_time, e.status, e.created_at, e.updated_at`

// EventRepository persists events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs an event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

type eventRow struct {
	models.Event
	VenueName     sql.NullString `db:"venue_name"`
	VenueLocation sql.NullString `db:"venue_location"`
}

func (row eventRow) detail() models.EventDetail {
	detail := models.EventDetail{Event: row.Event}
	if row.HasVenue() && row.VenueName.Valid {
		detail.Venue = &models.VenueSummary{
			ID:       *row.VenueID,
			Name:     row.VenueName.String,
			Location: row.VenueLocation.String,
		}
	}
	return detail
}

// Create inserts an event.
func (r *EventRepository) Create(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	const query = `INSERT INTO events (id, college_id, forum_id, organizer_id, venue_id, name, description, start_time, end_time, status, created_at, updated_at) VALUES (:id, :college_id, :forum_id, :organizer_id, :venue_id, :name, :description, :start_time, :end_time, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// FindByIDForUpdate returns an event scoped to its college and locks its row.
func (r *EventRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1 AND e.college_id = $2 FOR UPDATE`
	var event models.Event
	if err := sqlx.GetContext(ctx, r.exec(exec), &event, query, id, collegeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &event, nil
}

// FindByIDAnyCollege returns an event without tenant scoping so callers can
// tell a missing event from one owned by another college.
func (r *EventRepository) FindByIDAnyCollege(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1`
	var event models.Event
	if err := sqlx.GetContext(ctx, r.exec(exec), &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &event, nil
}

// FindDetail returns an event joined with its venue.
func (r *EventRepository) FindDetail(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) (*models.EventDetail, error) {
	query := `SELECT ` + eventColumns + `, v.name AS venue_name, v.location AS venue_location
FROM events e LEFT JOIN venues v ON v.id = e.venue_id
WHERE e.id = $1 AND e.college_id = $2`
	var row eventRow
	if err := sqlx.GetContext(ctx, r.exec(exec), &row, query, id, collegeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find event detail: %w", err)
	}
	detail := row.detail()
	return &detail, nil
}

// ListByCollege returns every event of a college ordered by start time.
func (r *EventRepository) ListByCollege(ctx context.Context, collegeID string) ([]models.EventDetail, error) {
	query := `SELECT ` + eventColumns + `, v.name AS venue_name, v.location AS venue_location
FROM events e LEFT JOIN venues v ON v.id = e.venue_id
WHERE e.college_id = $1
ORDER BY e.start_time ASC, e.id ASC`
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, collegeID); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	details := make([]models.EventDetail, 0, len(rows))
	for _, row := range rows {
		details = append(details, row.detail())
	}
	return details, nil
}

// ListVenueBookings returns the confirmed events occupying a venue, leaving
// out excludeID so an event never conflicts with itself.
func (r *EventRepository) ListVenueBookings(ctx context.Context, exec sqlx.ExtContext, venueID, excludeID string) ([]models.Booking, error) {
	const query = `SELECT id, name, start_time, end_time FROM events
WHERE venue_id = $1 AND status = $2 AND id <> $3
ORDER BY start_time ASC`
	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.exec(exec), &bookings, query, venueID, models.EventStatusConfirmed, excludeID); err != nil {
		return nil, fmt.Errorf("list venue bookings: %w", err)
	}
	return bookings, nil
}

// Update persists the mutable fields of an event.
func (r *EventRepository) Update(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	event.UpdatedAt = time.Now().UTC()
	const query = `UPDATE events SET venue_id = :venue_id, name = :name, description = :description, start_time = :start_time, end_time = :end_time, status = :status, updated_at = :updated_at WHERE id = :id AND college_id = :college_id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireAffected(res)
}

// Delete removes an event. Staff assignments must be removed first.
func (r *EventRepository) Delete(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM events WHERE id = $1 AND college_id = $2`, id, collegeID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return requireAffected(res)
}
