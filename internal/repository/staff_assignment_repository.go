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

const assignmentColumns = `id, event_id, user_id, assignment_role, status, requested_by, created_at, updated_at`

// StaffAssignmentRepository persists teacher staffing requests.
type StaffAssignmentRepository struct {
	db *sqlx.DB
}

// NewStaffAssignmentRepository constructs the repository.
func NewStaffAssignmentRepository(db *sqlx.DB) *StaffAssignmentRepository {
	return &StaffAssignmentRepository{db: db}
}

func (r *StaffAssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Exists reports whether any assignment, in any status, links the event and user.
func (r *StaffAssignmentRepository) Exists(ctx context.Context, exec sqlx.ExtContext, eventID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM event_staff WHERE event_id = $1 AND user_id = $2)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, eventID, userID); err != nil {
		return false, fmt.Errorf("check staff assignment: %w", err)
	}
	return exists, nil
}

// Create inserts a new assignment.
func (r *StaffAssignmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.StaffAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now

	const query = `INSERT INTO event_staff (id, event_id, user_id, assignment_role, status, requested_by, created_at, updated_at) VALUES (:id, :event_id, :user_id, :assignment_role, :status, :requested_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, assignment); err != nil {
		return fmt.Errorf("create staff assignment: %w", err)
	}
	return nil
}

// FindForUserForUpdate loads an assignment owned by userID in the given
// status and locks it.
func (r *StaffAssignmentRepository) FindForUserForUpdate(ctx context.Context, exec sqlx.ExtContext, id, userID string, status models.AssignmentStatus) (*models.StaffAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM event_staff WHERE id = $1 AND user_id = $2 AND status = $3 FOR UPDATE`
	var assignment models.StaffAssignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &assignment, query, id, userID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find staff assignment: %w", err)
	}
	return &assignment, nil
}

// Transition moves a user's assignment from one status to another in a
// single statement. It returns sql.ErrNoRows when no row matched.
func (r *StaffAssignmentRepository) Transition(ctx context.Context, exec sqlx.ExtContext, id, userID string, from, to models.AssignmentStatus) error {
	const query = `UPDATE event_staff SET status = $4, updated_at = $5 WHERE id = $1 AND user_id = $2 AND status = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, id, userID, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition staff assignment: %w", err)
	}
	return requireAffected(res)
}

// DeleteForUser removes a user's assignment in the given status.
func (r *StaffAssignmentRepository) DeleteForUser(ctx context.Context, exec sqlx.ExtContext, id, userID string, status models.AssignmentStatus) error {
	const query = `DELETE FROM event_staff WHERE id = $1 AND user_id = $2 AND status = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, id, userID, status)
	if err != nil {
		return fmt.Errorf("delete staff assignment: %w", err)
	}
	return requireAffected(res)
}

// DeleteFromEvent removes one assignment belonging to eventID.
func (r *StaffAssignmentRepository) DeleteFromEvent(ctx context.Context, exec sqlx.ExtContext, eventID, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM event_staff WHERE id = $1 AND event_id = $2`, id, eventID)
	if err != nil {
		return fmt.Errorf("remove event staff: %w", err)
	}
	return requireAffected(res)
}

// DeleteByEvent removes every assignment of an event.
func (r *StaffAssignmentRepository) DeleteByEvent(ctx context.Context, exec sqlx.ExtContext, eventID string) (int64, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM event_staff WHERE event_id = $1`, eventID)
	if err != nil {
		return 0, fmt.Errorf("delete event staff: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByUser removes every assignment of a user.
func (r *StaffAssignmentRepository) DeleteByUser(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM event_staff WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user staff assignments: %w", err)
	}
	return res.RowsAffected()
}

// ListApprovedBookings returns the event windows of a teacher's approved
// assignments.
func (r *StaffAssignmentRepository) ListApprovedBookings(ctx context.Context, exec sqlx.ExtContext, userID string) ([]models.Booking, error) {
	const query = `SELECT e.id, e.name, e.start_time, e.end_time
FROM event_staff s JOIN events e ON e.id = s.event_id
WHERE s.user_id = $1 AND s.status = $2
ORDER BY e.start_time ASC`
	var bookings []models.Booking
	if err := sqlx.SelectContext(ctx, r.exec(exec), &bookings, query, userID, models.AssignmentApproved); err != nil {
		return nil, fmt.Errorf("list approved assignments: %w", err)
	}
	return bookings, nil
}

// ListApprovedStaff returns the users approved to staff an event, ordered by
// id so callers lock them in a stable order.
func (r *StaffAssignmentRepository) ListApprovedStaff(ctx context.Context, exec sqlx.ExtContext, eventID string) ([]string, error) {
	const query = `SELECT user_id FROM event_staff WHERE event_id = $1 AND status = $2 ORDER BY user_id ASC`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, eventID, models.AssignmentApproved); err != nil {
		return nil, fmt.Errorf("list approved event staff: %w", err)
	}
	return ids, nil
}

// ListForUser returns a teacher's assignments in status, oldest first.
func (r *StaffAssignmentRepository) ListForUser(ctx context.Context, userID string, status models.AssignmentStatus) ([]models.StaffAssignmentView, error) {
	const query = `SELECT s.id, s.event_id, s.user_id, s.assignment_role, s.status, s.requested_by, s.created_at, s.updated_at,
e.name AS event_name, e.start_time AS event_start, e.end_time AS event_end, v.name AS venue_name
FROM event_staff s
JOIN events e ON e.id = s.event_id
LEFT JOIN venues v ON v.id = e.venue_id
WHERE s.user_id = $1 AND s.status = $2
ORDER BY s.created_at ASC, s.id ASC`
	views := []models.StaffAssignmentView{}
	if err := sqlx.SelectContext(ctx, r.db, &views, query, userID, status); err != nil {
		return nil, fmt.Errorf("list staff assignments: %w", err)
	}
	return views, nil
}
