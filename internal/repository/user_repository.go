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

const userColumns = `id, college_id, email, password_hash, full_name, role, approval_status, email_verified, created_at, updated_at`

// UserRepository provides database access for college members.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) LIMIT 1`
	var user models.User
	if err := sqlx.GetContext(ctx, r.db, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	return r.findByID(ctx, exec, id, false)
}

// FindByIDForUpdate returns a user and holds a row lock until the transaction ends.
// Staff assignment decisions lock the teacher row to serialise overlap checks.
func (r *UserRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	return r.findByID(ctx, exec, id, true)
}

func (r *UserRepository) findByID(ctx context.Context, exec sqlx.ExtContext, id string, lock bool) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var user models.User
	if err := sqlx.GetContext(ctx, r.exec(exec), &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, college_id, email, password_hash, full_name, role, approval_status, email_verified, created_at, updated_at) VALUES (:id, :college_id, :email, :password_hash, :full_name, :role, :approval_status, :email_verified, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateApprovalStatus sets the approval status of a user.
func (r *UserRepository) UpdateApprovalStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ApprovalStatus) error {
	const query = `UPDATE users SET approval_status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}
	return requireAffected(res)
}

// MarkEmailVerified flags the user's email as confirmed.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return requireAffected(res)
}

// ListUnverifiedBefore returns accounts that never verified their email and
// were created before cutoff.
func (r *UserRepository) ListUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email_verified = FALSE AND created_at < $1 ORDER BY created_at ASC LIMIT $2`
	var users []models.User
	if err := sqlx.SelectContext(ctx, r.db, &users, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list unverified users: %w", err)
	}
	return users, nil
}

// Delete removes a user row. Dependent rows must be removed first.
func (r *UserRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res)
}

// requireAffected maps a zero-row write to sql.ErrNoRows.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
