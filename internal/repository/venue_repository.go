package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-events-api/internal/models"
)

// VenueRepository reads venues. Venues are managed elsewhere.
type VenueRepository struct {
	db *sqlx.DB
}

// NewVenueRepository constructs a venue repository.
func NewVenueRepository(db *sqlx.DB) *VenueRepository {
	return &VenueRepository{db: db}
}

func (r *VenueRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// LockForBooking locks the venue row for the rest of the transaction so
// concurrent bookings of the same venue run one after another.
func (r *VenueRepository) LockForBooking(ctx context.Context, exec sqlx.ExtContext, collegeID, venueID string) (*models.VenueSummary, error) {
	const query = `SELECT id, name, location FROM venues WHERE id = $1 AND college_id = $2 FOR UPDATE`
	var venue models.VenueSummary
	if err := sqlx.GetContext(ctx, r.exec(exec), &venue, query, venueID, collegeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock venue: %w", err)
	}
	return &venue, nil
}
