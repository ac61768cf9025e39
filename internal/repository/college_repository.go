package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CollegeRepository answers tenant lookups.
type CollegeRepository struct {
	db *sqlx.DB
}

// NewCollegeRepository constructs a college repository.
func NewCollegeRepository(db *sqlx.DB) *CollegeRepository {
	return &CollegeRepository{db: db}
}

// Exists reports whether a college with id is registered.
func (r *CollegeRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS (SELECT 1 FROM colleges WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check college: %w", err)
	}
	return exists, nil
}

// CountForums returns how many of forumIDs belong to the college.
func (r *CollegeRepository) CountForums(ctx context.Context, collegeID string, forumIDs []string) (int, error) {
	if len(forumIDs) == 0 {
		return 0, nil
	}
	var count int
	const query = `SELECT COUNT(*) FROM forums WHERE college_id = $1 AND id = ANY($2)`
	if err := sqlx.GetContext(ctx, r.db, &count, query, collegeID, pq.Array(forumIDs)); err != nil {
		return 0, fmt.Errorf("count forums: %w", err)
	}
	return count, nil
}
