package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/college-events-api/internal/models"
)

// ForumRepository reads forums and manages forum head memberships.
type ForumRepository struct {
	db *sqlx.DB
}

// NewForumRepository constructs a forum repository.
func NewForumRepository(db *sqlx.DB) *ForumRepository {
	return &ForumRepository{db: db}
}

func (r *ForumRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns a forum scoped to its college.
func (r *ForumRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, collegeID, forumID string) (*models.Forum, error) {
	const query = `SELECT id, college_id, name, description, created_at FROM forums WHERE id = $1 AND college_id = $2`
	var forum models.Forum
	if err := sqlx.GetContext(ctx, r.exec(exec), &forum, query, forumID, collegeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find forum: %w", err)
	}
	return &forum, nil
}

// ListHeadForums returns the forum ids a user holds membership rows for,
// filtered by verification state.
func (r *ForumRepository) ListHeadForums(ctx context.Context, exec sqlx.ExtContext, userID string, verified bool) (models.ForumSet, error) {
	const query = `SELECT forum_id FROM forum_heads WHERE user_id = $1 AND is_verified = $2`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, userID, verified); err != nil {
		return nil, fmt.Errorf("list forum memberships: %w", err)
	}
	return models.NewForumSet(ids...), nil
}

// IsVerifiedHead reports whether the user is a verified head of forumID.
func (r *ForumRepository) IsVerifiedHead(ctx context.Context, exec sqlx.ExtContext, userID, forumID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM forum_heads WHERE user_id = $1 AND forum_id = $2 AND is_verified = TRUE)`
	var ok bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &ok, query, userID, forumID); err != nil {
		return false, fmt.Errorf("check forum head: %w", err)
	}
	return ok, nil
}

// AddCandidates records unverified membership claims for a new forum head.
func (r *ForumRepository) AddCandidates(ctx context.Context, exec sqlx.ExtContext, userID string, forumIDs []string) error {
	if len(forumIDs) == 0 {
		return nil
	}
	const query = `INSERT INTO forum_heads (user_id, forum_id, is_verified, created_at)
SELECT $1, f, FALSE, $3 FROM unnest($2::text[]) AS f
ON CONFLICT (user_id, forum_id) DO NOTHING`
	if _, err := r.exec(exec).ExecContext(ctx, query, userID, pq.Array(forumIDs), time.Now().UTC()); err != nil {
		return fmt.Errorf("add forum head candidates: %w", err)
	}
	return nil
}

// UpsertVerified creates or promotes the membership to verified.
func (r *ForumRepository) UpsertVerified(ctx context.Context, exec sqlx.ExtContext, userID, forumID string) error {
	const query = `INSERT INTO forum_heads (user_id, forum_id, is_verified, created_at) VALUES ($1, $2, TRUE, $3)
ON CONFLICT (user_id, forum_id) DO UPDATE SET is_verified = TRUE`
	if _, err := r.exec(exec).ExecContext(ctx, query, userID, forumID, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert verified forum head: %w", err)
	}
	return nil
}

// DeleteUnverified removes pending membership claims for a user.
func (r *ForumRepository) DeleteUnverified(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM forum_heads WHERE user_id = $1 AND is_verified = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete unverified forum heads: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByUser removes every membership row of a user.
func (r *ForumRepository) DeleteByUser(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM forum_heads WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete forum heads: %w", err)
	}
	return res.RowsAffected()
}
