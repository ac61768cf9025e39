package models

import (
	"sort"
	"time"
)

// Forum is a student body that organises events.
type Forum struct {
	ID          string    `db:"id" json:"id"`
	CollegeID   string    `db:"college_id" json:"college_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ForumHead links a user to a forum they lead. Unverified rows are claims
// made at registration and awaiting approval.
type ForumHead struct {
	UserID     string    `db:"user_id" json:"user_id"`
	ForumID    string    `db:"forum_id" json:"forum_id"`
	IsVerified bool      `db:"is_verified" json:"is_verified"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ForumSet is an unordered set of forum ids.
type ForumSet map[string]struct{}

// NewForumSet builds a set from ids, ignoring blanks.
func NewForumSet(ids ...string) ForumSet {
	s := make(ForumSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id into the set.
func (s ForumSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Contains reports membership.
func (s ForumSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Intersection returns the forums present in both sets.
func (s ForumSet) Intersection(other ForumSet) ForumSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(ForumSet)
	for id := range small {
		if large.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Intersects reports whether the sets share at least one forum.
func (s ForumSet) Intersects(other ForumSet) bool {
	return len(s.Intersection(other)) > 0
}

// IDs returns the members in sorted order.
func (s ForumSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApproveForumHeadRequest names the forum the approval is granted for.
type ApproveForumHeadRequest struct {
	ForumID string `json:"forum_id" validate:"required"`
}
