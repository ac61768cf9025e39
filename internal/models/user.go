package models

import (
	"fmt"
	"strings"
	"time"
)

// UserRole is the closed set of roles a college member can hold.
type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleTeacher   UserRole = "teacher"
	RoleStudent   UserRole = "student"
	RoleForumHead UserRole = "forum_head"
)

// ParseUserRole normalises raw into a known role.
func ParseUserRole(raw string) (UserRole, error) {
	role := UserRole(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleForumHead:
		return true
	}
	return false
}

// ApprovalStatus tracks where an account is in the approval workflow.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// User represents an application user stored in the users table.
type User struct {
	ID             string         `db:"id" json:"id"`
	CollegeID      string         `db:"college_id" json:"college_id"`
	Email          string         `db:"email" json:"email"`
	PasswordHash   string         `db:"password_hash" json:"-"`
	FullName       string         `db:"full_name" json:"full_name"`
	Role           UserRole       `db:"role" json:"role"`
	ApprovalStatus ApprovalStatus `db:"approval_status" json:"approval_status"`
	EmailVerified  bool           `db:"email_verified" json:"email_verified"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// College is the tenant every other record is scoped to.
type College struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
