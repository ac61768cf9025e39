package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// RegisterRequest signs a new member up to a college. Forum heads list the
// forums they claim to lead in ForumIDs.
type RegisterRequest struct {
	CollegeID string   `json:"college_id" validate:"required"`
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=8"`
	FullName  string   `json:"full_name" validate:"required,max=120"`
	Role      string   `json:"role" validate:"required"`
	ForumIDs  []string `json:"forum_ids" validate:"omitempty,dive,required"`
}

// UserInfo describes a user in responses.
type UserInfo struct {
	ID             string         `json:"id"`
	CollegeID      string         `json:"college_id"`
	Email          string         `json:"email"`
	FullName       string         `json:"full_name"`
	Role           UserRole       `json:"role"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
}

// NewUserInfo projects a user for API responses.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{
		ID:             u.ID,
		CollegeID:      u.CollegeID,
		Email:          u.Email,
		FullName:       u.FullName,
		Role:           u.Role,
		ApprovalStatus: u.ApprovalStatus,
	}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	CollegeID string   `json:"college_id"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the caller identity used by services.
func (c *JWTClaims) Principal() Principal {
	if c == nil {
		return Principal{}
	}
	return Principal{UserID: c.UserID, Role: c.Role, CollegeID: c.CollegeID}
}
