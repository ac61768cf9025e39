package service

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/college-events-api/internal/models"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

type captureSender struct {
	tokens map[string]string
}

func (c *captureSender) SendVerification(ctx context.Context, user *models.User, token string, expiresAt time.Time) error {
	if c.tokens == nil {
		c.tokens = map[string]string{}
	}
	c.tokens[user.Email] = token
	return nil
}

type authFixture struct {
	store  *memStore
	users  *userRepoStub
	sender *captureSender
	svc    *AuthService
}

func newAuthFixture() *authFixture {
	store := newMemStore()
	store.addForum("G", "college-1")
	store.addForum("Z", "college-2")
	f := &authFixture{store: store, users: &userRepoStub{memStore: store}, sender: &captureSender{}}
	f.svc = NewAuthService(&txStub{store: store}, f.users, &collegeRepoStub{store}, &forumRepoStub{store}, f.sender, nil, nil, &auditRepoStub{memStore: store}, AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "college-events",
	})
	return f
}

func registerReq(email, role string, forums ...string) models.RegisterRequest {
	return models.RegisterRequest{
		CollegeID: "college-1",
		Email:     email,
		Password:  "password123",
		FullName:  "Test User",
		Role:      role,
		ForumIDs:  forums,
	}
}

func TestRegisterSetsApprovalByRole(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	student, err := f.svc.Register(ctx, registerReq("Student@Example.edu", "student"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, student.ApprovalStatus)
	assert.Equal(t, "student@example.edu", student.Email)

	teacher, err := f.svc.Register(ctx, registerReq("teacher@example.edu", "teacher"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, teacher.ApprovalStatus)

	head, err := f.svc.Register(ctx, registerReq("head@example.edu", "forum_head", "G", "G"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, head.ApprovalStatus)
	verified, claimed := f.store.heads[head.ID]["G"]
	assert.True(t, claimed)
	assert.False(t, verified)

	stored := f.store.users[student.ID]
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))
	assert.False(t, stored.EmailVerified)
	assert.Len(t, f.sender.tokens, 3)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerReq("admin@example.edu", "admin"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidRole)

	_, err = f.svc.Register(ctx, registerReq("x@example.edu", "janitor"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidRole)

	req := registerReq("x@example.edu", "student")
	req.CollegeID = "nowhere"
	_, err = f.svc.Register(ctx, req)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Register(ctx, registerReq("h@example.edu", "forum_head"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Register(ctx, registerReq("h@example.edu", "forum_head", "Z"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	short := registerReq("s@example.edu", "student")
	short.Password = "short"
	_, err = f.svc.Register(ctx, short)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	f.users.createErr = &pq.Error{Code: "23505"}
	_, err = f.svc.Register(ctx, registerReq("dup@example.edu", "student"))
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	assert.Empty(t, f.store.users)
}

func TestLoginFlow(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	student, err := f.svc.Register(ctx, registerReq("student@example.edu", "student"))
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "student@example.edu", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount, "email must be verified first")

	_, err = f.svc.ValidateToken(f.sender.tokens["student@example.edu"])
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized, "verification tokens are not access tokens")

	require.NoError(t, f.svc.VerifyEmail(ctx, f.sender.tokens["student@example.edu"]))
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, "garbage"), appErrors.ErrUnauthorized)

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "student@example.edu", Password: "wrong-password"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "ghost@example.edu", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	resp, err := f.svc.Login(ctx, models.LoginRequest{Email: "student@example.edu", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := f.svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, student.ID, claims.UserID)
	assert.Equal(t, "college-1", claims.CollegeID)
	assert.Equal(t, models.RoleStudent, claims.Principal().Role)

	me, err := f.svc.Me(ctx, claims.Principal())
	require.NoError(t, err)
	assert.Equal(t, "student@example.edu", me.Email)
	assert.Contains(t, f.store.auditActions(), models.AuditActionLogin)
}

func TestLoginGatesOnApproval(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	teacher, err := f.svc.Register(ctx, registerReq("teacher@example.edu", "teacher"))
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyEmail(ctx, f.sender.tokens["teacher@example.edu"]))

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "teacher@example.edu", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)

	u := f.store.users[teacher.ID]
	u.ApprovalStatus = models.ApprovalRejected
	f.store.users[teacher.ID] = u
	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "teacher@example.edu", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	f := newAuthFixture()
	other := NewAuthService(nil, nil, nil, nil, nil, nil, nil, nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour, Issuer: "college-events"})

	token, _, err := other.signToken(&models.User{ID: "u1", Role: models.RoleAdmin, CollegeID: "college-1"}, "", time.Hour)
	require.NoError(t, err)

	_, err = f.svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
