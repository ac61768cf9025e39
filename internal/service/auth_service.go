package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/database"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

const emailVerificationAudience = "email-verification"

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
	Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	MarkEmailVerified(ctx context.Context, id string) error
}

type authCollegeRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	CountForums(ctx context.Context, collegeID string, forumIDs []string) (int, error)
}

type authForumRepository interface {
	AddCandidates(ctx context.Context, exec sqlx.ExtContext, userID string, forumIDs []string) error
}

// VerificationSender delivers email verification tokens.
type VerificationSender interface {
	SendVerification(ctx context.Context, user *models.User, token string, expiresAt time.Time) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	// VerificationExpiry bounds how long a registration may stay unverified.
	VerificationExpiry time.Duration
}

// AuthService registers members, authenticates them and validates tokens.
type AuthService struct {
	tx        txRunner
	users     authUserRepository
	colleges  authCollegeRepository
	forums    authForumRepository
	sender    VerificationSender
	validator *validator.Validate
	logger    *zap.Logger
	audit     auditTrail
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(tx txRunner, users authUserRepository, colleges authCollegeRepository, forums authForumRepository, sender VerificationSender, validate *validator.Validate, logger *zap.Logger, audit auditLogRepository, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.VerificationExpiry <= 0 {
		config.VerificationExpiry = 24 * time.Hour
	}
	if sender == nil {
		sender = NewLogVerificationSender(logger)
	}
	return &AuthService{
		tx:        tx,
		users:     users,
		colleges:  colleges,
		forums:    forums,
		sender:    sender,
		validator: validate,
		logger:    logger,
		audit:     auditTrail{repo: audit, logger: logger},
		config:    config,
	}
}

// Register creates an account. Students are approved immediately; teachers
// and forum heads wait for approval. Forum heads record the forums they
// claim as unverified memberships.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	role, err := models.ParseUserRole(req.Role)
	if err != nil || role == models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "role must be student, teacher or forum_head")
	}

	exists, err := s.colleges.Exists(ctx, req.CollegeID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check college")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "college not found")
	}

	forumIDs := models.NewForumSet(req.ForumIDs...).IDs()
	if role == models.RoleForumHead {
		if len(forumIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "forum heads must name at least one forum")
		}
		count, err := s.colleges.CountForums(ctx, req.CollegeID, forumIDs)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check forums")
		}
		if count != len(forumIDs) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "one or more forums do not belong to this college")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	status := models.ApprovalPending
	if role == models.RoleStudent {
		status = models.ApprovalApproved
	}
	user := &models.User{
		CollegeID:      req.CollegeID,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:   string(hash),
		FullName:       strings.TrimSpace(req.FullName),
		Role:           role,
		ApprovalStatus: status,
	}

	err = s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		if err := s.users.Create(ctx, exec, user); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrConflict, "email is already registered")
			}
			return appErrors.Internal(err, "failed to create user")
		}
		if role == models.RoleForumHead {
			if err := s.forums.AddCandidates(ctx, exec, user.ID, forumIDs); err != nil {
				return appErrors.Internal(err, "failed to record forum claims")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signToken(user, emailVerificationAudience, s.config.VerificationExpiry)
	if err != nil {
		s.logger.Warn("failed to sign verification token", zap.String("user_id", user.ID), zap.Error(err))
	} else if err := s.sender.SendVerification(ctx, user, token, expiresAt); err != nil {
		s.logger.Warn("failed to send verification", zap.String("user_id", user.ID), zap.Error(err))
	}

	actor := models.Principal{UserID: user.ID, Role: user.Role, CollegeID: user.CollegeID}
	s.audit.record(ctx, actor, models.AuditActionRegister, "user", user.ID, map[string]interface{}{
		"role":      user.Role,
		"forum_ids": forumIDs,
	})

	info := models.NewUserInfo(user)
	return &info, nil
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.parse(token, emailVerificationAudience)
	if err != nil {
		return err
	}
	if err := s.users.MarkEmailVerified(ctx, claims.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to verify email")
	}
	return nil
}

// Login authenticates a user and returns an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	switch user.ApprovalStatus {
	case models.ApprovalPending:
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account pending approval")
	case models.ApprovalRejected:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account was rejected")
	}
	if !user.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "email not verified")
	}

	token, _, err := s.signToken(user, "", s.config.AccessTokenExpiry)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	s.audit.record(ctx, models.Principal{UserID: user.ID, Role: user.Role, CollegeID: user.CollegeID}, models.AuditActionLogin, "auth", user.ID, map[string]interface{}{
		"ip":         req.IP,
		"user_agent": req.UserAgent,
	})

	return &models.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    time.Now().UTC(),
		User:        models.NewUserInfo(user),
	}, nil
}

// Me returns the profile of the authenticated caller.
func (s *AuthService) Me(ctx context.Context, actor models.Principal) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, nil, actor.UserID)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	return s.parse(tokenString, "")
}

func (s *AuthService) parse(tokenString, audience string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	// Verification tokens must not pass as access tokens.
	if audience == "" && len(claims.Audience) > 0 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token audience")
	}
	return claims, nil
}

func (s *AuthService) signToken(user *models.User, audience string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &models.JWTClaims{
		UserID:    user.ID,
		Role:      user.Role,
		CollegeID: user.CollegeID,
		Email:     user.Email,
		FullName:  user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// LogVerificationSender writes verification tokens to the log. Mail delivery
// is handled outside this service.
type LogVerificationSender struct {
	logger *zap.Logger
}

// NewLogVerificationSender constructs a LogVerificationSender.
func NewLogVerificationSender(logger *zap.Logger) *LogVerificationSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogVerificationSender{logger: logger}
}

// SendVerification logs the token at debug level.
func (l *LogVerificationSender) SendVerification(ctx context.Context, user *models.User, token string, expiresAt time.Time) error {
	l.logger.Debug("email verification issued",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("token", token),
		zap.Time("expires_at", expiresAt))
	return nil
}
