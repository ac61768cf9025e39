package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/college-events-api/internal/models"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

type approvalUserRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
	UpdateApprovalStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ApprovalStatus) error
}

type approvalForumRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, collegeID, forumID string) (*models.Forum, error)
	ListHeadForums(ctx context.Context, exec sqlx.ExtContext, userID string, verified bool) (models.ForumSet, error)
	UpsertVerified(ctx context.Context, exec sqlx.ExtContext, userID, forumID string) error
	DeleteUnverified(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error)
}

const approvalWorkflow = "approval"

// ApprovalService decides pending teacher and forum-head accounts.
type ApprovalService struct {
	tx        txRunner
	users     approvalUserRepository
	forums    approvalForumRepository
	validator *validator.Validate
	logger    *zap.Logger
	audit     auditTrail
	metrics   workflowMetrics
}

// NewApprovalService constructs an ApprovalService.
func NewApprovalService(tx txRunner, users approvalUserRepository, forums approvalForumRepository, validate *validator.Validate, logger *zap.Logger, audit auditLogRepository, metrics workflowMetrics) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		tx:        tx,
		users:     users,
		forums:    forums,
		validator: validate,
		logger:    logger,
		audit:     auditTrail{repo: audit, logger: logger},
		metrics:   metrics,
	}
}

// ApproveTeacher marks a pending teacher as approved. Admins only.
func (s *ApprovalService) ApproveTeacher(ctx context.Context, actor models.Principal, userID string) (*models.User, error) {
	return s.decideTeacher(ctx, actor, userID, models.ApprovalApproved, models.AuditActionTeacherApprove)
}

// RejectTeacher marks a pending teacher as rejected. Admins only.
func (s *ApprovalService) RejectTeacher(ctx context.Context, actor models.Principal, userID string) (*models.User, error) {
	return s.decideTeacher(ctx, actor, userID, models.ApprovalRejected, models.AuditActionTeacherReject)
}

func (s *ApprovalService) decideTeacher(ctx context.Context, actor models.Principal, userID string, status models.ApprovalStatus, action string) (*models.User, error) {
	if err := actor.Require(models.CapDecideTeacher); err != nil {
		return nil, err
	}

	var decided *models.User
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		target, err := s.loadPendingTarget(ctx, exec, actor, userID, models.RoleTeacher)
		if err != nil {
			return err
		}
		if err := s.users.UpdateApprovalStatus(ctx, exec, target.ID, status); err != nil {
			return lookupError(err, "user not found", "failed to update approval status")
		}
		target.ApprovalStatus = status
		decided = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decided(string(status))
	s.audit.record(ctx, actor, action, "user", decided.ID, map[string]interface{}{"role": decided.Role})
	return decided, nil
}

// ApproveForumHead verifies the target's membership of forumID and approves
// the account. Admins may approve any candidate; a forum head may approve
// candidates who claim one of the forums they already lead.
func (s *ApprovalService) ApproveForumHead(ctx context.Context, actor models.Principal, userID string, req models.ApproveForumHeadRequest) (*models.User, error) {
	if !actor.CanAny(models.CapDecideAnyForumHead, models.CapDecidePeerForumHead) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "missing permission to decide forum heads")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}

	var decided *models.User
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		target, err := s.loadPendingTarget(ctx, exec, actor, userID, models.RoleForumHead)
		if err != nil {
			return err
		}
		if _, err := s.forums.FindByID(ctx, exec, actor.CollegeID, req.ForumID); err != nil {
			return lookupError(err, "forum not found", "failed to load forum")
		}
		shared, err := s.authorizeForumHeadDecision(ctx, exec, actor, target)
		if err != nil {
			return err
		}
		if shared != nil && !shared.Contains(req.ForumID) {
			return appErrors.Clone(appErrors.ErrForbidden, "you can only grant membership of a forum you share with the candidate")
		}

		if err := s.forums.UpsertVerified(ctx, exec, target.ID, req.ForumID); err != nil {
			return appErrors.Internal(err, "failed to verify forum membership")
		}
		if err := s.users.UpdateApprovalStatus(ctx, exec, target.ID, models.ApprovalApproved); err != nil {
			return lookupError(err, "user not found", "failed to update approval status")
		}
		target.ApprovalStatus = models.ApprovalApproved
		decided = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decided(string(models.ApprovalApproved))
	s.audit.record(ctx, actor, models.AuditActionForumHeadApprove, "user", decided.ID, map[string]interface{}{"forum_id": req.ForumID})
	return decided, nil
}

// RejectForumHead rejects the candidate and drops their unverified claims.
func (s *ApprovalService) RejectForumHead(ctx context.Context, actor models.Principal, userID string) (*models.User, error) {
	if !actor.CanAny(models.CapDecideAnyForumHead, models.CapDecidePeerForumHead) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "missing permission to decide forum heads")
	}

	var (
		decided *models.User
		dropped int64
	)
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		target, err := s.loadPendingTarget(ctx, exec, actor, userID, models.RoleForumHead)
		if err != nil {
			return err
		}
		if _, err := s.authorizeForumHeadDecision(ctx, exec, actor, target); err != nil {
			return err
		}
		if err := s.users.UpdateApprovalStatus(ctx, exec, target.ID, models.ApprovalRejected); err != nil {
			return lookupError(err, "user not found", "failed to update approval status")
		}
		dropped, err = s.forums.DeleteUnverified(ctx, exec, target.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to remove pending memberships")
		}
		target.ApprovalStatus = models.ApprovalRejected
		decided = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decided(string(models.ApprovalRejected))
	s.audit.record(ctx, actor, models.AuditActionForumHeadReject, "user", decided.ID, map[string]interface{}{"dropped_memberships": dropped})
	return decided, nil
}

// loadPendingTarget locks the target account and checks it is a pending
// member of the caller's college with the expected role. Accounts of other
// colleges are reported as missing.
func (s *ApprovalService) loadPendingTarget(ctx context.Context, exec sqlx.ExtContext, actor models.Principal, userID string, role models.UserRole) (*models.User, error) {
	target, err := s.users.FindByIDForUpdate(ctx, exec, userID)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	if target.CollegeID != actor.CollegeID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	if target.Role != role {
		return nil, appErrors.Clone(appErrors.ErrInvalidRole, "user is not a "+string(role))
	}
	if target.ApprovalStatus != models.ApprovalPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "user is not awaiting approval")
	}
	return target, nil
}

// authorizeForumHeadDecision returns nil for admins. For peers it returns the
// forums shared between the approver's verified memberships and the
// candidate's claims, failing when that set is empty.
func (s *ApprovalService) authorizeForumHeadDecision(ctx context.Context, exec sqlx.ExtContext, actor models.Principal, target *models.User) (models.ForumSet, error) {
	if actor.Can(models.CapDecideAnyForumHead) {
		return nil, nil
	}
	if actor.UserID == target.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot decide your own account")
	}

	approver, err := s.users.FindByID(ctx, exec, actor.UserID)
	if err != nil {
		return nil, lookupError(err, "approver not found", "failed to load approver")
	}
	if approver.ApprovalStatus != models.ApprovalApproved || approver.CollegeID != target.CollegeID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only approved forum heads of the same college can decide peers")
	}

	led, err := s.forums.ListHeadForums(ctx, exec, approver.ID, true)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load approver forums")
	}
	claimed, err := s.forums.ListHeadForums(ctx, exec, target.ID, false)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load candidate forums")
	}
	if !led.Intersects(claimed) {
		s.logger.Info("peer approval denied",
			zap.String("approver_id", approver.ID),
			zap.String("target_id", target.ID),
			zap.Strings("approver_forums", led.IDs()),
			zap.Strings("candidate_forums", claimed.IDs()))
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you share no forum with this candidate")
	}
	return led.Intersection(claimed), nil
}

func (s *ApprovalService) decided(decision string) {
	if s.metrics != nil {
		s.metrics.RecordWorkflowDecision(approvalWorkflow, decision)
	}
}
