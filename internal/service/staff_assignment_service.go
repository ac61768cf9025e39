package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/config"
	"github.com/noah-isme/college-events-api/pkg/database"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
	"github.com/noah-isme/college-events-api/pkg/export"
)

type staffEventReader interface {
	FindByIDAnyCollege(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Event, error)
}

type staffUserLocker interface {
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
}

type staffAssignmentRepository interface {
	Exists(ctx context.Context, exec sqlx.ExtContext, eventID, userID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.StaffAssignment) error
	FindForUserForUpdate(ctx context.Context, exec sqlx.ExtContext, id, userID string, status models.AssignmentStatus) (*models.StaffAssignment, error)
	Transition(ctx context.Context, exec sqlx.ExtContext, id, userID string, from, to models.AssignmentStatus) error
	DeleteForUser(ctx context.Context, exec sqlx.ExtContext, id, userID string, status models.AssignmentStatus) error
	ListApprovedBookings(ctx context.Context, exec sqlx.ExtContext, userID string) ([]models.Booking, error)
	ListForUser(ctx context.Context, userID string, status models.AssignmentStatus) ([]models.StaffAssignmentView, error)
}

type workflowMetrics interface {
	schedulingMetrics
	RecordWorkflowDecision(workflow, decision string)
}

const staffWorkflow = "staff"

// StaffAssignmentService runs the request, accept, reject and cancel
// transitions of staff assignments. A teacher's approved assignments never
// overlap in time.
type StaffAssignmentService struct {
	tx          txRunner
	events      staffEventReader
	users       staffUserLocker
	assignments staffAssignmentRepository
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.SchedulingConfig
	audit       auditTrail
	metrics     workflowMetrics
}

// NewStaffAssignmentService constructs a StaffAssignmentService.
func NewStaffAssignmentService(tx txRunner, events staffEventReader, users staffUserLocker, assignments staffAssignmentRepository, validate *validator.Validate, logger *zap.Logger, cfg config.SchedulingConfig, audit auditLogRepository, metrics workflowMetrics) *StaffAssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.DefaultAssignmentRole) == "" {
		cfg.DefaultAssignmentRole = models.DefaultAssignmentRole
	}
	return &StaffAssignmentService{
		tx:          tx,
		events:      events,
		users:       users,
		assignments: assignments,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		audit:       auditTrail{repo: audit, logger: logger},
		metrics:     metrics,
	}
}

// Request asks a teacher to staff an event. The new row is pending.
func (s *StaffAssignmentService) Request(ctx context.Context, actor models.Principal, eventID string, req models.RequestStaffRequest) (*models.StaffAssignment, error) {
	if err := actor.Require(models.CapRequestStaff); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid staff request payload")
	}

	role := strings.TrimSpace(req.AssignmentRole)
	if role == "" {
		role = s.cfg.DefaultAssignmentRole
	}

	var created *models.StaffAssignment
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		event, err := s.events.FindByIDAnyCollege(ctx, exec, eventID)
		if err != nil {
			return lookupError(err, "event not found", "failed to load event")
		}
		teacher, err := s.users.FindByIDForUpdate(ctx, exec, req.TeacherID)
		if err != nil {
			return lookupError(err, "teacher not found", "failed to load teacher")
		}
		if event.CollegeID != actor.CollegeID || teacher.CollegeID != actor.CollegeID {
			return appErrors.Clone(appErrors.ErrForbidden, "event and teacher must belong to your college")
		}
		if teacher.Role != models.RoleTeacher {
			return appErrors.Clone(appErrors.ErrInvalidRole, "staff can only be requested from teachers")
		}

		exists, err := s.assignments.Exists(ctx, exec, event.ID, teacher.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to check existing requests")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrDuplicateRequest, "this teacher was already requested for the event")
		}

		if s.cfg.RequestConflictPolicy != config.ConflictPolicyAllow {
			if err := s.checkTeacherAvailability(ctx, exec, teacher.ID, event); err != nil {
				return err
			}
		}

		assignment := &models.StaffAssignment{
			EventID:        event.ID,
			UserID:         teacher.ID,
			AssignmentRole: role,
			Status:         models.AssignmentPending,
			RequestedBy:    &actor.UserID,
		}
		if err := s.assignments.Create(ctx, exec, assignment); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrDuplicateRequest, "this teacher was already requested for the event")
			}
			return appErrors.Internal(err, "failed to create staff request")
		}
		created = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decided("requested")
	s.audit.record(ctx, actor, models.AuditActionStaffRequest, "event_staff", created.ID, map[string]interface{}{
		"event_id":   created.EventID,
		"teacher_id": created.UserID,
	})
	return created, nil
}

// Accept approves a pending request after re-checking the teacher's current
// commitments. On conflict the row stays pending.
func (s *StaffAssignmentService) Accept(ctx context.Context, actor models.Principal, assignmentID string) (*models.StaffAssignment, error) {
	if err := actor.Require(models.CapRespondStaff); err != nil {
		return nil, err
	}

	var accepted *models.StaffAssignment
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		assignment, err := s.assignments.FindForUserForUpdate(ctx, exec, assignmentID, actor.UserID, models.AssignmentPending)
		if err != nil {
			return lookupError(err, "pending staff request not found", "failed to load staff request")
		}
		event, err := s.events.FindByIDAnyCollege(ctx, exec, assignment.EventID)
		if err != nil {
			return lookupError(err, "event not found", "failed to load event")
		}
		if _, err := s.users.FindByIDForUpdate(ctx, exec, actor.UserID); err != nil {
			return lookupError(err, "teacher not found", "failed to lock teacher")
		}
		if err := s.checkTeacherAvailability(ctx, exec, actor.UserID, event); err != nil {
			return err
		}
		if err := s.assignments.Transition(ctx, exec, assignment.ID, actor.UserID, models.AssignmentPending, models.AssignmentApproved); err != nil {
			return lookupError(err, "pending staff request not found", "failed to accept staff request")
		}
		assignment.Status = models.AssignmentApproved
		accepted = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.decided("accepted")
	s.audit.record(ctx, actor, models.AuditActionStaffAccept, "event_staff", assignmentID, map[string]interface{}{"event_id": accepted.EventID})
	return accepted, nil
}

// Reject declines a pending request. The row is kept as rejected.
func (s *StaffAssignmentService) Reject(ctx context.Context, actor models.Principal, assignmentID string) error {
	if err := actor.Require(models.CapRespondStaff); err != nil {
		return err
	}
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		if err := s.assignments.Transition(ctx, exec, assignmentID, actor.UserID, models.AssignmentPending, models.AssignmentRejected); err != nil {
			return lookupError(err, "pending staff request not found", "failed to reject staff request")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.decided("rejected")
	s.audit.record(ctx, actor, models.AuditActionStaffReject, "event_staff", assignmentID, nil)
	return nil
}

// Cancel withdraws from an approved assignment and frees the time slot.
func (s *StaffAssignmentService) Cancel(ctx context.Context, actor models.Principal, assignmentID string) error {
	if err := actor.Require(models.CapRespondStaff); err != nil {
		return err
	}
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		if err := s.assignments.DeleteForUser(ctx, exec, assignmentID, actor.UserID, models.AssignmentApproved); err != nil {
			return lookupError(err, "accepted staff assignment not found", "failed to cancel staff assignment")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.decided("cancelled")
	s.audit.record(ctx, actor, models.AuditActionStaffCancel, "event_staff", assignmentID, nil)
	return nil
}

// ListPending returns the caller's open requests, oldest first.
func (s *StaffAssignmentService) ListPending(ctx context.Context, actor models.Principal) ([]models.StaffAssignmentView, error) {
	return s.list(ctx, actor, models.AssignmentPending)
}

// ListAccepted returns the caller's approved assignments, oldest first.
func (s *StaffAssignmentService) ListAccepted(ctx context.Context, actor models.Principal) ([]models.StaffAssignmentView, error) {
	return s.list(ctx, actor, models.AssignmentApproved)
}

func (s *StaffAssignmentService) list(ctx context.Context, actor models.Principal, status models.AssignmentStatus) ([]models.StaffAssignmentView, error) {
	if err := actor.Require(models.CapRespondStaff); err != nil {
		return nil, err
	}
	items, err := s.assignments.ListForUser(ctx, actor.UserID, status)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list staff assignments")
	}
	return items, nil
}

// ExportedFile is a rendered download.
type ExportedFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportAccepted renders the caller's duty roster in the requested format.
func (s *StaffAssignmentService) ExportAccepted(ctx context.Context, actor models.Principal, format string) (*ExportedFile, error) {
	renderer, err := export.ForFormat(export.Format(strings.ToLower(strings.TrimSpace(format))))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	items, err := s.ListAccepted(ctx, actor)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   "Accepted staff duties",
		Headers: []string{"Event", "Role", "Start", "End", "Venue"},
		Rows:    make([]map[string]string, 0, len(items)),
	}
	for _, item := range items {
		venue := ""
		if item.VenueName != nil {
			venue = *item.VenueName
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Event": item.EventName,
			"Role":  item.AssignmentRole,
			"Start": item.EventStart.UTC().Format(time.RFC3339),
			"End":   item.EventEnd.UTC().Format(time.RFC3339),
			"Venue": venue,
		})
	}

	body, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return &ExportedFile{
		Filename:    fmt.Sprintf("staff-duties-%s.%s", actor.UserID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

// checkTeacherAvailability fails with a schedule conflict when event overlaps
// one of the teacher's approved assignments.
func (s *StaffAssignmentService) checkTeacherAvailability(ctx context.Context, exec sqlx.ExtContext, teacherID string, event *models.Event) error {
	bookings, err := s.assignments.ListApprovedBookings(ctx, exec, teacherID)
	if err != nil {
		return appErrors.Internal(err, "failed to load teacher schedule")
	}
	window := Interval{Start: event.StartTime, End: event.EndTime}
	clash := FindConflict(window, bookings, event.ID)
	if clash == nil {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordSchedulingConflict(models.ConflictDimensionTeacher)
	}
	s.logger.Info("teacher schedule conflict",
		zap.String("teacher_id", teacherID),
		zap.String("event_id", event.ID),
		zap.String("conflicting_event_id", clash.ID))
	msg := fmt.Sprintf("teacher is already assigned to %q during this time", clash.Name)
	return conflictError(appErrors.ErrScheduleConflict, models.ConflictDimensionTeacher, msg, clash)
}

func (s *StaffAssignmentService) decided(decision string) {
	if s.metrics != nil {
		s.metrics.RecordWorkflowDecision(staffWorkflow, decision)
	}
}
