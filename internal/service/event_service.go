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
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

type eventRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) (*models.Event, error)
	FindDetail(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) (*models.EventDetail, error)
	ListByCollege(ctx context.Context, collegeID string) ([]models.EventDetail, error)
	ListVenueBookings(ctx context.Context, exec sqlx.ExtContext, venueID, excludeID string) ([]models.Booking, error)
	Update(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error
	Delete(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) error
}

type venueLocker interface {
	LockForBooking(ctx context.Context, exec sqlx.ExtContext, collegeID, venueID string) (*models.VenueSummary, error)
}

type eventForumRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, collegeID, forumID string) (*models.Forum, error)
	IsVerifiedHead(ctx context.Context, exec sqlx.ExtContext, userID, forumID string) (bool, error)
}

type eventStaffRepository interface {
	DeleteByEvent(ctx context.Context, exec sqlx.ExtContext, eventID string) (int64, error)
	DeleteFromEvent(ctx context.Context, exec sqlx.ExtContext, eventID, id string) error
	ListApprovedStaff(ctx context.Context, exec sqlx.ExtContext, eventID string) ([]string, error)
	ListApprovedBookings(ctx context.Context, exec sqlx.ExtContext, userID string) ([]models.Booking, error)
}

type eventCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// EventServiceOptions carries the optional collaborators of EventService.
type EventServiceOptions struct {
	Cache    eventCache
	CacheTTL time.Duration
	Audit    auditLogRepository
	Metrics  schedulingMetrics
}

// EventService manages the event lifecycle and keeps venues free of
// overlapping confirmed bookings. Rescheduling an event never leaves one of
// its approved teachers double booked.
type EventService struct {
	tx        txRunner
	events    eventRepository
	venues    venueLocker
	forums    eventForumRepository
	staff     eventStaffRepository
	users     staffUserLocker
	validator *validator.Validate
	logger    *zap.Logger
	cache     eventCache
	cacheTTL  time.Duration
	audit     auditTrail
	metrics   schedulingMetrics
}

// NewEventService constructs an EventService.
func NewEventService(tx txRunner, events eventRepository, venues venueLocker, forums eventForumRepository, staff eventStaffRepository, users staffUserLocker, validate *validator.Validate, logger *zap.Logger, opts EventServiceOptions) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		tx:        tx,
		events:    events,
		venues:    venues,
		forums:    forums,
		staff:     staff,
		users:     users,
		validator: validate,
		logger:    logger,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		audit:     auditTrail{repo: opts.Audit, logger: logger},
		metrics:   opts.Metrics,
	}
}

// Create books a new confirmed event. When a venue is given the venue row is
// locked and the new interval must not overlap any confirmed booking there.
func (s *EventService) Create(ctx context.Context, actor models.Principal, req models.CreateEventRequest) (*models.EventDetail, error) {
	if err := actor.Require(models.CapCreateEvent); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	interval, err := NewInterval(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	venueID := normalizeVenueID(req.VenueID)

	var created *models.EventDetail
	err = s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		if _, err := s.forums.FindByID(ctx, exec, actor.CollegeID, req.ForumID); err != nil {
			return lookupError(err, "forum not found", "failed to load forum")
		}
		isHead, err := s.forums.IsVerifiedHead(ctx, exec, actor.UserID, req.ForumID)
		if err != nil {
			return appErrors.Internal(err, "failed to verify forum membership")
		}
		if !isHead {
			return appErrors.Clone(appErrors.ErrForbidden, "only verified heads of this forum can create its events")
		}

		var venue *models.VenueSummary
		if venueID != nil {
			venue, err = s.reserveVenue(ctx, exec, actor.CollegeID, *venueID, interval, "")
			if err != nil {
				return err
			}
		}

		event := &models.Event{
			CollegeID:   actor.CollegeID,
			ForumID:     req.ForumID,
			OrganizerID: actor.UserID,
			VenueID:     venueID,
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
			StartTime:   interval.Start.UTC(),
			EndTime:     interval.End.UTC(),
			Status:      models.EventStatusConfirmed,
		}
		if err := s.events.Create(ctx, exec, event); err != nil {
			return appErrors.Internal(err, "failed to create event")
		}
		created = &models.EventDetail{Event: *event, Venue: venue}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, actor, models.AuditActionEventCreate, created.ID, map[string]interface{}{
		"forum_id":   created.ForumID,
		"venue_id":   created.VenueID,
		"start_time": created.StartTime,
		"end_time":   created.EndTime,
	})
	return created, nil
}

// Update applies a partial update. The venue check reruns only when the
// interval or venue actually changed, excluding the event itself. A new
// interval is also checked against the other commitments of every approved
// teacher of the event.
func (s *EventService) Update(ctx context.Context, actor models.Principal, eventID string, req models.UpdateEventRequest) (*models.EventDetail, error) {
	if err := actor.Require(models.CapUpdateEvent); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}

	var result *models.EventDetail
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		current, err := s.events.FindByIDForUpdate(ctx, exec, actor.CollegeID, eventID)
		if err != nil {
			return lookupError(err, "event not found", "failed to load event")
		}

		next := *current
		if req.Name != nil {
			next.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			next.Description = *req.Description
		}
		if req.StartTime != nil {
			next.StartTime = req.StartTime.UTC()
		}
		if req.EndTime != nil {
			next.EndTime = req.EndTime.UTC()
		}
		if req.VenueID.Set {
			next.VenueID = normalizeVenueID(req.VenueID.Value)
		}

		interval, err := NewInterval(next.StartTime, next.EndTime)
		if err != nil {
			return err
		}

		retimed := !next.StartTime.Equal(current.StartTime) || !next.EndTime.Equal(current.EndTime)
		if (retimed || !sameVenue(current.VenueID, next.VenueID)) && next.HasVenue() {
			if _, err := s.reserveVenue(ctx, exec, actor.CollegeID, *next.VenueID, interval, current.ID); err != nil {
				return err
			}
		}
		if retimed {
			if err := s.recheckStaff(ctx, exec, current.ID, interval); err != nil {
				return err
			}
		}

		if err := s.events.Update(ctx, exec, &next); err != nil {
			return lookupError(err, "event not found", "failed to update event")
		}
		result, err = s.events.FindDetail(ctx, exec, actor.CollegeID, current.ID)
		if err != nil {
			return lookupError(err, "event not found", "failed to load event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, actor, models.AuditActionEventUpdate, result.ID, map[string]interface{}{
		"venue_id":   result.VenueID,
		"start_time": result.StartTime,
		"end_time":   result.EndTime,
	})
	return result, nil
}

// Delete removes an event and all of its staff assignments atomically.
func (s *EventService) Delete(ctx context.Context, actor models.Principal, eventID string) error {
	if !actor.CanAny(models.CapManageOwnEvent, models.CapManageAnyEvent) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the organizer or an admin can delete this event")
	}

	var removedStaff int64
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		event, err := s.events.FindByIDForUpdate(ctx, exec, actor.CollegeID, eventID)
		if err != nil {
			return lookupError(err, "event not found", "failed to load event")
		}
		if err := authorizeEventManagement(actor, event); err != nil {
			return err
		}
		removedStaff, err = s.staff.DeleteByEvent(ctx, exec, event.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to remove event staff")
		}
		if err := s.events.Delete(ctx, exec, actor.CollegeID, event.ID); err != nil {
			return lookupError(err, "event not found", "failed to delete event")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, actor, models.AuditActionEventDelete, eventID, map[string]interface{}{
		"removed_staff": removedStaff,
	})
	return nil
}

// RemoveStaff deletes one staff assignment of an event regardless of its status.
func (s *EventService) RemoveStaff(ctx context.Context, actor models.Principal, eventID, assignmentID string) error {
	if !actor.CanAny(models.CapManageOwnEvent, models.CapManageAnyEvent) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the organizer or an admin can manage event staff")
	}

	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		event, err := s.events.FindByIDForUpdate(ctx, exec, actor.CollegeID, eventID)
		if err != nil {
			return lookupError(err, "event not found", "failed to load event")
		}
		if err := authorizeEventManagement(actor, event); err != nil {
			return err
		}
		if err := s.staff.DeleteFromEvent(ctx, exec, event.ID, assignmentID); err != nil {
			return lookupError(err, "staff assignment not found", "failed to remove staff assignment")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.record(ctx, actor, models.AuditActionStaffRemove, "event_staff", assignmentID, map[string]interface{}{"event_id": eventID})
	return nil
}

// Get returns one event of the caller's college.
func (s *EventService) Get(ctx context.Context, actor models.Principal, eventID string) (*models.EventDetail, error) {
	if err := actor.Require(models.CapViewEvents); err != nil {
		return nil, err
	}
	detail, err := s.events.FindDetail(ctx, nil, actor.CollegeID, eventID)
	if err != nil {
		return nil, lookupError(err, "event not found", "failed to load event")
	}
	return detail, nil
}

// List returns the events of the caller's college, read through the cache.
func (s *EventService) List(ctx context.Context, actor models.Principal) ([]models.EventDetail, error) {
	if err := actor.Require(models.CapViewEvents); err != nil {
		return nil, err
	}

	key := collegeEventsKey(actor.CollegeID)
	if s.cache != nil {
		var cached []models.EventDetail
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	events, err := s.events.ListByCollege(ctx, actor.CollegeID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list events")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, events, s.cacheTTL)
	}
	return events, nil
}

// reserveVenue locks the venue and fails with a venue conflict when the
// interval overlaps a confirmed booking other than excludeID.
func (s *EventService) reserveVenue(ctx context.Context, exec sqlx.ExtContext, collegeID, venueID string, interval Interval, excludeID string) (*models.VenueSummary, error) {
	venue, err := s.venues.LockForBooking(ctx, exec, collegeID, venueID)
	if err != nil {
		return nil, lookupError(err, "venue not found", "failed to lock venue")
	}
	bookings, err := s.events.ListVenueBookings(ctx, exec, venueID, excludeID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load venue bookings")
	}
	if clash := FindConflict(interval, bookings, excludeID); clash != nil {
		if s.metrics != nil {
			s.metrics.RecordSchedulingConflict(models.ConflictDimensionVenue)
		}
		msg := fmt.Sprintf("venue %s is already booked by %q during this time", venue.Name, clash.Name)
		return nil, conflictError(appErrors.ErrVenueConflict, models.ConflictDimensionVenue, msg, clash)
	}
	return venue, nil
}

// recheckStaff locks each approved teacher of the event and fails with a
// schedule conflict when interval overlaps another of their approved
// assignments.
func (s *EventService) recheckStaff(ctx context.Context, exec sqlx.ExtContext, eventID string, interval Interval) error {
	teacherIDs, err := s.staff.ListApprovedStaff(ctx, exec, eventID)
	if err != nil {
		return appErrors.Internal(err, "failed to load event staff")
	}
	for _, teacherID := range teacherIDs {
		if _, err := s.users.FindByIDForUpdate(ctx, exec, teacherID); err != nil {
			return lookupError(err, "teacher not found", "failed to lock teacher")
		}
		bookings, err := s.staff.ListApprovedBookings(ctx, exec, teacherID)
		if err != nil {
			return appErrors.Internal(err, "failed to load teacher schedule")
		}
		clash := FindConflict(interval, bookings, eventID)
		if clash == nil {
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordSchedulingConflict(models.ConflictDimensionTeacher)
		}
		s.logger.Info("reschedule conflicts with assigned teacher",
			zap.String("event_id", eventID),
			zap.String("teacher_id", teacherID),
			zap.String("conflicting_event_id", clash.ID))
		msg := fmt.Sprintf("an assigned teacher is already staffing %q during this time", clash.Name)
		return conflictError(appErrors.ErrScheduleConflict, models.ConflictDimensionTeacher, msg, clash)
	}
	return nil
}

func (s *EventService) afterMutation(ctx context.Context, actor models.Principal, action, eventID string, values map[string]interface{}) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, collegeEventsKey(actor.CollegeID)+"*"); err != nil {
			s.logger.Warn("failed to invalidate event cache", zap.String("college_id", actor.CollegeID), zap.Error(err))
		}
	}
	s.audit.record(ctx, actor, action, "event", eventID, values)
}

func authorizeEventManagement(actor models.Principal, event *models.Event) error {
	if actor.Can(models.CapManageAnyEvent) {
		return nil
	}
	if actor.Can(models.CapManageOwnEvent) && event.OrganizerID == actor.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the organizer or an admin can manage this event")
}

func normalizeVenueID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func sameVenue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
