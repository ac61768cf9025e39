package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/config"
	"github.com/noah-isme/college-events-api/pkg/jobs"
)

const purgeJobType = "purge_unverified_user"

type cleanupUserRepository interface {
	ListUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type cleanupStaffRepository interface {
	DeleteByUser(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error)
}

type cleanupForumRepository interface {
	DeleteByUser(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error)
}

type purgeMetrics interface {
	RecordPurgedAccounts(n int)
}

// RegistrationCleanupService removes registrations whose email was never
// verified. Each account is deleted in its own transaction together with its
// staff assignments and forum memberships.
type RegistrationCleanupService struct {
	tx      txRunner
	users   cleanupUserRepository
	staff   cleanupStaffRepository
	forums  cleanupForumRepository
	cfg     config.CleanupConfig
	logger  *zap.Logger
	audit   auditTrail
	metrics purgeMetrics
	queue   *jobs.Queue
	now     func() time.Time

	inflight  sync.Map
	scheduler *cron.Cron
	mu        sync.Mutex
}

// NewRegistrationCleanupService constructs the cleanup service.
func NewRegistrationCleanupService(tx txRunner, users cleanupUserRepository, staff cleanupStaffRepository, forums cleanupForumRepository, cfg config.CleanupConfig, logger *zap.Logger, audit auditLogRepository, metrics purgeMetrics) *RegistrationCleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.UnverifiedTTL <= 0 {
		cfg.UnverifiedTTL = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	s := &RegistrationCleanupService{
		tx:      tx,
		users:   users,
		staff:   staff,
		forums:  forums,
		cfg:     cfg,
		logger:  logger,
		audit:   auditTrail{repo: audit, logger: logger},
		metrics: metrics,
		now:     time.Now,
	}
	s.queue = jobs.NewQueue("registration-cleanup", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDeadLetter: func(job jobs.Job, err error) {
			if id, ok := job.Payload.(string); ok {
				s.inflight.Delete(id)
			}
		},
	})
	return s
}

// Start launches the workers and schedules the sweep. Accounts left marked
// in flight by a previous run are released.
func (s *RegistrationCleanupService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}
	s.inflight.Range(func(key, _ interface{}) bool {
		s.inflight.Delete(key)
		return true
	})
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("registration sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule registration cleanup %q: %w", s.cfg.Schedule, err)
	}
	s.queue.Start(ctx)
	scheduler.Start()
	s.scheduler = scheduler
	s.logger.Info("registration cleanup started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("ttl", s.cfg.UnverifiedTTL))
	return nil
}

// Stop waits for a running sweep, then drains the workers.
func (s *RegistrationCleanupService) Stop() {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
	s.queue.Stop()
}

// Sweep enqueues one batch of expired registrations and returns how many
// were queued. Accounts already queued are skipped.
func (s *RegistrationCleanupService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.cutoff()
	stale, err := s.users.ListUnverifiedBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale registrations: %w", err)
	}
	queued := 0
	for _, user := range stale {
		if _, busy := s.inflight.LoadOrStore(user.ID, struct{}{}); busy {
			continue
		}
		job := jobs.Job{ID: user.ID, Type: purgeJobType, Payload: user.ID}
		if err := s.queue.Enqueue(job); err != nil {
			s.inflight.Delete(user.ID)
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("queued stale registrations", zap.Int("count", queued), zap.Time("cutoff", cutoff))
	}
	return queued, nil
}

func (s *RegistrationCleanupService) handle(ctx context.Context, job jobs.Job) error {
	userID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	if err := s.Purge(ctx, userID); err != nil {
		return err
	}
	s.inflight.Delete(userID)
	return nil
}

// Purge deletes one account if it is still unverified and past its TTL.
// Missing or since-verified accounts are left alone.
func (s *RegistrationCleanupService) Purge(ctx context.Context, userID string) error {
	var (
		removed   bool
		collegeID string
		staffRows int64
		forumRows int64
	)
	err := s.tx.Run(ctx, func(exec sqlx.ExtContext) error {
		removed = false
		user, err := s.users.FindByIDForUpdate(ctx, exec, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if user.EmailVerified || !user.CreatedAt.Before(s.cutoff()) {
			return nil
		}
		if staffRows, err = s.staff.DeleteByUser(ctx, exec, user.ID); err != nil {
			return err
		}
		if forumRows, err = s.forums.DeleteByUser(ctx, exec, user.ID); err != nil {
			return err
		}
		if err := s.users.Delete(ctx, exec, user.ID); err != nil {
			return err
		}
		removed = true
		collegeID = user.CollegeID
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge user %s: %w", userID, err)
	}
	if !removed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordPurgedAccounts(1)
	}
	s.audit.record(ctx, models.Principal{CollegeID: collegeID}, models.AuditActionUserPurge, "user", userID, map[string]interface{}{
		"staff_assignments": staffRows,
		"forum_memberships": forumRows,
	})
	s.logger.Info("purged unverified registration", zap.String("user_id", userID))
	return nil
}

func (s *RegistrationCleanupService) cutoff() time.Time {
	return s.now().UTC().Add(-s.cfg.UnverifiedTTL)
}
