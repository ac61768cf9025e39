package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/database"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
	"github.com/noah-isme/college-events-api/pkg/middleware/requestid"
)

// txRunner executes a closure inside one database transaction.
type txRunner interface {
	Run(ctx context.Context, fn database.TxFunc) error
}

type auditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type schedulingMetrics interface {
	RecordSchedulingConflict(dimension string)
}

// lookupError maps a repository read failure onto the public error kinds.
func lookupError(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFoundMsg)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Internal(err, internalMsg)
}

// auditTrail writes best-effort audit records. Failures are logged and never
// surface to the caller.
type auditTrail struct {
	repo   auditLogRepository
	logger *zap.Logger
}

func (a auditTrail) record(ctx context.Context, actor models.Principal, action, resource, resourceID string, values map[string]interface{}) {
	if a.repo == nil {
		return
	}
	entry := &models.AuditLog{
		Action:   action,
		Resource: resource,
	}
	if actor.UserID != "" {
		entry.UserID = &actor.UserID
	}
	if actor.CollegeID != "" {
		entry.CollegeID = &actor.CollegeID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		if values == nil {
			values = map[string]interface{}{}
		}
		values["request_id"] = reqID
	}
	if len(values) > 0 {
		if raw, err := json.Marshal(values); err == nil {
			entry.NewValues = types.JSONText(raw)
		}
	}
	if err := a.repo.Create(ctx, entry); err != nil && a.logger != nil {
		a.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
