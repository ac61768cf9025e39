package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionRegister         = "REGISTER"
	AuditActionEventCreate      = "EVENT_CREATE"
	AuditActionEventUpdate      = "EVENT_UPDATE"
	AuditActionEventDelete      = "EVENT_DELETE"
	AuditActionStaffRemove      = "STAFF_REMOVE"
	AuditActionStaffRequest     = "STAFF_REQUEST"
	AuditActionStaffAccept      = "STAFF_ACCEPT"
	AuditActionStaffReject      = "STAFF_REJECT"
	AuditActionStaffCancel      = "STAFF_CANCEL"
	AuditActionTeacherApprove   = "TEACHER_APPROVE"
	AuditActionTeacherReject    = "TEACHER_REJECT"
	AuditActionForumHeadApprove = "FORUM_HEAD_APPROVE"
	AuditActionForumHeadReject  = "FORUM_HEAD_REJECT"
	AuditActionUserPurge        = "USER_PURGE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string         `db:"id" json:"id"`
	CollegeID  *string        `db:"college_id" json:"college_id,omitempty"`
	UserID     *string        `db:"user_id" json:"user_id,omitempty"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID *string        `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  types.JSONText `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
