package models

import "time"

// AssignmentStatus is the state of a staff request.
type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "pending"
	AssignmentApproved AssignmentStatus = "approved"
	AssignmentRejected AssignmentStatus = "rejected"
)

// DefaultAssignmentRole labels a staff assignment when none is given.
const DefaultAssignmentRole = "Staff in Charge"

// StaffAssignment links a teacher to an event they were asked to supervise.
type StaffAssignment struct {
	ID             string           `db:"id" json:"id"`
	EventID        string           `db:"event_id" json:"event_id"`
	UserID         string           `db:"user_id" json:"user_id"`
	AssignmentRole string           `db:"assignment_role" json:"assignment_role"`
	Status         AssignmentStatus `db:"status" json:"status"`
	RequestedBy    *string          `db:"requested_by" json:"requested_by,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// StaffAssignmentView is an assignment joined with its event window.
type StaffAssignmentView struct {
	StaffAssignment
	EventName  string    `db:"event_name" json:"event_name"`
	EventStart time.Time `db:"event_start" json:"event_start"`
	EventEnd   time.Time `db:"event_end" json:"event_end"`
	VenueName  *string   `db:"venue_name" json:"venue_name,omitempty"`
}

// RequestStaffRequest asks a teacher to staff an event.
type RequestStaffRequest struct {
	TeacherID      string `json:"teacher_id" validate:"required"`
	AssignmentRole string `json:"assignment_role" validate:"omitempty,max=100"`
}
