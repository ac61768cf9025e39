package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/config"
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

type staffFixture struct {
	store   *memStore
	staff   *staffRepoStub
	tx      *txStub
	metrics *conflictCounter
	svc     *StaffAssignmentService
}

func newStaffFixture(policy string) *staffFixture {
	store := newMemStore()
	store.addUser("head-1", "college-1", models.RoleForumHead, models.ApprovalApproved)
	store.addUser("teacher-x", "college-1", models.RoleTeacher, models.ApprovalApproved)
	store.addUser("teacher-far", "college-2", models.RoleTeacher, models.ApprovalApproved)
	store.addUser("student-1", "college-1", models.RoleStudent, models.ApprovalApproved)
	store.addEvent(models.Event{ID: "A", CollegeID: "college-1", Name: "Assembly", StartTime: at(9, 0), EndTime: at(10, 0)})
	store.addEvent(models.Event{ID: "D", CollegeID: "college-1", Name: "Debate", StartTime: at(9, 30), EndTime: at(10, 30)})
	store.addEvent(models.Event{ID: "E", CollegeID: "college-1", Name: "Exhibition", StartTime: at(10, 0), EndTime: at(11, 0)})
	store.addEvent(models.Event{ID: "R", CollegeID: "college-2", Name: "Remote", StartTime: at(9, 0), EndTime: at(10, 0)})
	store.addAssignment(models.StaffAssignment{ID: "asg-A", EventID: "A", UserID: "teacher-x", AssignmentRole: "Staff in Charge", Status: models.AssignmentApproved})

	f := &staffFixture{store: store, staff: &staffRepoStub{memStore: store}, tx: &txStub{store: store}, metrics: &conflictCounter{}}
	cfg := config.SchedulingConfig{RequestConflictPolicy: policy}
	f.svc = NewStaffAssignmentService(f.tx, &eventRepoStub{memStore: store}, &userRepoStub{memStore: store}, f.staff, nil, nil, cfg, &auditRepoStub{memStore: store}, f.metrics)
	return f
}

var (
	forumHead = principal("head-1", models.RoleForumHead, "college-1")
	teacherX  = principal("teacher-x", models.RoleTeacher, "college-1")
)

func TestStaffWorkflowAcceptRecheck(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyAllow)
	ctx := context.Background()

	req, err := f.svc.Request(ctx, forumHead, "D", models.RequestStaffRequest{TeacherID: "teacher-x"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentPending, req.Status)
	assert.Equal(t, models.DefaultAssignmentRole, req.AssignmentRole)
	require.NotNil(t, req.RequestedBy)
	assert.Equal(t, "head-1", *req.RequestedBy)

	_, err = f.svc.Accept(ctx, teacherX, req.ID)
	require.ErrorIs(t, err, appErrors.ErrScheduleConflict)
	details, ok := appErrors.FromError(err).Details.(models.BookingConflict)
	require.True(t, ok)
	assert.Equal(t, "A", details.EventID)
	assert.Equal(t, models.AssignmentPending, f.store.staff[req.ID].Status)
	assert.Equal(t, 1, f.metrics.counts[models.ConflictDimensionTeacher])

	require.NoError(t, f.svc.Cancel(ctx, teacherX, "asg-A"))
	assert.NotContains(t, f.store.staff, "asg-A")

	accepted, err := f.svc.Accept(ctx, teacherX, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentApproved, accepted.Status)
	assert.Equal(t, models.AssignmentApproved, f.store.staff[req.ID].Status)
	assert.Contains(t, f.store.locks, "user:teacher-x")
	assert.Equal(t, []string{"staff:requested", "staff:cancelled", "staff:accepted"}, f.metrics.decisions)
}

func TestStaffRequestRejectsConflictByDefault(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyReject)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, forumHead, "D", models.RequestStaffRequest{TeacherID: "teacher-x"})
	require.ErrorIs(t, err, appErrors.ErrScheduleConflict)
	assert.Len(t, f.store.staff, 1)

	adjacent, err := f.svc.Request(ctx, forumHead, "E", models.RequestStaffRequest{TeacherID: "teacher-x", AssignmentRole: "Photographer"})
	require.NoError(t, err)
	assert.Equal(t, "Photographer", adjacent.AssignmentRole)
}

func TestStaffRejectAndCancelSkipConflictCheck(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyAllow)
	ctx := context.Background()
	f.store.addAssignment(models.StaffAssignment{ID: "asg-D", EventID: "D", UserID: "teacher-x", Status: models.AssignmentPending})

	require.NoError(t, f.svc.Reject(ctx, teacherX, "asg-D"))
	assert.Equal(t, models.AssignmentRejected, f.store.staff["asg-D"].Status)
	require.NoError(t, f.svc.Cancel(ctx, teacherX, "asg-A"))
	assert.NotContains(t, f.store.staff, "asg-A")

	assert.Zero(t, f.staff.bookingLookups)
	assert.Empty(t, f.metrics.counts)
}

func TestStaffRequestErrors(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyAllow)
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   models.Principal
		eventID string
		teacher string
		want    *appErrors.Error
	}{
		{"teacher cannot request", teacherX, "D", "teacher-x", appErrors.ErrForbidden},
		{"missing event", forumHead, "nope", "teacher-x", appErrors.ErrNotFound},
		{"missing teacher", forumHead, "D", "nobody", appErrors.ErrNotFound},
		{"event in other college", forumHead, "R", "teacher-x", appErrors.ErrForbidden},
		{"teacher in other college", forumHead, "D", "teacher-far", appErrors.ErrForbidden},
		{"target not a teacher", forumHead, "D", "student-1", appErrors.ErrInvalidRole},
		{"missing teacher id", forumHead, "D", "", appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Request(ctx, tc.actor, tc.eventID, models.RequestStaffRequest{TeacherID: tc.teacher})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Len(t, f.store.staff, 1)
}

func TestStaffRequestDuplicateRegardlessOfStatus(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyAllow)
	ctx := context.Background()

	req, err := f.svc.Request(ctx, forumHead, "E", models.RequestStaffRequest{TeacherID: "teacher-x"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Reject(ctx, teacherX, req.ID))
	assert.Equal(t, models.AssignmentRejected, f.store.staff[req.ID].Status)

	_, err = f.svc.Request(ctx, forumHead, "E", models.RequestStaffRequest{TeacherID: "teacher-x"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateRequest)

	_, err = f.svc.Accept(ctx, teacherX, req.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound, "rejected requests cannot be reopened")
}

func TestStaffResponsesAreScopedToOwner(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyAllow)
	ctx := context.Background()
	f.store.addUser("teacher-y", "college-1", models.RoleTeacher, models.ApprovalApproved)
	other := principal("teacher-y", models.RoleTeacher, "college-1")

	req, err := f.svc.Request(ctx, forumHead, "E", models.RequestStaffRequest{TeacherID: "teacher-x"})
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, other, req.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.ErrorIs(t, f.svc.Reject(ctx, other, req.ID), appErrors.ErrNotFound)
	assert.ErrorIs(t, f.svc.Cancel(ctx, other, "asg-A"), appErrors.ErrNotFound)
	assert.ErrorIs(t, f.svc.Cancel(ctx, teacherX, req.ID), appErrors.ErrNotFound, "pending rows cannot be cancelled")
	assert.ErrorIs(t, f.svc.Reject(ctx, forumHead, req.ID), appErrors.ErrForbidden)

	assert.Equal(t, models.AssignmentPending, f.store.staff[req.ID].Status)
}

func TestStaffListsAndExport(t *testing.T) {
	f := newStaffFixture(config.ConflictPolicyAllow)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, forumHead, "E", models.RequestStaffRequest{TeacherID: "teacher-x"})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, forumHead, "D", models.RequestStaffRequest{TeacherID: "teacher-x"})
	require.NoError(t, err)

	pending, err := f.svc.ListPending(ctx, teacherX)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "E", pending[0].EventID)
	assert.Equal(t, "D", pending[1].EventID)

	accepted, err := f.svc.ListAccepted(ctx, teacherX)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "Assembly", accepted[0].EventName)

	_, err = f.svc.ListPending(ctx, forumHead)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	file, err := f.svc.ExportAccepted(ctx, teacherX, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))
	assert.Contains(t, string(file.Body), "Assembly")

	_, err = f.svc.ExportAccepted(ctx, teacherX, "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
