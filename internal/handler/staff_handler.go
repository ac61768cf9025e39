package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/internal/service"
	"github.com/noah-isme/college-events-api/pkg/response"
)

type staffService interface {
	Request(ctx context.Context, actor models.Principal, eventID string, req models.RequestStaffRequest) (*models.StaffAssignment, error)
	Accept(ctx context.Context, actor models.Principal, assignmentID string) (*models.StaffAssignment, error)
	Reject(ctx context.Context, actor models.Principal, assignmentID string) error
	Cancel(ctx context.Context, actor models.Principal, assignmentID string) error
	ListPending(ctx context.Context, actor models.Principal) ([]models.StaffAssignmentView, error)
	ListAccepted(ctx context.Context, actor models.Principal) ([]models.StaffAssignmentView, error)
	ExportAccepted(ctx context.Context, actor models.Principal, format string) (*service.ExportedFile, error)
}

// StaffHandler exposes the staff assignment workflow.
type StaffHandler struct {
	service staffService
}

// NewStaffHandler constructs a StaffHandler.
func NewStaffHandler(svc staffService) *StaffHandler {
	return &StaffHandler{service: svc}
}

// Request godoc
// @Summary Request a teacher as event staff
// @Description Creates a pending assignment. Duplicate pairs fail with DUPLICATE_REQUEST.
// @Tags Staff
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Param payload body models.RequestStaffRequest true "Teacher to request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /events/{id}/staff [post]
func (h *StaffHandler) Request(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req models.RequestStaffRequest
	if !bindJSON(c, &req, "invalid staff request payload") {
		return
	}
	assignment, err := h.service.Request(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Pending godoc
// @Summary List the caller's pending staff requests
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /staff/requests/pending [get]
func (h *StaffHandler) Pending(c *gin.Context) {
	h.list(c, h.service.ListPending)
}

// Accepted godoc
// @Summary List the caller's accepted staff duties
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /staff/requests/accepted [get]
func (h *StaffHandler) Accepted(c *gin.Context) {
	h.list(c, h.service.ListAccepted)
}

func (h *StaffHandler) list(c *gin.Context, fetch func(context.Context, models.Principal) ([]models.StaffAssignmentView, error)) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	items, err := fetch(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}

// ExportAccepted godoc
// @Summary Download the caller's accepted duties
// @Tags Staff
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /staff/requests/accepted/export [get]
func (h *StaffHandler) ExportAccepted(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	file, err := h.service.ExportAccepted(c.Request.Context(), actor, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// Accept godoc
// @Summary Accept a pending staff request
// @Description Re-checks the caller's schedule. Overlaps fail with SCHEDULE_CONFLICT and leave the request pending.
// @Tags Staff
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /staff/requests/{id}/accept [post]
func (h *StaffHandler) Accept(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	assignment, err := h.service.Accept(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}

// Reject godoc
// @Summary Reject a pending staff request
// @Tags Staff
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /staff/requests/{id}/reject [post]
func (h *StaffHandler) Reject(c *gin.Context) {
	h.respond(c, h.service.Reject)
}

// Cancel godoc
// @Summary Withdraw from an accepted staff duty
// @Tags Staff
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /staff/requests/{id}/cancel [post]
func (h *StaffHandler) Cancel(c *gin.Context) {
	h.respond(c, h.service.Cancel)
}

func (h *StaffHandler) respond(c *gin.Context, action func(context.Context, models.Principal, string) error) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	if err := action(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
