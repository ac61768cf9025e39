package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/response"
)

type approvalService interface {
	ApproveTeacher(ctx context.Context, actor models.Principal, userID string) (*models.User, error)
	RejectTeacher(ctx context.Context, actor models.Principal, userID string) (*models.User, error)
	ApproveForumHead(ctx context.Context, actor models.Principal, userID string, req models.ApproveForumHeadRequest) (*models.User, error)
	RejectForumHead(ctx context.Context, actor models.Principal, userID string) (*models.User, error)
}

// ApprovalHandler exposes account approval decisions.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs an ApprovalHandler.
func NewApprovalHandler(svc approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: svc}
}

// ApproveTeacher godoc
// @Summary Approve a pending teacher
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /approvals/teachers/{id}/approve [post]
func (h *ApprovalHandler) ApproveTeacher(c *gin.Context) {
	h.decide(c, h.service.ApproveTeacher)
}

// RejectTeacher godoc
// @Summary Reject a pending teacher
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /approvals/teachers/{id}/reject [post]
func (h *ApprovalHandler) RejectTeacher(c *gin.Context) {
	h.decide(c, h.service.RejectTeacher)
}

// ApproveForumHead godoc
// @Summary Approve a pending forum head for one forum
// @Description Admins may approve anyone. Forum heads may approve candidates who claim a forum they lead.
// @Tags Approvals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body models.ApproveForumHeadRequest true "Forum to verify"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /approvals/forum-heads/{id}/approve [post]
func (h *ApprovalHandler) ApproveForumHead(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req models.ApproveForumHeadRequest
	if !bindJSON(c, &req, "invalid approval payload") {
		return
	}
	user, err := h.service.ApproveForumHead(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, models.NewUserInfo(user))
}

// RejectForumHead godoc
// @Summary Reject a pending forum head
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /approvals/forum-heads/{id}/reject [post]
func (h *ApprovalHandler) RejectForumHead(c *gin.Context) {
	h.decide(c, h.service.RejectForumHead)
}

func (h *ApprovalHandler) decide(c *gin.Context, action func(context.Context, models.Principal, string) (*models.User, error)) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	user, err := action(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, models.NewUserInfo(user))
}
