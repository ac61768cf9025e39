package models

import (
	appErrors "github.com/noah-isme/college-events-api/pkg/errors"
)

// Capability names a single permission checked at a workflow boundary.
type Capability string

const (
	CapViewEvents          Capability = "events:view"
	CapCreateEvent         Capability = "events:create"
	CapUpdateEvent         Capability = "events:update"
	CapManageOwnEvent      Capability = "events:manage_own"
	CapManageAnyEvent      Capability = "events:manage_any"
	CapRequestStaff        Capability = "staff:request"
	CapRespondStaff        Capability = "staff:respond"
	CapDecideTeacher       Capability = "approvals:teacher"
	CapDecideAnyForumHead  Capability = "approvals:forum_head_any"
	CapDecidePeerForumHead Capability = "approvals:forum_head_peer"
)

var roleCapabilities = map[UserRole][]Capability{
	RoleAdmin: {
		CapViewEvents,
		CapManageAnyEvent,
		CapDecideTeacher,
		CapDecideAnyForumHead,
	},
	RoleForumHead: {
		CapViewEvents,
		CapCreateEvent,
		CapUpdateEvent,
		CapManageOwnEvent,
		CapRequestStaff,
		CapDecidePeerForumHead,
	},
	RoleTeacher: {
		CapViewEvents,
		CapRespondStaff,
	},
	RoleStudent: {
		CapViewEvents,
	},
}

// Can reports whether the role grants capability.
func (r UserRole) Can(capability Capability) bool {
	for _, c := range roleCapabilities[r] {
		if c == capability {
			return true
		}
	}
	return false
}

// Principal is the authenticated caller as seen by services.
type Principal struct {
	UserID    string
	Role      UserRole
	CollegeID string
}

// Can reports whether the principal holds capability.
func (p Principal) Can(capability Capability) bool {
	return p.UserID != "" && p.Role.Can(capability)
}

// CanAny reports whether the principal holds at least one capability.
func (p Principal) CanAny(capabilities ...Capability) bool {
	for _, c := range capabilities {
		if p.Can(c) {
			return true
		}
	}
	return false
}

// Require returns a forbidden error unless the principal holds capability.
func (p Principal) Require(capability Capability) error {
	if p.Can(capability) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "missing permission "+string(capability))
}
