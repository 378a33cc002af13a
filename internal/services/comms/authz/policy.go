// Package authz decides whether an identity may perform a comms action and
// parses operator identity tokens.
package authz

import (
	"context"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// RolePolicy implements domain.Authorizer with a static role capability
// policy plus ownership checks. Phase rules (which states allow an action)
// live in the domain service; this policy answers only who may ask.
type RolePolicy struct{}

// NewRolePolicy returns the standard role policy.
func NewRolePolicy() *RolePolicy {
	return &RolePolicy{}
}

// Authorized reports whether the identity may perform the action on the
// message.
//
//   - Admin roles (school and platform) hold every staff capability.
//   - Teachers compose, and act on messages they created. They never
//     approve, reject, or resend.
//   - Recipients only view and list their own messages.
func (p *RolePolicy) Authorized(_ context.Context, identity domain.Identity, action domain.Action, msg domain.Message) bool {
	if identity.UserID == "" || !identity.Role.Valid() {
		return false
	}

	switch identity.Role {
	case domain.RoleSchoolAdmin, domain.RolePlatformAdmin:
		return true
	case domain.RoleTeacher:
		switch action {
		case domain.ActionCompose, domain.ActionList:
			return true
		case domain.ActionEdit, domain.ActionSubmitForApproval, domain.ActionQueueDirect,
			domain.ActionCancel, domain.ActionView:
			return msg.CreatedBy == identity.UserID
		}
		return false
	case domain.RoleRecipient:
		switch action {
		case domain.ActionView, domain.ActionList:
			return msg.ContactID == identity.UserID
		}
		return false
	}
	return false
}

var _ domain.Authorizer = (*RolePolicy)(nil)
