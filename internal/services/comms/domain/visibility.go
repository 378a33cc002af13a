package domain

import "fmt"

// Role identifies one viewer class for visibility projection.
type Role string

const (
	RoleRecipient     Role = "recipient"
	RoleTeacher       Role = "teacher"
	RoleSchoolAdmin   Role = "school_admin"
	RolePlatformAdmin Role = "platform_admin"
)

// Valid reports whether r is a known viewer role.
func (r Role) Valid() bool {
	switch r {
	case RoleRecipient, RoleTeacher, RoleSchoolAdmin, RolePlatformAdmin:
		return true
	}
	return false
}

// Capabilities is the per-view action set derived from role and state.
type Capabilities struct {
	CanResend            bool
	CanSeeFailureReason  bool
	CanViewInternalNotes bool
	CanEdit              bool
	CanCancel            bool
}

// Projection is one role-appropriate view of a message's delivery state.
// FailureCode is populated only for the platform admin role.
type Projection struct {
	State        State
	LabelKey     string
	Capabilities Capabilities
	FailureCode  string
}

// Label keys resolved by the render package. The failure label never reaches
// recipient or teacher views; those roles see the neutral attention key.
const (
	LabelKeyDraft     = "comms.state.draft"
	LabelKeyPending   = "comms.state.pending"
	LabelKeyApproved  = "comms.state.approved"
	LabelKeyQueued    = "comms.state.queued"
	LabelKeySending   = "comms.state.sending"
	LabelKeySent      = "comms.state.sent"
	LabelKeyDelivered = "comms.state.delivered"
	LabelKeyFailed    = "comms.state.failed"
	LabelKeyAttention = "comms.state.requires_attention"
	LabelKeyCancelled = "comms.state.cancelled"
)

// projectionRule is one row of the single (role, state) projection table.
type projectionRule struct {
	Role         Role
	State        State
	LabelKey     string
	Capabilities Capabilities
}

// projectionTable is the single data table behind Project. Keeping one table
// instead of parallel per-role tables prevents drift as states are added.
var projectionTable = []projectionRule{
	// Recipient: sees progress labels only, never failure, no capabilities.
	{RoleRecipient, StateDraft, LabelKeyDraft, Capabilities{}},
	{RoleRecipient, StatePending, LabelKeyPending, Capabilities{}},
	{RoleRecipient, StateApproved, LabelKeyApproved, Capabilities{}},
	{RoleRecipient, StateQueued, LabelKeyQueued, Capabilities{}},
	{RoleRecipient, StateSending, LabelKeySending, Capabilities{}},
	{RoleRecipient, StateSent, LabelKeySent, Capabilities{}},
	{RoleRecipient, StateDelivered, LabelKeyDelivered, Capabilities{}},
	{RoleRecipient, StateFailed, LabelKeyPending, Capabilities{}},

	// Teacher: authors drafts, never sees failure detail.
	{RoleTeacher, StateDraft, LabelKeyDraft, Capabilities{CanEdit: true, CanCancel: true}},
	{RoleTeacher, StatePending, LabelKeyPending, Capabilities{CanEdit: true, CanCancel: true}},
	{RoleTeacher, StateApproved, LabelKeyApproved, Capabilities{}},
	{RoleTeacher, StateQueued, LabelKeyQueued, Capabilities{}},
	{RoleTeacher, StateSending, LabelKeySending, Capabilities{}},
	{RoleTeacher, StateSent, LabelKeySent, Capabilities{}},
	{RoleTeacher, StateDelivered, LabelKeyDelivered, Capabilities{}},
	{RoleTeacher, StateFailed, LabelKeyAttention, Capabilities{}},

	// School admin: operates the pipeline, sees that delivery stalled but not
	// the internal failure code.
	{RoleSchoolAdmin, StateDraft, LabelKeyDraft, Capabilities{CanEdit: true, CanCancel: true, CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StatePending, LabelKeyPending, Capabilities{CanEdit: true, CanCancel: true, CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StateApproved, LabelKeyApproved, Capabilities{CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StateQueued, LabelKeyQueued, Capabilities{CanCancel: true, CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StateSending, LabelKeySending, Capabilities{CanCancel: true, CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StateSent, LabelKeySent, Capabilities{CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StateDelivered, LabelKeyDelivered, Capabilities{CanViewInternalNotes: true}},
	{RoleSchoolAdmin, StateFailed, LabelKeyAttention, Capabilities{CanResend: true, CanViewInternalNotes: true}},

	// Platform admin: full visibility including the true failure state.
	{RolePlatformAdmin, StateDraft, LabelKeyDraft, Capabilities{CanEdit: true, CanCancel: true, CanViewInternalNotes: true}},
	{RolePlatformAdmin, StatePending, LabelKeyPending, Capabilities{CanEdit: true, CanCancel: true, CanViewInternalNotes: true}},
	{RolePlatformAdmin, StateApproved, LabelKeyApproved, Capabilities{CanViewInternalNotes: true}},
	{RolePlatformAdmin, StateQueued, LabelKeyQueued, Capabilities{CanCancel: true, CanViewInternalNotes: true}},
	{RolePlatformAdmin, StateSending, LabelKeySending, Capabilities{CanCancel: true, CanViewInternalNotes: true}},
	{RolePlatformAdmin, StateSent, LabelKeySent, Capabilities{CanViewInternalNotes: true}},
	{RolePlatformAdmin, StateDelivered, LabelKeyDelivered, Capabilities{CanViewInternalNotes: true}},
	{RolePlatformAdmin, StateFailed, LabelKeyFailed, Capabilities{CanResend: true, CanSeeFailureReason: true, CanViewInternalNotes: true}},
}

// Projector maps internal state plus viewer role to a role-appropriate view.
type Projector struct {
	rules map[Role]map[State]projectionRule
}

// NewProjector builds the projector and validates the projection table at
// construction: every (role, state) pair must be covered exactly once, and
// the information-hiding guarantees must hold structurally.
func NewProjector() (*Projector, error) {
	rules := make(map[Role]map[State]projectionRule, 4)
	for _, rule := range projectionTable {
		if !rule.Role.Valid() {
			return nil, fmt.Errorf("projection table: unknown role %q", rule.Role)
		}
		if !rule.State.Valid() {
			return nil, fmt.Errorf("projection table: unknown state %q", rule.State)
		}
		byState, ok := rules[rule.Role]
		if !ok {
			byState = make(map[State]projectionRule)
			rules[rule.Role] = byState
		}
		if _, dup := byState[rule.State]; dup {
			return nil, fmt.Errorf("projection table: duplicate row for %s/%s", rule.Role, rule.State)
		}
		byState[rule.State] = rule
	}

	allStates := []State{StateDraft, StatePending, StateApproved, StateQueued,
		StateSending, StateSent, StateDelivered, StateFailed}
	for _, role := range []Role{RoleRecipient, RoleTeacher, RoleSchoolAdmin, RolePlatformAdmin} {
		for _, state := range allStates {
			rule, ok := rules[role][state]
			if !ok {
				return nil, fmt.Errorf("projection table: missing row for %s/%s", role, state)
			}
			if state == StateFailed && (role == RoleRecipient || role == RoleTeacher) {
				if rule.LabelKey == LabelKeyFailed {
					return nil, fmt.Errorf("projection table: %s must not see the failure label", role)
				}
				if rule.Capabilities.CanSeeFailureReason {
					return nil, fmt.Errorf("projection table: %s must not see failure reasons", role)
				}
			}
			if rule.Capabilities.CanSeeFailureReason && role != RolePlatformAdmin {
				return nil, fmt.Errorf("projection table: only platform_admin may see failure reasons, found %s", role)
			}
		}
	}
	return &Projector{rules: rules}, nil
}

// Project returns the role-appropriate view of a message. failureCode is the
// internal last-error code for the message's current delivery cycle; it is
// surfaced only when the role's capabilities allow it. Cancelled messages
// render the cancelled label for staff roles and keep the plain state label
// for recipients.
func (p *Projector) Project(role Role, msg Message, failureCode string) (Projection, error) {
	if p == nil || p.rules == nil {
		return Projection{}, fmt.Errorf("projector is not constructed")
	}
	rule, ok := p.rules[role][msg.State]
	if !ok {
		return Projection{}, fmt.Errorf("no projection for role %q state %q", role, msg.State)
	}

	projection := Projection{
		State:        msg.State,
		LabelKey:     rule.LabelKey,
		Capabilities: rule.Capabilities,
	}
	if msg.Cancelled() {
		if role != RoleRecipient {
			projection.LabelKey = LabelKeyCancelled
		}
		projection.Capabilities.CanEdit = false
		projection.Capabilities.CanCancel = false
		projection.Capabilities.CanResend = false
	}
	if rule.Capabilities.CanSeeFailureReason {
		projection.FailureCode = failureCode
	}
	return projection, nil
}
