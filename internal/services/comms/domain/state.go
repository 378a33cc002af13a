package domain

import "fmt"

// State is one stage of the message delivery lifecycle.
type State string

const (
	StateDraft     State = "draft"
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateQueued    State = "queued"
	StateSending   State = "sending"
	StateSent      State = "sent"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// InitialState is where every composed message starts.
const InitialState = StateDraft

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StatePending, StateApproved, StateQueued,
		StateSending, StateSent, StateDelivered, StateFailed:
		return true
	}
	return false
}

// Trigger names one legal lifecycle transition cause.
type Trigger string

const (
	TriggerSubmitForApproval Trigger = "submit_for_approval"
	TriggerQueueDirect       Trigger = "queue_direct"
	TriggerApprove           Trigger = "approve"
	TriggerReject            Trigger = "reject"
	TriggerAutoQueue         Trigger = "auto_queue"
	TriggerStartSend         Trigger = "start_send"
	TriggerSendSuccess       Trigger = "send_success"
	TriggerSendFailure       Trigger = "send_failure"
	TriggerConfirmDelivery   Trigger = "confirm_delivery"
	TriggerManualResend      Trigger = "manual_resend"
)

// TransitionRule is one legal lifecycle edge.
type TransitionRule struct {
	From         State
	To           State
	Trigger      Trigger
	RequiresAuth bool
}

// transitionTable is the closed set of legal transitions. Delivered is
// terminal; failed advances only through an authorized manual resend.
var transitionTable = []TransitionRule{
	{From: StateDraft, To: StatePending, Trigger: TriggerSubmitForApproval, RequiresAuth: true},
	{From: StateDraft, To: StateQueued, Trigger: TriggerQueueDirect, RequiresAuth: true},
	{From: StatePending, To: StateApproved, Trigger: TriggerApprove, RequiresAuth: true},
	{From: StatePending, To: StateFailed, Trigger: TriggerReject, RequiresAuth: true},
	{From: StateApproved, To: StateQueued, Trigger: TriggerAutoQueue, RequiresAuth: false},
	{From: StateQueued, To: StateSending, Trigger: TriggerStartSend, RequiresAuth: false},
	{From: StateSending, To: StateSent, Trigger: TriggerSendSuccess, RequiresAuth: false},
	{From: StateSending, To: StateFailed, Trigger: TriggerSendFailure, RequiresAuth: false},
	{From: StateSent, To: StateDelivered, Trigger: TriggerConfirmDelivery, RequiresAuth: false},
	{From: StateFailed, To: StateQueued, Trigger: TriggerManualResend, RequiresAuth: true},
}

// TransitionTable returns a copy of the closed transition table.
func TransitionTable() []TransitionRule {
	table := make([]TransitionRule, len(transitionTable))
	copy(table, transitionTable)
	return table
}

// StateMachine resolves lifecycle triggers against the closed transition table.
type StateMachine struct {
	rules map[State]map[Trigger]TransitionRule
}

// NewStateMachine builds the state machine and validates the transition table
// at construction so malformed tables cannot ship.
func NewStateMachine() (*StateMachine, error) {
	rules := make(map[State]map[Trigger]TransitionRule, len(transitionTable))
	for _, rule := range transitionTable {
		if !rule.From.Valid() {
			return nil, fmt.Errorf("transition table: unknown from-state %q", rule.From)
		}
		if !rule.To.Valid() {
			return nil, fmt.Errorf("transition table: unknown to-state %q", rule.To)
		}
		if rule.Trigger == "" {
			return nil, fmt.Errorf("transition table: empty trigger on edge %s -> %s", rule.From, rule.To)
		}
		byTrigger, ok := rules[rule.From]
		if !ok {
			byTrigger = make(map[Trigger]TransitionRule)
			rules[rule.From] = byTrigger
		}
		if _, dup := byTrigger[rule.Trigger]; dup {
			return nil, fmt.Errorf("transition table: duplicate edge for state %s trigger %s", rule.From, rule.Trigger)
		}
		byTrigger[rule.Trigger] = rule
	}
	if len(rules[StateDelivered]) != 0 {
		return nil, fmt.Errorf("transition table: delivered must be terminal")
	}
	return &StateMachine{rules: rules}, nil
}

// Next resolves the transition for (from, trigger). An edge outside the table
// fails with ErrIllegalTransition and implies no mutation.
func (m *StateMachine) Next(from State, trigger Trigger) (TransitionRule, error) {
	if m == nil || m.rules == nil {
		return TransitionRule{}, fmt.Errorf("state machine is not constructed")
	}
	rule, ok := m.rules[from][trigger]
	if !ok {
		return TransitionRule{}, ErrIllegalTransition
	}
	return rule, nil
}

// HasAutomaticEdge reports whether any unauthenticated automatic transition
// leaves the given state.
func (m *StateMachine) HasAutomaticEdge(from State) bool {
	if m == nil {
		return false
	}
	for _, rule := range m.rules[from] {
		if !rule.RequiresAuth {
			return true
		}
	}
	return false
}
