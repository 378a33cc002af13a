package domain

import (
	perrors "github.com/classpulse/classpulse/internal/platform/errors"
)

var (
	// ErrValidationBlocked indicates message content matched a hard-block guardrail category.
	ErrValidationBlocked = perrors.New(perrors.CodeValidationBlocked, "message content is blocked by content guardrails")
	// ErrIllegalTransition indicates a lifecycle transition outside the transition table.
	ErrIllegalTransition = perrors.New(perrors.CodeIllegalTransition, "illegal message state transition")
	// ErrAlreadyResolved indicates a concurrent actor already resolved the message state.
	ErrAlreadyResolved = perrors.New(perrors.CodeAlreadyResolved, "message state was already resolved by another actor")
	// ErrContentImmutable indicates an edit attempt after content left draft/pending.
	ErrContentImmutable = perrors.New(perrors.CodeContentImmutable, "message content is immutable after leaving draft")
	// ErrCancelNotAllowed indicates cancellation is not permitted in the current phase.
	ErrCancelNotAllowed = perrors.New(perrors.CodeCancelNotAllowed, "message can no longer be cancelled")
	// ErrChannelUnavailable indicates no configured channel can carry the message.
	ErrChannelUnavailable = perrors.New(perrors.CodeChannelUnavailable, "no delivery channel is available for this contact")
	// ErrDeliveryTimeout indicates a provider send attempt exceeded its deadline.
	ErrDeliveryTimeout = perrors.New(perrors.CodeDeliveryTimeout, "delivery attempt timed out")
	// ErrProviderError indicates the delivery provider rejected or failed an attempt.
	ErrProviderError = perrors.New(perrors.CodeProviderError, "delivery provider reported a failure")
	// ErrUnauthorized indicates the identity lacks the capability for the action.
	ErrUnauthorized = perrors.New(perrors.CodeUnauthorized, "identity is not authorized for this action")
	// ErrNotFound indicates a requested message or contact record is missing.
	ErrNotFound = perrors.New(perrors.CodeNotFound, "record not found")
)
