// Package errors provides structured error handling for the platform.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Content guardrail errors
	CodeValidationBlocked Code = "VALIDATION_BLOCKED"

	// Message lifecycle errors
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeAlreadyResolved   Code = "ALREADY_RESOLVED"
	CodeContentImmutable  Code = "CONTENT_IMMUTABLE"
	CodeCancelNotAllowed  Code = "CANCEL_NOT_ALLOWED"

	// Message input errors
	CodeMessageSubjectEmpty    Code = "MESSAGE_SUBJECT_EMPTY"
	CodeMessageBodyEmpty       Code = "MESSAGE_BODY_EMPTY"
	CodeMessageInvalidCategory Code = "MESSAGE_INVALID_CATEGORY"
	CodeMessageInvalidPriority Code = "MESSAGE_INVALID_PRIORITY"
	CodeContactIDEmpty         Code = "CONTACT_ID_EMPTY"

	// Delivery errors. These are internal-only: they are recorded on queue
	// entries and never surface in recipient- or teacher-facing views.
	CodeChannelUnavailable Code = "CHANNEL_UNAVAILABLE"
	CodeDeliveryTimeout    Code = "DELIVERY_TIMEOUT"
	CodeProviderError      Code = "PROVIDER_ERROR"

	// Authorization errors
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeValidationBlocked,
		CodeMessageSubjectEmpty,
		CodeMessageBodyEmpty,
		CodeMessageInvalidCategory,
		CodeMessageInvalidPriority,
		CodeContactIDEmpty:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeIllegalTransition,
		CodeContentImmutable,
		CodeCancelNotAllowed,
		CodeChannelUnavailable:
		return codes.FailedPrecondition

	// Aborted - lost a compare-and-set race
	case CodeAlreadyResolved,
		CodeConflict:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// PermissionDenied - capability check failed
	case CodeUnauthorized:
		return codes.PermissionDenied

	// Unavailable/DeadlineExceeded - provider-side delivery faults
	case CodeProviderError:
		return codes.Unavailable
	case CodeDeliveryTimeout:
		return codes.DeadlineExceeded

	default:
		return codes.Internal
	}
}
