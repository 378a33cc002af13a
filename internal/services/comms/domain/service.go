package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	perrors "github.com/classpulse/classpulse/internal/platform/errors"
	"github.com/classpulse/classpulse/internal/platform/id"
)

// Identity is one authenticated caller.
type Identity struct {
	UserID string
	Role   Role
}

// Action names one capability consulted through the Authorizer.
type Action string

const (
	ActionCompose           Action = "compose"
	ActionEdit              Action = "edit"
	ActionSubmitForApproval Action = Action(TriggerSubmitForApproval)
	ActionQueueDirect       Action = Action(TriggerQueueDirect)
	ActionApprove           Action = Action(TriggerApprove)
	ActionReject            Action = Action(TriggerReject)
	ActionManualResend      Action = Action(TriggerManualResend)
	ActionCancel            Action = "cancel"
	ActionView              Action = "view"
	ActionList              Action = "list"
)

// Authorizer is the yes/no capability check collaborator. It is consulted
// for every transition that requires authorization and for visibility access.
type Authorizer interface {
	Authorized(ctx context.Context, identity Identity, action Action, msg Message) bool
}

// SendResult is the provider acknowledgement for one send invocation.
type SendResult struct {
	ProviderMessageID string
}

// Sender is the abstract channel-send collaborator. Only the queue processor
// invokes it.
type Sender interface {
	Send(ctx context.Context, channel Channel, address string, body string) (SendResult, error)
}

// QueueEntry is one scheduled delivery attempt for one message on one
// channel. LastErrorCode is internal-only and never reaches recipient-facing
// views.
type QueueEntry struct {
	ID                string
	MessageID         string
	Channel           Channel
	Cycle             int
	ScheduledFor      time.Time
	AttemptCount      int
	LastErrorCode     string
	ProviderMessageID string
	Processed         bool
	ProcessedAt       *time.Time
	Voided            bool
}

// MessagePage is one paged recipient-scoped listing.
type MessagePage struct {
	Messages      []Message
	NextPageToken string
}

// TransitionOptions carries per-transition side effects applied atomically
// with the state compare-and-set.
type TransitionOptions struct {
	ApprovedBy string // records approval metadata when non-empty
	BumpCycle  bool   // starts a new delivery cycle (manual resend)
}

// Store is the domain persistence boundary. TransitionMessage must be an
// atomic conditional update: it mutates only when the stored state equals
// from, and reports ErrConflict otherwise.
type Store interface {
	PutMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	UpdateMessageContent(ctx context.Context, id string, subject, body string, at time.Time) error
	TransitionMessage(ctx context.Context, id string, from, to State, at time.Time, opts TransitionOptions) error
	CancelMessage(ctx context.Context, id string, at time.Time) error
	ListMessagesByContact(ctx context.Context, contactID string, pageSize int, pageToken string) (MessagePage, error)

	GetContact(ctx context.Context, id string) (Contact, error)
	RecordContactReached(ctx context.Context, contactID string, at time.Time) error

	EnqueueAttempt(ctx context.Context, entry QueueEntry) error
	ListCycleAttempts(ctx context.Context, messageID string, cycle int) ([]QueueEntry, error)
	VoidPendingAttempts(ctx context.Context, messageID string, at time.Time) error
}

// ErrConflict is the storage-level sentinel for a lost compare-and-set.
// Stores return it from TransitionMessage; the service maps it to
// ErrAlreadyResolved.
var ErrConflict = errors.New("conditional update conflict")

// ProjectionCache caches role-scoped listing projections. Implementations
// are best-effort; misses and errors degrade to store reads.
type ProjectionCache interface {
	GetProjections(ctx context.Context, contactID string, role Role) ([]Projection, bool)
	SetProjections(ctx context.Context, contactID string, role Role, projections []Projection)
	Invalidate(ctx context.Context, contactID string)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service orchestrates message authoring, approval, and role-scoped
// visibility. Delivery execution belongs to the queue processor.
type Service struct {
	store     Store
	authz     Authorizer
	cache     ProjectionCache
	machine   *StateMachine
	projector *Projector
	clock     func() time.Time
	newID     func() (string, error)
}

// NewService constructs the comms domain service. The transition and
// projection tables are validated here so malformed tables fail startup.
func NewService(store Store, authz Authorizer, cache ProjectionCache, clock func() time.Time, newID func() (string, error)) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if authz == nil {
		return nil, errors.New("authorizer is required")
	}
	machine, err := NewStateMachine()
	if err != nil {
		return nil, err
	}
	projector, err := NewProjector()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:     store,
		authz:     authz,
		cache:     cache,
		machine:   machine,
		projector: projector,
		clock:     clock,
		newID:     newID,
	}, nil
}

// Machine exposes the validated state machine for the queue processor.
func (s *Service) Machine() *StateMachine {
	return s.machine
}

// ComposeInput describes one new message draft.
type ComposeInput struct {
	ContactID        string
	Category         Category
	Subject          string
	Body             string
	Priority         int
	RequiresApproval bool
	ScheduledFor     time.Time
}

// Compose creates a draft after running the content guardrails. Blocked
// content fails with ErrValidationBlocked; warning-level findings are
// returned alongside the created draft so authors can revise.
func (s *Service) Compose(ctx context.Context, identity Identity, input ComposeInput) (Message, ValidationResult, error) {
	if !s.authz.Authorized(ctx, identity, ActionCompose, Message{ContactID: input.ContactID, CreatedBy: identity.UserID}) {
		return Message{}, ValidationResult{}, ErrUnauthorized
	}

	contactID := strings.TrimSpace(input.ContactID)
	if contactID == "" {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeContactIDEmpty, "contact id is required")
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeMessageSubjectEmpty, "message subject is required")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeMessageBodyEmpty, "message body is required")
	}
	if !input.Category.Valid() {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeMessageInvalidCategory, "unknown message category")
	}
	if input.Priority < PriorityLow || input.Priority > PriorityUrgent {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeMessageInvalidPriority, "priority must be between 1 and 4")
	}

	result := ValidateContent(subject + "\n" + body)
	if !result.IsValid {
		return Message{}, result, ErrValidationBlocked
	}

	if _, err := s.store.GetContact(ctx, contactID); err != nil {
		return Message{}, result, err
	}

	messageID, err := s.newID()
	if err != nil {
		return Message{}, result, err
	}
	now := s.nowUTC()
	scheduledFor := input.ScheduledFor.UTC()
	if input.ScheduledFor.IsZero() {
		scheduledFor = now
	}
	msg := Message{
		ID:               messageID,
		Category:         input.Category,
		ContactID:        contactID,
		Subject:          subject,
		Body:             body,
		Priority:         input.Priority,
		RequiresApproval: input.RequiresApproval,
		State:            InitialState,
		DeliveryCycle:    1,
		CreatedBy:        identity.UserID,
		ScheduledFor:     scheduledFor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return Message{}, result, err
	}
	return msg, result, nil
}

// EditDraft replaces subject and body while the message is still editable.
// Content is immutable once the message leaves draft/pending.
func (s *Service) EditDraft(ctx context.Context, identity Identity, messageID, subject, body string) (Message, ValidationResult, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, ValidationResult{}, err
	}
	if !s.authz.Authorized(ctx, identity, ActionEdit, msg) {
		return Message{}, ValidationResult{}, ErrUnauthorized
	}
	if msg.Cancelled() || !msg.ContentEditable() {
		return Message{}, ValidationResult{}, ErrContentImmutable
	}

	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeMessageSubjectEmpty, "message subject is required")
	}
	if body == "" {
		return Message{}, ValidationResult{}, perrors.New(perrors.CodeMessageBodyEmpty, "message body is required")
	}
	result := ValidateContent(subject + "\n" + body)
	if !result.IsValid {
		return Message{}, result, ErrValidationBlocked
	}

	now := s.nowUTC()
	if err := s.store.UpdateMessageContent(ctx, messageID, subject, body, now); err != nil {
		if errors.Is(err, ErrConflict) {
			return Message{}, result, ErrContentImmutable
		}
		return Message{}, result, err
	}
	msg.Subject = subject
	msg.Body = body
	msg.UpdatedAt = now
	return msg, result, nil
}

// SubmitForApproval moves a draft into the approval queue.
func (s *Service) SubmitForApproval(ctx context.Context, identity Identity, messageID string) (Message, error) {
	return s.trigger(ctx, identity, messageID, TriggerSubmitForApproval, TransitionOptions{})
}

// Approve resolves a pending message and automatically queues it. The
// auto-queue edge requires no second authorization check. Concurrent
// approve/reject races are resolved by the state compare-and-set: the loser
// receives ErrAlreadyResolved.
func (s *Service) Approve(ctx context.Context, identity Identity, messageID string) (Message, error) {
	msg, err := s.trigger(ctx, identity, messageID, TriggerApprove, TransitionOptions{ApprovedBy: identity.UserID})
	if err != nil {
		return Message{}, err
	}
	return s.autoQueue(ctx, msg)
}

// Reject resolves a pending message as failed. Rejection is recoverable only
// through an authorized manual resend.
func (s *Service) Reject(ctx context.Context, identity Identity, messageID string) (Message, error) {
	return s.trigger(ctx, identity, messageID, TriggerReject, TransitionOptions{})
}

// QueueDirect queues a draft that does not require approval.
func (s *Service) QueueDirect(ctx context.Context, identity Identity, messageID string) (Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.RequiresApproval {
		return Message{}, ErrIllegalTransition
	}
	msg, err = s.trigger(ctx, identity, messageID, TriggerQueueDirect, TransitionOptions{})
	if err != nil {
		return Message{}, err
	}
	if err := s.enqueueFirstAttempt(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ManualResend restarts delivery for a failed message in a fresh cycle with a
// full retry budget on every channel.
func (s *Service) ManualResend(ctx context.Context, identity Identity, messageID string) (Message, error) {
	msg, err := s.trigger(ctx, identity, messageID, TriggerManualResend, TransitionOptions{BumpCycle: true})
	if err != nil {
		return Message{}, err
	}
	if err := s.enqueueFirstAttempt(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ConfirmDelivery applies a provider delivery confirmation for channels that
// emit one. It carries no authorization requirement.
func (s *Service) ConfirmDelivery(ctx context.Context, messageID string) (Message, error) {
	return s.trigger(ctx, Identity{}, messageID, TriggerConfirmDelivery, TransitionOptions{})
}

// Cancel archives a message out of the delivery pipeline without forging a
// lifecycle transition: the record keeps its state, gains a cancellation
// timestamp, and its unprocessed queue entries are voided. Draft and pending
// messages may be cancelled by their owner or an admin; queued and sending
// messages only by admin roles and only before any provider acknowledgement;
// sent and later phases cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, identity Identity, messageID string) (Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.Cancelled() {
		return Message{}, ErrAlreadyResolved
	}
	if !s.authz.Authorized(ctx, identity, ActionCancel, msg) {
		return Message{}, ErrUnauthorized
	}

	switch msg.State {
	case StateDraft, StatePending:
		// Owner or admin; the authorizer already enforced ownership.
	case StateApproved, StateQueued, StateSending:
		if identity.Role != RoleSchoolAdmin && identity.Role != RolePlatformAdmin {
			return Message{}, ErrUnauthorized
		}
		confirmed, err := s.hasProviderAck(ctx, msg)
		if err != nil {
			return Message{}, err
		}
		if confirmed {
			return Message{}, ErrCancelNotAllowed
		}
	default:
		return Message{}, ErrCancelNotAllowed
	}

	now := s.nowUTC()
	if err := s.store.CancelMessage(ctx, messageID, now); err != nil {
		if errors.Is(err, ErrConflict) {
			return Message{}, ErrAlreadyResolved
		}
		return Message{}, err
	}
	if err := s.store.VoidPendingAttempts(ctx, messageID, now); err != nil {
		return Message{}, err
	}
	s.invalidateCache(ctx, msg.ContactID)

	msg.CancelledAt = &now
	msg.UpdatedAt = now
	return msg, nil
}

// GetProjection returns the role-appropriate view of one message. The
// internal failure code is looked up only for viewers allowed to see it.
func (s *Service) GetProjection(ctx context.Context, identity Identity, messageID string) (Projection, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Projection{}, err
	}
	if !s.authz.Authorized(ctx, identity, ActionView, msg) {
		return Projection{}, ErrUnauthorized
	}

	failureCode := ""
	if identity.Role == RolePlatformAdmin {
		failureCode, err = s.latestFailureCode(ctx, msg)
		if err != nil {
			return Projection{}, err
		}
	}
	return s.projector.Project(identity.Role, msg, failureCode)
}

// DeliveryRecord aggregates the current delivery cycle for admin inspection:
// total processed attempts, the channel of the most recent attempt, and the
// message's lifecycle state. Staff admin roles only.
func (s *Service) DeliveryRecord(ctx context.Context, identity Identity, messageID string) (DeliveryRecord, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return DeliveryRecord{}, err
	}
	if identity.Role != RoleSchoolAdmin && identity.Role != RolePlatformAdmin {
		return DeliveryRecord{}, ErrUnauthorized
	}
	if !s.authz.Authorized(ctx, identity, ActionView, msg) {
		return DeliveryRecord{}, ErrUnauthorized
	}

	entries, err := s.store.ListCycleAttempts(ctx, msg.ID, msg.DeliveryCycle)
	if err != nil {
		return DeliveryRecord{}, err
	}
	record := DeliveryRecord{MessageID: msg.ID, FinalState: msg.State}
	for _, entry := range entries {
		if entry.Voided {
			continue
		}
		record.CurrentChannel = entry.Channel
		if entry.Processed {
			record.TotalAttempts++
		}
	}
	return record, nil
}

// ListByRecipient lists role-appropriate projections of one contact's
// messages. Recipients see only messages that entered delivery and never see
// cancelled ones. First-page results are served from the projection cache
// when available.
func (s *Service) ListByRecipient(ctx context.Context, identity Identity, contactID string, pageSize int, pageToken string) ([]Projection, string, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, "", perrors.New(perrors.CodeContactIDEmpty, "contact id is required")
	}
	if !s.authz.Authorized(ctx, identity, ActionList, Message{ContactID: contactID}) {
		return nil, "", ErrUnauthorized
	}

	firstPage := pageToken == ""
	if firstPage && s.cache != nil {
		if projections, ok := s.cache.GetProjections(ctx, contactID, identity.Role); ok {
			return projections, "", nil
		}
	}

	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	page, err := s.store.ListMessagesByContact(ctx, contactID, pageSize, pageToken)
	if err != nil {
		return nil, "", err
	}

	projections := make([]Projection, 0, len(page.Messages))
	for _, msg := range page.Messages {
		if identity.Role == RoleRecipient {
			if msg.Cancelled() || !deliveryVisible(msg.State) {
				continue
			}
		}
		failureCode := ""
		if identity.Role == RolePlatformAdmin {
			failureCode, err = s.latestFailureCode(ctx, msg)
			if err != nil {
				return nil, "", err
			}
		}
		projection, err := s.projector.Project(identity.Role, msg, failureCode)
		if err != nil {
			return nil, "", err
		}
		projections = append(projections, projection)
	}

	if firstPage && page.NextPageToken == "" && s.cache != nil {
		s.cache.SetProjections(ctx, contactID, identity.Role, projections)
	}
	return projections, page.NextPageToken, nil
}

// trigger resolves and applies one table transition with its authorization
// requirement, mapping a lost compare-and-set to ErrAlreadyResolved.
func (s *Service) trigger(ctx context.Context, identity Identity, messageID string, trig Trigger, opts TransitionOptions) (Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.Cancelled() {
		return Message{}, ErrAlreadyResolved
	}
	rule, err := s.machine.Next(msg.State, trig)
	if err != nil {
		return Message{}, err
	}
	if rule.RequiresAuth && !s.authz.Authorized(ctx, identity, Action(trig), msg) {
		return Message{}, ErrUnauthorized
	}

	now := s.nowUTC()
	if err := s.store.TransitionMessage(ctx, messageID, rule.From, rule.To, now, opts); err != nil {
		if errors.Is(err, ErrConflict) {
			return Message{}, ErrAlreadyResolved
		}
		return Message{}, err
	}
	s.invalidateCache(ctx, msg.ContactID)

	msg.State = rule.To
	msg.UpdatedAt = now
	if opts.ApprovedBy != "" {
		msg.ApprovedBy = opts.ApprovedBy
		msg.ApprovedAt = &now
	}
	if opts.BumpCycle {
		msg.DeliveryCycle++
	}
	return msg, nil
}

// autoQueue drives approved -> queued without an authorization check and
// enqueues the first delivery attempt.
func (s *Service) autoQueue(ctx context.Context, msg Message) (Message, error) {
	rule, err := s.machine.Next(msg.State, TriggerAutoQueue)
	if err != nil {
		return Message{}, err
	}
	now := s.nowUTC()
	if err := s.store.TransitionMessage(ctx, msg.ID, rule.From, rule.To, now, TransitionOptions{}); err != nil {
		if errors.Is(err, ErrConflict) {
			return Message{}, ErrAlreadyResolved
		}
		return Message{}, err
	}
	msg.State = rule.To
	msg.UpdatedAt = now
	if err := s.enqueueFirstAttempt(ctx, msg); err != nil {
		return Message{}, err
	}
	s.invalidateCache(ctx, msg.ContactID)
	return msg, nil
}

// enqueueFirstAttempt creates the initial queue entry for the current
// delivery cycle on the highest-priority available channel.
func (s *Service) enqueueFirstAttempt(ctx context.Context, msg Message) error {
	contact, err := s.store.GetContact(ctx, msg.ContactID)
	if err != nil {
		return err
	}
	available := contact.AvailableChannels(msg.Category, msg.Priority)
	channel, ok := NextChannel(nil, available)
	if !ok {
		return ErrChannelUnavailable
	}

	entryID, err := s.newID()
	if err != nil {
		return err
	}
	now := s.nowUTC()
	scheduledFor := msg.ScheduledFor
	if scheduledFor.Before(now) {
		scheduledFor = now
	}
	return s.store.EnqueueAttempt(ctx, QueueEntry{
		ID:           entryID,
		MessageID:    msg.ID,
		Channel:      channel,
		Cycle:        msg.DeliveryCycle,
		ScheduledFor: scheduledFor,
	})
}

// latestFailureCode returns the most recent internal error code recorded in
// the message's current delivery cycle.
func (s *Service) latestFailureCode(ctx context.Context, msg Message) (string, error) {
	entries, err := s.store.ListCycleAttempts(ctx, msg.ID, msg.DeliveryCycle)
	if err != nil {
		return "", err
	}
	code := ""
	for _, entry := range entries {
		if entry.Processed && entry.LastErrorCode != "" {
			code = entry.LastErrorCode
		}
	}
	return code, nil
}

// hasProviderAck reports whether any attempt in the current cycle was
// acknowledged by a provider.
func (s *Service) hasProviderAck(ctx context.Context, msg Message) (bool, error) {
	entries, err := s.store.ListCycleAttempts(ctx, msg.ID, msg.DeliveryCycle)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Processed && entry.LastErrorCode == "" {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) invalidateCache(ctx context.Context, contactID string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, contactID)
}

func deliveryVisible(state State) bool {
	switch state {
	case StateQueued, StateSending, StateSent, StateDelivered, StateFailed:
		return true
	}
	return false
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
