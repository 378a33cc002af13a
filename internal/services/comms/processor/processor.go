// Package processor drives delivery attempts for queued parent
// communications: it claims due queue entries under a lease, invokes the
// channel sender, and applies the resulting lifecycle transitions and
// fallback scheduling.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	perrors "github.com/classpulse/classpulse/internal/platform/errors"
	"github.com/classpulse/classpulse/internal/platform/id"
	"github.com/classpulse/classpulse/internal/platform/timeouts"
	"github.com/classpulse/classpulse/internal/services/comms/domain"
	"github.com/classpulse/classpulse/internal/services/comms/storage"
)

// Internal attempt error codes recorded in the queue journal. They never
// reach recipient-facing projections.
const (
	errCodeDeliveryTimeout    = string(perrors.CodeDeliveryTimeout)
	errCodeProviderError      = string(perrors.CodeProviderError)
	errCodeChannelUnavailable = string(perrors.CodeChannelUnavailable)
	errCodeStaleEntry         = "STALE_ENTRY"
)

// Config tunes one processor instance.
type Config struct {
	// Consumer identifies this instance as a lease owner. Required.
	Consumer string
	// PollInterval is the idle delay between drain passes.
	PollInterval time.Duration
	// LeaseTTL is how long a claimed entry stays owned before other
	// instances may reclaim it.
	LeaseTTL time.Duration
	// SendTimeout caps one provider send invocation.
	SendTimeout time.Duration
	// RetryBackoff delays a same-channel retry after a failed attempt.
	// Switching to the next channel is immediate.
	RetryBackoff time.Duration
	// BatchSize caps claims per drain pass.
	BatchSize int
	// SendingHourStart and SendingHourEnd bound the local-time window in
	// which attempts run, as hours [start, end). The window may wrap past
	// midnight (start > end). Equal start and end disable the gate.
	SendingHourStart int
	SendingHourEnd   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = timeouts.ClaimLease
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = timeouts.SendAttempt
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	return c
}

// Processor executes delivery attempts against the queue.
type Processor struct {
	cfg     Config
	store   storage.Store
	sender  domain.Sender
	cache   domain.ProjectionCache
	machine *domain.StateMachine
	tracer  trace.Tracer
	clock   func() time.Time
	newID   func() (string, error)
}

// New constructs a processor. Store and sender are required; a nil cache
// disables projection invalidation.
func New(cfg Config, store storage.Store, sender domain.Sender, cache domain.ProjectionCache, clock func() time.Time, newID func() (string, error)) (*Processor, error) {
	if cfg.Consumer == "" {
		return nil, errors.New("consumer is required")
	}
	if cfg.SendingHourStart < 0 || cfg.SendingHourStart > 23 ||
		cfg.SendingHourEnd < 0 || cfg.SendingHourEnd > 23 {
		return nil, errors.New("sending hours must be within 0-23")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	machine, err := domain.NewStateMachine()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Processor{
		cfg:     cfg.withDefaults(),
		store:   store,
		sender:  sender,
		cache:   cache,
		machine: machine,
		tracer:  otel.Tracer("classpulse/comms/processor"),
		clock:   clock,
		newID:   newID,
	}, nil
}

// Run drains the queue until the context ends.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("drain pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce claims one batch of due entries and processes each. It returns
// the number of entries processed. Outside the sending-hours window nothing
// is claimed and entries stay untouched for a later pass.
func (p *Processor) DrainOnce(ctx context.Context) (int, error) {
	now := p.clock().UTC()
	if !p.withinSendingHours(now) {
		return 0, nil
	}

	ctx, span := p.tracer.Start(ctx, "comms.processor.drain")
	defer span.End()

	leased, err := p.store.LeaseDueEntries(ctx, p.cfg.Consumer, p.cfg.BatchSize, now, p.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease due entries: %w", err)
	}
	processed := 0
	for _, claimed := range leased {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := p.processEntry(ctx, claimed); err != nil {
			log.Printf("process entry %s: %v", claimed.Entry.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// withinSendingHours applies the [start, end) hour gate. A window with
// start > end wraps past midnight; equal start and end disable the gate.
func (p *Processor) withinSendingHours(now time.Time) bool {
	start, end := p.cfg.SendingHourStart, p.cfg.SendingHourEnd
	if start == end {
		return true
	}
	hour := now.Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// processEntry runs one claimed delivery attempt end to end.
func (p *Processor) processEntry(ctx context.Context, claimed storage.LeasedEntry) error {
	entry := claimed.Entry
	ctx, span := p.tracer.Start(ctx, "comms.processor.attempt", trace.WithAttributes(
		attribute.String("comms.message_id", entry.MessageID),
		attribute.String("comms.channel", string(entry.Channel)),
		attribute.Int("comms.cycle", entry.Cycle),
	))
	defer span.End()

	msg, err := p.store.GetMessage(ctx, entry.MessageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.Cancelled() {
		// Cancelled after the claim; the entry was voided, nothing to mark.
		return nil
	}
	if entry.Cycle != msg.DeliveryCycle {
		return p.markFailed(ctx, entry, errCodeStaleEntry)
	}

	switch msg.State {
	case domain.StateQueued:
		// First attempt of the cycle starts the send phase. Losing the race
		// to a concurrent worker is fine; the message is in sending either way.
		rule, ruleErr := p.machine.Next(domain.StateQueued, domain.TriggerStartSend)
		if ruleErr != nil {
			return ruleErr
		}
		transitionErr := p.store.TransitionMessage(ctx, msg.ID, rule.From, rule.To, p.clock().UTC(), domain.TransitionOptions{})
		if transitionErr != nil && !errors.Is(transitionErr, domain.ErrConflict) {
			return fmt.Errorf("start send: %w", transitionErr)
		}
		msg.State = domain.StateSending
		p.invalidateProjections(ctx, msg.ContactID)
	case domain.StateSending:
		// Fallback or retry attempt within the same cycle.
	default:
		return p.markFailed(ctx, entry, errCodeStaleEntry)
	}

	contact, err := p.store.GetContact(ctx, msg.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	address := contact.Address(entry.Channel)
	if address == "" {
		return p.handleFailure(ctx, msg, contact, entry, errCodeChannelUnavailable)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	result, sendErr := p.sender.Send(sendCtx, entry.Channel, address, msg.Body)
	cancel()
	if sendErr != nil {
		return p.handleFailure(ctx, msg, contact, entry, classifySendError(sendErr))
	}
	return p.handleSuccess(ctx, msg, contact, entry, result)
}

// classifySendError maps a sender error to an internal attempt error code.
func classifySendError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return errCodeDeliveryTimeout
	}
	var domainErr *perrors.Error
	if errors.As(err, &domainErr) {
		return string(domainErr.Code)
	}
	return errCodeProviderError
}

// handleSuccess records the provider acknowledgement and advances the
// lifecycle. Channels without delivery confirmation conflate sent and
// delivered immediately; confirming channels stay in sent until the provider
// report arrives.
func (p *Processor) handleSuccess(ctx context.Context, msg domain.Message, contact domain.Contact, entry domain.QueueEntry, result domain.SendResult) error {
	now := p.clock().UTC()
	if err := p.store.MarkEntryProcessed(ctx, entry.ID, p.cfg.Consumer, result.ProviderMessageID, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lease lost or entry voided after the send; the attempt already
			// reached the provider, so still advance the message.
			log.Printf("entry %s lease lost after successful send", entry.ID)
		} else {
			return fmt.Errorf("mark entry processed: %w", err)
		}
	}

	if err := p.transition(ctx, msg.ID, domain.StateSending, domain.TriggerSendSuccess, now); err != nil {
		return err
	}
	if !entry.Channel.ConfirmsDelivery() {
		if err := p.transition(ctx, msg.ID, domain.StateSent, domain.TriggerConfirmDelivery, now); err != nil {
			return err
		}
	}
	if err := p.store.RecordContactReached(ctx, contact.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("record contact reached: %w", err)
	}
	p.invalidateProjections(ctx, contact.ID)
	return nil
}

// handleFailure records the failed attempt, then either schedules the next
// attempt per the fallback selector or finalizes the message as failed when
// every available channel is spent.
func (p *Processor) handleFailure(ctx context.Context, msg domain.Message, contact domain.Contact, entry domain.QueueEntry, errorCode string) error {
	if err := p.markFailed(ctx, entry, errorCode); err != nil {
		return err
	}

	attempts, err := p.store.ListCycleAttempts(ctx, msg.ID, msg.DeliveryCycle)
	if err != nil {
		return fmt.Errorf("list cycle attempts: %w", err)
	}
	var outcomes []domain.ChannelAttempt
	for _, attempt := range attempts {
		if !attempt.Processed {
			continue
		}
		outcomes = append(outcomes, domain.ChannelAttempt{
			Channel: attempt.Channel,
			Failed:  attempt.LastErrorCode != "",
		})
	}

	available := contact.AvailableChannels(msg.Category, msg.Priority)
	status := domain.SummarizeAttempts(outcomes)
	next, ok := domain.NextChannel(status, available)
	if !ok {
		// Exhausted: finalize with no recipient notification. Staff views
		// surface the failure per their role.
		if err := p.transition(ctx, msg.ID, domain.StateSending, domain.TriggerSendFailure, p.clock().UTC()); err != nil {
			return err
		}
		p.invalidateProjections(ctx, msg.ContactID)
		return nil
	}

	entryID, err := p.newID()
	if err != nil {
		return fmt.Errorf("new entry id: %w", err)
	}
	now := p.clock().UTC()
	scheduledFor := now
	if next == entry.Channel {
		scheduledFor = now.Add(p.cfg.RetryBackoff)
	}
	if err := p.store.EnqueueAttempt(ctx, domain.QueueEntry{
		ID:           entryID,
		MessageID:    msg.ID,
		Channel:      next,
		Cycle:        msg.DeliveryCycle,
		ScheduledFor: scheduledFor,
	}); err != nil {
		return fmt.Errorf("enqueue fallback attempt: %w", err)
	}
	return nil
}

func (p *Processor) markFailed(ctx context.Context, entry domain.QueueEntry, errorCode string) error {
	err := p.store.MarkEntryFailed(ctx, entry.ID, p.cfg.Consumer, errorCode, p.clock().UTC())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("mark entry failed: %w", err)
	}
	return nil
}

// invalidateProjections drops cached inbox listings after a lifecycle change.
func (p *Processor) invalidateProjections(ctx context.Context, contactID string) {
	if p.cache == nil {
		return
	}
	p.cache.Invalidate(ctx, contactID)
}

// transition applies one automatic lifecycle edge, tolerating lost races.
func (p *Processor) transition(ctx context.Context, messageID string, from domain.State, trigger domain.Trigger, at time.Time) error {
	rule, err := p.machine.Next(from, trigger)
	if err != nil {
		return err
	}
	if err := p.store.TransitionMessage(ctx, messageID, rule.From, rule.To, at, domain.TransitionOptions{}); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("transition %s via %s: %w", messageID, trigger, err)
	}
	return nil
}
