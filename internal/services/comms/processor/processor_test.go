package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
	"github.com/classpulse/classpulse/internal/services/comms/storage/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sendCall struct {
	Channel domain.Channel
	Address string
}

// scriptedSender fails the channels listed in fail and succeeds elsewhere.
type scriptedSender struct {
	mu    sync.Mutex
	fail  map[domain.Channel]error
	calls []sendCall
	seq   int
}

func (s *scriptedSender) Send(_ context.Context, channel domain.Channel, address string, _ string) (domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{Channel: channel, Address: address})
	if err := s.fail[channel]; err != nil {
		return domain.SendResult{}, err
	}
	s.seq++
	return domain.SendResult{ProviderMessageID: fmt.Sprintf("prov-%d", s.seq)}, nil
}

func (s *scriptedSender) callChannels() []domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]domain.Channel, len(s.calls))
	for i, call := range s.calls {
		channels[i] = call.Channel
	}
	return channels
}

func sequentialIDs() func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("gen-%04d", n), nil
	}
}

// recordingCache records which contacts had their projections invalidated.
type recordingCache struct {
	mu       sync.Mutex
	contacts []string
}

func (c *recordingCache) GetProjections(context.Context, string, domain.Role) ([]domain.Projection, bool) {
	return nil, false
}

func (c *recordingCache) SetProjections(context.Context, string, domain.Role, []domain.Projection) {
}

func (c *recordingCache) Invalidate(_ context.Context, contactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts = append(c.contacts, contactID)
}

func (c *recordingCache) invalidated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.contacts))
	copy(out, c.contacts)
	return out
}

type harness struct {
	store  *sqlite.Store
	sender *scriptedSender
	cache  *recordingCache
	clock  *fakeClock
	proc   *Processor
}

func newHarness(t *testing.T, cfg Config, fail map[domain.Channel]error) *harness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "comms.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	sender := &scriptedSender{fail: fail}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-test"
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Minute
	}
	cache := &recordingCache{}
	proc, err := New(cfg, store, sender, cache, clock.Now, sequentialIDs())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{store: store, sender: sender, cache: cache, clock: clock, proc: proc}
}

func (h *harness) seedContact(t *testing.T, contact domain.Contact) {
	t.Helper()
	if err := h.store.PutContact(context.Background(), contact); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) seedQueued(t *testing.T, messageID string, priority int) domain.Message {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()
	msg := domain.Message{
		ID:            messageID,
		Category:      domain.CategoryAcademic,
		ContactID:     "contact-1",
		Subject:       "Progress update",
		Body:          "Reading assignments completed.",
		Priority:      priority,
		State:         domain.StateQueued,
		DeliveryCycle: 1,
		CreatedBy:     "teacher-1",
		ScheduledFor:  now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.PutMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := h.store.EnqueueAttempt(ctx, domain.QueueEntry{
		ID:           "entry-" + messageID,
		MessageID:    messageID,
		Channel:      domain.ChannelPush,
		Cycle:        1,
		ScheduledFor: now,
	}); err != nil {
		t.Fatal(err)
	}
	return msg
}

// drainUntilSettled keeps draining (advancing the clock past retry backoffs)
// until a pass processes nothing.
func (h *harness) drainUntilSettled(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		processed, err := h.proc.DrainOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if processed == 0 {
			h.clock.Advance(2 * time.Minute)
			settled, err := h.proc.DrainOnce(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if settled == 0 {
				return
			}
		}
	}
	t.Fatal("queue did not settle")
}

func fullContact() domain.Contact {
	return domain.Contact{
		ID:           "contact-1",
		PushToken:    "push-token",
		SMSNumber:    "+15550100",
		EmailAddress: "parent@example.com",
	}
}

func TestDrainOnce_PushSuccessConflatesDelivered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	processed, err := h.proc.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	msg, err := h.store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	// Push has no delivery report, so the send conflates to delivered.
	if msg.State != domain.StateDelivered {
		t.Errorf("state = %q, want delivered", msg.State)
	}

	attempts, err := h.store.ListCycleAttempts(context.Background(), "msg-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || !attempts[0].Processed || attempts[0].LastErrorCode != "" {
		t.Errorf("attempts = %+v, want one clean processed entry", attempts)
	}
	if attempts[0].ProviderMessageID == "" {
		t.Error("provider message id not recorded")
	}

	contact, err := h.store.GetContact(context.Background(), "contact-1")
	if err != nil {
		t.Fatal(err)
	}
	if contact.LastContactedAt == nil {
		t.Error("last contacted at not stamped")
	}
}

func TestDrainOnce_SMSSuccessAwaitsConfirmation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	// SMS only: no push token configured.
	h.seedContact(t, domain.Contact{ID: "contact-1", SMSNumber: "+15550100"})
	msg := h.seedQueued(t, "msg-1", domain.PriorityNormal)

	// Reroute the seeded entry to the only available channel.
	if err := h.store.VoidPendingAttempts(context.Background(), msg.ID, h.clock.Now()); err != nil {
		t.Fatal(err)
	}
	if err := h.store.EnqueueAttempt(context.Background(), domain.QueueEntry{
		ID: "entry-sms", MessageID: msg.ID, Channel: domain.ChannelSMS, Cycle: 1, ScheduledFor: h.clock.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := h.store.GetMessage(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	// SMS providers emit delivery reports; the message waits in sent.
	if got.State != domain.StateSent {
		t.Errorf("state = %q, want sent", got.State)
	}
}

func TestDrainOnce_RetryThenFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryBackoff: time.Minute}, map[domain.Channel]error{
		domain.ChannelPush: domain.ErrProviderError,
	})
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	// First pass: push fails, a same-channel retry is scheduled with backoff.
	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	msg, _ := h.store.GetMessage(context.Background(), "msg-1")
	if msg.State != domain.StateSending {
		t.Fatalf("state after first failure = %q, want sending", msg.State)
	}

	// The retry is not due yet.
	processed, err := h.proc.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Fatalf("retry ran before backoff elapsed")
	}

	// Second push attempt fails; the selector moves to sms immediately.
	h.clock.Advance(2 * time.Minute)
	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	channels := h.sender.callChannels()
	want := []domain.Channel{domain.ChannelPush, domain.ChannelPush, domain.ChannelSMS}
	if len(channels) != len(want) {
		t.Fatalf("send sequence = %v, want %v", channels, want)
	}
	for i := range want {
		if channels[i] != want[i] {
			t.Fatalf("send sequence = %v, want %v", channels, want)
		}
	}

	msg, _ = h.store.GetMessage(context.Background(), "msg-1")
	if msg.State != domain.StateSent {
		t.Errorf("state after sms success = %q, want sent", msg.State)
	}
}

func TestDrainOnce_ExhaustionFinalizesFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetryBackoff: time.Second}, map[domain.Channel]error{
		domain.ChannelPush:  domain.ErrProviderError,
		domain.ChannelSMS:   domain.ErrProviderError,
		domain.ChannelEmail: domain.ErrProviderError,
	})
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	h.drainUntilSettled(t)

	msg, err := h.store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.State != domain.StateFailed {
		t.Errorf("state = %q, want failed after exhaustion", msg.State)
	}

	channels := h.sender.callChannels()
	if len(channels) != 6 {
		t.Errorf("total attempts = %d, want 6 (two per channel)", len(channels))
	}
	counts := map[domain.Channel]int{}
	for _, channel := range channels {
		counts[channel]++
	}
	for _, channel := range domain.ChannelPriorityOrder() {
		if counts[channel] != domain.MaxAttemptsPerChannel {
			t.Errorf("channel %s attempted %d times, want %d", channel, counts[channel], domain.MaxAttemptsPerChannel)
		}
	}

	attempts, err := h.store.ListCycleAttempts(context.Background(), "msg-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, attempt := range attempts {
		if !attempt.Processed || attempt.LastErrorCode == "" {
			t.Errorf("attempt %+v missing journal outcome", attempt)
		}
	}
}

func TestDrainOnce_SendingHoursGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{SendingHourStart: 8, SendingHourEnd: 20}, nil)
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	// 22:00 is outside the window: nothing is claimed, the entry is deferred.
	h.clock.Advance(12 * time.Hour)
	processed, err := h.proc.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Fatalf("processed %d entries outside sending hours", processed)
	}
	if len(h.sender.callChannels()) != 0 {
		t.Error("sender invoked outside sending hours")
	}

	// Back inside the window the entry is still there to claim.
	h.clock.Advance(11 * time.Hour)
	processed, err = h.proc.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if processed != 1 {
		t.Errorf("processed = %d after window reopened, want 1", processed)
	}
}

func TestDrainOnce_TimeoutRecordedAsTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, map[domain.Channel]error{
		domain.ChannelPush: context.DeadlineExceeded,
	})
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	attempts, err := h.store.ListCycleAttempts(context.Background(), "msg-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, attempt := range attempts {
		if attempt.Processed && attempt.LastErrorCode == errCodeDeliveryTimeout {
			found = true
		}
	}
	if !found {
		t.Errorf("attempts = %+v, want a DELIVERY_TIMEOUT outcome", attempts)
	}
}

func TestDrainOnce_UrgentClaimsFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-normal", domain.PriorityNormal)
	h.seedQueued(t, "msg-urgent", domain.PriorityUrgent)

	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := h.sender.callChannels()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	// Priority ordering is visible through the claim order; both sends hit
	// push, so check the journal instead.
	urgent, err := h.store.GetMessage(context.Background(), "msg-urgent")
	if err != nil {
		t.Fatal(err)
	}
	if urgent.State != domain.StateDelivered {
		t.Errorf("urgent message state = %q, want delivered", urgent.State)
	}
}

func TestDrainOnce_OvernightSendingWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{SendingHourStart: 22, SendingHourEnd: 6}, nil)
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	// 10:00 is outside the 22..6 window.
	processed, err := h.proc.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Fatalf("processed %d entries outside the overnight window", processed)
	}

	// 23:00 is inside, across the midnight wrap.
	h.clock.Advance(13 * time.Hour)
	processed, err = h.proc.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if processed != 1 {
		t.Errorf("processed = %d inside the overnight window, want 1", processed)
	}
}

func TestDrainOnce_InvalidatesProjectionsOnLifecycleChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.seedContact(t, fullContact())
	h.seedQueued(t, "msg-1", domain.PriorityNormal)

	if _, err := h.proc.DrainOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, contactID := range h.cache.invalidated() {
		if contactID == "contact-1" {
			found = true
		}
	}
	if !found {
		t.Error("projection cache not invalidated after delivery transitions")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing consumer")
	}
	if _, err := New(Config{Consumer: "w", SendingHourStart: 24}, nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for out-of-range sending hour")
	}
	if _, err := New(Config{Consumer: "w", SendingHourEnd: -1}, nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for negative sending hour")
	}
}
