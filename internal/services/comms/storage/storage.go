package storage

import (
	"context"
	"time"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// Queue entry statuses. An entry is created pending, leased by exactly one
// processor instance, and ends processed (with or without an error code) or
// voided by cancellation. Processed entries double as the durable attempt
// journal.
const (
	EntryStatusPending   = "pending"
	EntryStatusLeased    = "leased"
	EntryStatusProcessed = "processed"
	EntryStatusVoided    = "voided"
)

// LeasedEntry is one queue entry claimed by a processor instance, joined with
// the message fields the processor needs to act on it.
type LeasedEntry struct {
	Entry    domain.QueueEntry
	Priority int
	State    domain.State
	Cycle    int
}

// QueueLeaseStore is the processor-facing claim contract. LeaseDueEntries
// atomically claims due pending entries (and entries whose lease expired) for
// one consumer; entries of cancelled messages are never claimed. The mark
// operations require the caller to still hold the lease.
type QueueLeaseStore interface {
	LeaseDueEntries(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]LeasedEntry, error)
	MarkEntryProcessed(ctx context.Context, entryID, consumer, providerMessageID string, processedAt time.Time) error
	MarkEntryFailed(ctx context.Context, entryID, consumer, errorCode string, processedAt time.Time) error
}

// Store is the full comms persistence contract.
type Store interface {
	domain.Store
	QueueLeaseStore
}
