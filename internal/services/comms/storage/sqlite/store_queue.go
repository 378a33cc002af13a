package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
	"github.com/classpulse/classpulse/internal/services/comms/storage"
)

const queueEntryColumns = `
	id,
	message_id,
	channel,
	cycle,
	status,
	scheduled_for,
	attempt_count,
	last_error_code,
	provider_message_id,
	processed_at
`

func scanQueueEntry(scan rowScanner) (domain.QueueEntry, error) {
	var entry domain.QueueEntry
	var status string
	var scheduledFor int64
	var processedAt sql.NullInt64
	if err := scan(
		&entry.ID,
		&entry.MessageID,
		&entry.Channel,
		&entry.Cycle,
		&status,
		&scheduledFor,
		&entry.AttemptCount,
		&entry.LastErrorCode,
		&entry.ProviderMessageID,
		&processedAt,
	); err != nil {
		return domain.QueueEntry{}, err
	}
	entry.ScheduledFor = fromMillis(scheduledFor)
	entry.ProcessedAt = millisPtr(processedAt)
	entry.Processed = status == storage.EntryStatusProcessed
	entry.Voided = status == storage.EntryStatusVoided
	return entry, nil
}

// EnqueueAttempt schedules one delivery attempt.
func (s *Store) EnqueueAttempt(ctx context.Context, entry domain.QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("entry id is required")
	}
	if strings.TrimSpace(entry.MessageID) == "" {
		return fmt.Errorf("message id is required")
	}
	if !entry.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", entry.Channel)
	}

	now := time.Now()
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO comms_queue_entries (
	id,
	message_id,
	channel,
	cycle,
	status,
	scheduled_for,
	attempt_count,
	last_error_code,
	provider_message_id,
	processed_at,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.ID,
		entry.MessageID,
		string(entry.Channel),
		entry.Cycle,
		storage.EntryStatusPending,
		toMillis(entry.ScheduledFor),
		entry.AttemptCount,
		entry.LastErrorCode,
		entry.ProviderMessageID,
		nullableMillis(entry.ProcessedAt),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("enqueue attempt: %w", err)
	}
	return nil
}

// ListCycleAttempts returns every queue entry for one message's delivery
// cycle, oldest first.
func (s *Store) ListCycleAttempts(ctx context.Context, messageID string, cycle int) ([]domain.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+queueEntryColumns+`
FROM comms_queue_entries
WHERE message_id = ?
AND cycle = ?
ORDER BY created_at ASC, id ASC
`, messageID, cycle)
	if err != nil {
		return nil, fmt.Errorf("list cycle attempts: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		entry, scanErr := scanQueueEntry(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan queue entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}

// VoidPendingAttempts voids every unprocessed entry of one message so the
// processor never claims work for a cancelled message.
func (s *Store) VoidPendingAttempts(ctx context.Context, messageID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE comms_queue_entries
SET status = ?, updated_at = ?
WHERE message_id = ?
AND status IN (?, ?)
`,
		storage.EntryStatusVoided,
		toMillis(at),
		messageID,
		storage.EntryStatusPending,
		storage.EntryStatusLeased,
	)
	if err != nil {
		return fmt.Errorf("void pending attempts: %w", err)
	}
	return nil
}

// LeaseDueEntries claims due queue entries for one consumer. Candidates are
// pending entries whose scheduled time passed, plus leased entries whose lease
// expired; entries of cancelled messages are skipped. Claims are ordered by
// message priority, then schedule time. Each claim is an individual
// conditional update so concurrent processors never claim the same entry.
func (s *Store) LeaseDueEntries(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.LeasedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()
	leaseExpiresAt := now.Add(leaseTTL)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT e.id
FROM comms_queue_entries e
JOIN comms_messages m ON m.id = e.message_id
WHERE m.cancelled_at IS NULL
AND (
	(e.status = ? AND e.scheduled_for <= ?)
	OR
	(e.status = ? AND e.lease_expires_at IS NOT NULL AND e.lease_expires_at <= ?)
)
ORDER BY m.priority DESC, e.scheduled_for ASC, e.created_at ASC, e.id ASC
LIMIT ?
`,
		storage.EntryStatusPending,
		toMillis(now),
		storage.EntryStatusLeased,
		toMillis(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	candidateIDs := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan lease candidate: %w", scanErr)
		}
		candidateIDs = append(candidateIDs, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate lease candidates: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close lease candidates: %w", err)
	}
	if len(candidateIDs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty lease transaction: %w", err)
		}
		return []storage.LeasedEntry{}, nil
	}

	leased := make([]storage.LeasedEntry, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		result, updateErr := tx.ExecContext(ctx, `
UPDATE comms_queue_entries
SET
	status = ?,
	lease_owner = ?,
	lease_expires_at = ?,
	attempt_count = attempt_count + 1,
	updated_at = ?
WHERE id = ?
AND (
	(status = ? AND scheduled_for <= ?)
	OR
	(status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)
`,
			storage.EntryStatusLeased,
			consumer,
			toMillis(leaseExpiresAt),
			toMillis(now),
			id,
			storage.EntryStatusPending,
			toMillis(now),
			storage.EntryStatusLeased,
			toMillis(now),
		)
		if updateErr != nil {
			return nil, fmt.Errorf("lease queue entry %s: %w", id, updateErr)
		}
		rowsAffected, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			return nil, fmt.Errorf("lease rows affected for %s: %w", id, rowsErr)
		}
		if rowsAffected == 0 {
			continue
		}

		row := tx.QueryRowContext(ctx, `
SELECT
	e.id,
	e.message_id,
	e.channel,
	e.cycle,
	e.status,
	e.scheduled_for,
	e.attempt_count,
	e.last_error_code,
	e.provider_message_id,
	e.processed_at,
	m.priority,
	m.state,
	m.delivery_cycle
FROM comms_queue_entries e
JOIN comms_messages m ON m.id = e.message_id
WHERE e.id = ?
`, id)
		claimed, scanErr := scanLeasedEntry(row.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan leased queue entry %s: %w", id, scanErr)
		}
		leased = append(leased, claimed)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}
	return leased, nil
}

func scanLeasedEntry(scan rowScanner) (storage.LeasedEntry, error) {
	var claimed storage.LeasedEntry
	var status string
	var scheduledFor int64
	var processedAt sql.NullInt64
	if err := scan(
		&claimed.Entry.ID,
		&claimed.Entry.MessageID,
		&claimed.Entry.Channel,
		&claimed.Entry.Cycle,
		&status,
		&scheduledFor,
		&claimed.Entry.AttemptCount,
		&claimed.Entry.LastErrorCode,
		&claimed.Entry.ProviderMessageID,
		&processedAt,
		&claimed.Priority,
		&claimed.State,
		&claimed.Cycle,
	); err != nil {
		return storage.LeasedEntry{}, err
	}
	claimed.Entry.ScheduledFor = fromMillis(scheduledFor)
	claimed.Entry.ProcessedAt = millisPtr(processedAt)
	claimed.Entry.Processed = status == storage.EntryStatusProcessed
	claimed.Entry.Voided = status == storage.EntryStatusVoided
	return claimed, nil
}

// MarkEntryProcessed records a successful send for a leased entry.
func (s *Store) MarkEntryProcessed(ctx context.Context, entryID, consumer, providerMessageID string, processedAt time.Time) error {
	return s.markEntry(ctx, entryID, consumer, "", providerMessageID, processedAt)
}

// MarkEntryFailed records a failed send outcome for a leased entry. The entry
// still ends processed; the error code preserves the attempt journal.
func (s *Store) MarkEntryFailed(ctx context.Context, entryID, consumer, errorCode string, processedAt time.Time) error {
	if strings.TrimSpace(errorCode) == "" {
		return fmt.Errorf("error code is required")
	}
	return s.markEntry(ctx, entryID, consumer, errorCode, "", processedAt)
}

func (s *Store) markEntry(ctx context.Context, entryID, consumer, errorCode, providerMessageID string, processedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	entryID = strings.TrimSpace(entryID)
	consumer = strings.TrimSpace(consumer)
	if entryID == "" {
		return fmt.Errorf("entry id is required")
	}
	if consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	processedAt = processedAt.UTC()

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE comms_queue_entries
SET
	status = ?,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error_code = ?,
	provider_message_id = ?,
	processed_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		storage.EntryStatusProcessed,
		errorCode,
		providerMessageID,
		toMillis(processedAt),
		toMillis(processedAt),
		entryID,
		storage.EntryStatusLeased,
		consumer,
	)
	if err != nil {
		return fmt.Errorf("mark queue entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark queue entry rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
