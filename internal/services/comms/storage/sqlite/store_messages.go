package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

const messageColumns = `
	id,
	category,
	contact_id,
	subject,
	body,
	priority,
	requires_approval,
	approved_by,
	approved_at,
	state,
	delivery_cycle,
	created_by,
	scheduled_for,
	created_at,
	updated_at,
	cancelled_at
`

type rowScanner func(dest ...any) error

func scanMessage(scan rowScanner) (domain.Message, error) {
	var msg domain.Message
	var requiresApproval int64
	var approvedAt sql.NullInt64
	var scheduledFor int64
	var createdAt int64
	var updatedAt int64
	var cancelledAt sql.NullInt64
	if err := scan(
		&msg.ID,
		&msg.Category,
		&msg.ContactID,
		&msg.Subject,
		&msg.Body,
		&msg.Priority,
		&requiresApproval,
		&msg.ApprovedBy,
		&approvedAt,
		&msg.State,
		&msg.DeliveryCycle,
		&msg.CreatedBy,
		&scheduledFor,
		&createdAt,
		&updatedAt,
		&cancelledAt,
	); err != nil {
		return domain.Message{}, err
	}
	msg.RequiresApproval = requiresApproval != 0
	msg.ApprovedAt = millisPtr(approvedAt)
	msg.ScheduledFor = fromMillis(scheduledFor)
	msg.CreatedAt = fromMillis(createdAt)
	msg.UpdatedAt = fromMillis(updatedAt)
	msg.CancelledAt = millisPtr(cancelledAt)
	return msg, nil
}

// PutMessage persists a new message record.
func (s *Store) PutMessage(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("message id is required")
	}

	requiresApproval := 0
	if msg.RequiresApproval {
		requiresApproval = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO comms_messages (`+messageColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		msg.ID,
		string(msg.Category),
		msg.ContactID,
		msg.Subject,
		msg.Body,
		msg.Priority,
		requiresApproval,
		msg.ApprovedBy,
		nullableMillis(msg.ApprovedAt),
		string(msg.State),
		msg.DeliveryCycle,
		msg.CreatedBy,
		toMillis(msg.ScheduledFor),
		toMillis(msg.CreatedAt),
		toMillis(msg.UpdatedAt),
		nullableMillis(msg.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// GetMessage returns one message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Message{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Message{}, fmt.Errorf("message id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+messageColumns+`
FROM comms_messages
WHERE id = ?
`, id)
	msg, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, domain.ErrNotFound
		}
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// UpdateMessageContent replaces subject and body while the message is still
// in an editable state. A miss on the editable-state condition reports
// ErrConflict.
func (s *Store) UpdateMessageContent(ctx context.Context, id, subject, body string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE comms_messages
SET subject = ?, body = ?, updated_at = ?
WHERE id = ?
AND state IN (?, ?)
AND cancelled_at IS NULL
`,
		subject,
		body,
		toMillis(at),
		id,
		string(domain.StateDraft),
		string(domain.StatePending),
	)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	return s.casOutcome(ctx, result, id)
}

// TransitionMessage applies one lifecycle transition as an atomic conditional
// update: the row mutates only when its stored state equals from. A lost race
// reports ErrConflict.
func (s *Store) TransitionMessage(ctx context.Context, id string, from, to domain.State, at time.Time, opts domain.TransitionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	set := "state = ?, updated_at = ?"
	args := []any{string(to), toMillis(at)}
	if opts.ApprovedBy != "" {
		set += ", approved_by = ?, approved_at = ?"
		args = append(args, opts.ApprovedBy, toMillis(at))
	}
	if opts.BumpCycle {
		set += ", delivery_cycle = delivery_cycle + 1"
	}
	args = append(args, id, string(from))

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE comms_messages
SET `+set+`
WHERE id = ?
AND state = ?
AND cancelled_at IS NULL
`, args...)
	if err != nil {
		return fmt.Errorf("transition message: %w", err)
	}
	return s.casOutcome(ctx, result, id)
}

// CancelMessage stamps the cancellation timestamp. The lifecycle state is
// preserved; a second cancellation reports ErrConflict.
func (s *Store) CancelMessage(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE comms_messages
SET cancelled_at = ?, updated_at = ?
WHERE id = ?
AND cancelled_at IS NULL
`,
		toMillis(at),
		toMillis(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("cancel message: %w", err)
	}
	return s.casOutcome(ctx, result, id)
}

// casOutcome distinguishes a missing row from a lost conditional update.
func (s *Store) casOutcome(ctx context.Context, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	var exists int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM comms_messages WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check message existence: %w", err)
	}
	return domain.ErrConflict
}

// ListMessagesByContact returns one page of a contact's messages, newest
// first, with keyset pagination.
func (s *Store) ListMessagesByContact(ctx context.Context, contactID string, pageSize int, pageToken string) (domain.MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessagePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.MessagePage{}, fmt.Errorf("storage is not configured")
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return domain.MessagePage{}, fmt.Errorf("contact id is required")
	}
	if pageSize <= 0 {
		return domain.MessagePage{}, fmt.Errorf("page size must be greater than zero")
	}

	query := `
SELECT ` + messageColumns + `
FROM comms_messages
WHERE contact_id = ?
`
	args := []any{contactID}
	if pageToken != "" {
		beforeMillis, beforeID, err := decodePageToken(pageToken)
		if err != nil {
			return domain.MessagePage{}, err
		}
		query += `AND (created_at < ? OR (created_at = ? AND id < ?))
`
		args = append(args, beforeMillis, beforeMillis, beforeID)
	}
	query += `ORDER BY created_at DESC, id DESC
LIMIT ?
`
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var page domain.MessagePage
	for rows.Next() {
		msg, scanErr := scanMessage(rows.Scan)
		if scanErr != nil {
			return domain.MessagePage{}, fmt.Errorf("scan message: %w", scanErr)
		}
		page.Messages = append(page.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return domain.MessagePage{}, fmt.Errorf("iterate messages: %w", err)
	}

	if len(page.Messages) > pageSize {
		last := page.Messages[pageSize-1]
		page.Messages = page.Messages[:pageSize]
		page.NextPageToken = encodePageToken(toMillis(last.CreatedAt), last.ID)
	}
	return page, nil
}

func encodePageToken(createdAtMillis int64, id string) string {
	return strconv.FormatInt(createdAtMillis, 10) + ":" + id
}

func decodePageToken(token string) (int64, string, error) {
	millisPart, id, ok := strings.Cut(token, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed page token")
	}
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed page token: %w", err)
	}
	return millis, id, nil
}
