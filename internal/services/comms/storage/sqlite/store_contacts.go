package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// PutContact inserts or replaces a contact delivery profile.
func (s *Store) PutContact(ctx context.Context, contact domain.Contact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(contact.ID) == "" {
		return fmt.Errorf("contact id is required")
	}

	optOuts, err := json.Marshal(contact.OptOuts)
	if err != nil {
		return fmt.Errorf("encode opt-outs: %w", err)
	}
	now := toMillis(time.Now())
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO comms_contacts (
	id,
	push_token,
	sms_number,
	email_address,
	opt_outs_json,
	last_contacted_at,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	push_token = excluded.push_token,
	sms_number = excluded.sms_number,
	email_address = excluded.email_address,
	opt_outs_json = excluded.opt_outs_json,
	updated_at = excluded.updated_at
`,
		contact.ID,
		contact.PushToken,
		contact.SMSNumber,
		contact.EmailAddress,
		string(optOuts),
		nullableMillis(contact.LastContactedAt),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("put contact: %w", err)
	}
	return nil
}

// GetContact returns one contact delivery profile by ID.
func (s *Store) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Contact{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Contact{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Contact{}, fmt.Errorf("contact id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT
	id,
	push_token,
	sms_number,
	email_address,
	opt_outs_json,
	last_contacted_at
FROM comms_contacts
WHERE id = ?
`, id)

	var contact domain.Contact
	var optOutsJSON string
	var lastContactedAt sql.NullInt64
	err := row.Scan(
		&contact.ID,
		&contact.PushToken,
		&contact.SMSNumber,
		&contact.EmailAddress,
		&optOutsJSON,
		&lastContactedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Contact{}, domain.ErrNotFound
		}
		return domain.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	if optOutsJSON != "" {
		if err := json.Unmarshal([]byte(optOutsJSON), &contact.OptOuts); err != nil {
			return domain.Contact{}, fmt.Errorf("decode opt-outs: %w", err)
		}
	}
	contact.LastContactedAt = millisPtr(lastContactedAt)
	return contact, nil
}

// RecordContactReached stamps the last successful delivery time for a contact.
func (s *Store) RecordContactReached(ctx context.Context, contactID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE comms_contacts
SET last_contacted_at = ?, updated_at = ?
WHERE id = ?
`,
		toMillis(at),
		toMillis(at),
		contactID,
	)
	if err != nil {
		return fmt.Errorf("record contact reached: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record contact reached rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
