// ABOUTME: SQLite persistence for contacts keyed by (external_id, platform)
// ABOUTME: Metadata is stored as a JSON object column

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const contactColumns = `id, external_id, platform, display_name, phone, email, metadata_json, created_at, updated_at`

// CreateContact inserts a new contact.
// Returns ErrConflict if the identity is already taken.
func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	metadata, err := encodeMetadata(contact.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		contact.ID,
		contact.ExternalID,
		string(contact.Platform),
		nullString(contact.DisplayName),
		nullString(contact.Phone),
		nullString(contact.Email),
		metadata,
		formatTime(contact.CreatedAt),
		formatTime(contact.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting contact: %w", err)
	}

	s.logger.Debug("created contact", "id", contact.ID, "platform", contact.Platform)
	return nil
}

// GetContact retrieves a contact by ID.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	contact, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}
	return contact, nil
}

// GetContactByIdentity retrieves a contact by its identity key.
// This uses the idx_contacts_identity index.
func (s *SQLiteStore) GetContactByIdentity(ctx context.Context, externalID string, platform Platform) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE external_id = ? AND platform = ?
	`, externalID, string(platform))
	contact, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact by identity: %w", err)
	}
	return contact, nil
}

// UpdateContact writes the mutable profile fields.
// Returns ErrNotFound if the contact doesn't exist.
func (s *SQLiteStore) UpdateContact(ctx context.Context, contact *Contact) error {
	metadata, err := encodeMetadata(contact.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET display_name = ?, phone = ?, email = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(contact.DisplayName),
		nullString(contact.Phone),
		nullString(contact.Email),
		metadata,
		formatTime(contact.UpdatedAt),
		contact.ID,
	)
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated contact", "id", contact.ID)
	return nil
}

func scanContact(row scanner) (*Contact, error) {
	var c Contact
	var platform string
	var displayName, phone, email, metadata sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&c.ID,
		&c.ExternalID,
		&platform,
		&displayName,
		&phone,
		&email,
		&metadata,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	c.Platform = Platform(platform)
	c.DisplayName = displayName.String
	c.Phone = phone.String
	c.Email = email.String

	var err error
	if c.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}
