// ABOUTME: SQLite persistence for the append-only per-conversation message log
// ABOUTME: Append is transactional with the conversation's last_message_at bump

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, inbox_id, sender_type, sender_id, content, message_type,
	external_id, is_private, metadata_json, created_at`

// AppendMessage inserts msg and advances the parent conversation's
// last_message_at. A provider external ID already recorded for the inbox
// yields ErrDuplicateMessage and nothing is written.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.InboxID,
		string(msg.SenderType),
		nullString(msg.SenderID),
		msg.Content,
		string(msg.MessageType),
		nullString(msg.ExternalID),
		msg.IsPrivate,
		metadata,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return ErrNotFound
		case isConstraintViolation(err) && msg.ExternalID != "":
			return ErrDuplicateMessage
		case isConstraintViolation(err):
			return ErrConflict
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	stamp := formatTime(msg.CreatedAt)
	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = MAX(last_message_at, ?), updated_at = ?
		WHERE id = ?
	`, stamp, formatTime(time.Now()), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating last_message_at: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_type", msg.SenderType,
		"private", msg.IsPrivate)
	return nil
}

// GetMessageByExternalID looks up an inbound message by provider ID.
func (s *SQLiteStore) GetMessageByExternalID(ctx context.Context, inboxID, externalID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE inbox_id = ? AND external_id = ?
	`, inboxID, externalID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by external ID: %w", err)
	}
	return msg, nil
}

// ListMessages returns a page of a conversation's messages oldest first.
// Private notes are excluded unless filter.IncludePrivate is set.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, filter MessageFilter) ([]*Message, error) {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND (? OR is_private = 0)
		ORDER BY created_at ASC, seq ASC
		LIMIT ? OFFSET ?
	`, conversationID, filter.IncludePrivate, ClampLimit(filter.Limit), offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// GetLastMessage returns the newest message of a conversation.
func (s *SQLiteStore) GetLastMessage(ctx context.Context, conversationID string, includePrivate bool) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND (? OR is_private = 0)
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, conversationID, includePrivate)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last message: %w", err)
	}
	return msg, nil
}

// CountUnread counts contact messages newer than since.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID string, since *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_type = 'contact'`
	args := []any{conversationID}
	if since != nil {
		query += ` AND created_at > ?`
		args = append(args, formatTime(*since))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var senderType, messageType string
	var senderID, externalID, metadata sql.NullString
	var createdAt string

	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.InboxID,
		&senderType,
		&senderID,
		&m.Content,
		&messageType,
		&externalID,
		&m.IsPrivate,
		&metadata,
		&createdAt,
	); err != nil {
		return nil, err
	}

	m.SenderType = SenderType(senderType)
	m.MessageType = MessageType(messageType)
	m.SenderID = senderID.String
	m.ExternalID = externalID.String

	var err error
	if m.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}
