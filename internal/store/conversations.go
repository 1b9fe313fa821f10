// ABOUTME: SQLite persistence for conversations and their status/assignment fields
// ABOUTME: A partial unique index keeps one active thread per (inbox, contact)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `id, inbox_id, contact_id, status, assigned_agent_id, priority,
	last_message_at, resolved_at, agent_last_seen_at, created_at, updated_at`

// CreateConversation inserts a new conversation.
// Returns ErrConflict if another active conversation exists for the pair.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.InboxID,
		conv.ContactID,
		string(conv.Status),
		nullString(conv.AssignedAgentID),
		string(conv.Priority),
		formatTime(conv.LastMessageAt),
		formatTimePtr(conv.ResolvedAt),
		formatTimePtr(conv.AgentLastSeenAt),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "inbox_id", conv.InboxID, "contact_id", conv.ContactID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// FindActiveConversation returns the newest non-terminal conversation for
// the (inbox, contact) pair.
func (s *SQLiteStore) FindActiveConversation(ctx context.Context, inboxID, contactID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE inbox_id = ? AND contact_id = ? AND status IN ('open', 'pending', 'snoozed')
		ORDER BY created_at DESC
		LIMIT 1
	`, inboxID, contactID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns conversations for an inbox ordered by most
// recent activity.
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	var where []string
	var args []any

	where = append(where, "inbox_id = ?")
	args = append(args, filter.InboxID)

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	switch {
	case filter.Unassigned:
		where = append(where, "assigned_agent_id IS NULL")
	case filter.AssignedAgentID != "":
		where = append(where, "assigned_agent_id = ?")
		args = append(args, filter.AssignedAgentID)
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, ClampLimit(filter.Limit), offset)

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_message_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// UpdateConversationStatus is a compare-and-set on status.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, from, to ConversationStatus, resolvedAt *time.Time, at time.Time) (*Conversation, error) {
	conv, err := s.updateConversation(ctx, id,
		`status = ?, resolved_at = ?, updated_at = ?`,
		[]any{string(to), formatTimePtr(resolvedAt), formatTime(at)},
		`status = ?`, string(from))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("updated conversation status", "id", id, "from", from, "to", to)
	return conv, nil
}

// SetConversationAssignee writes assigned_agent_id only.
func (s *SQLiteStore) SetConversationAssignee(ctx context.Context, id, agentID string, at time.Time) (*Conversation, error) {
	return s.updateConversation(ctx, id,
		`assigned_agent_id = ?, updated_at = ?`,
		[]any{nullString(agentID), formatTime(at)}, "")
}

// SetConversationPriority writes priority only.
func (s *SQLiteStore) SetConversationPriority(ctx context.Context, id string, priority Priority, at time.Time) (*Conversation, error) {
	return s.updateConversation(ctx, id,
		`priority = ?, updated_at = ?`,
		[]any{string(priority), formatTime(at)}, "")
}

// MarkConversationSeen writes agent_last_seen_at only.
func (s *SQLiteStore) MarkConversationSeen(ctx context.Context, id string, at time.Time) (*Conversation, error) {
	return s.updateConversation(ctx, id,
		`agent_last_seen_at = ?`,
		[]any{formatTime(at)}, "")
}

// updateConversation runs one UPDATE ... RETURNING against a single row.
// A non-empty guard is ANDed into the WHERE clause; when it filters out an
// existing row the result is ErrStale.
func (s *SQLiteStore) updateConversation(ctx context.Context, id, set string, setArgs []any, guard string, guardArgs ...any) (*Conversation, error) {
	query := `UPDATE conversations SET ` + set + ` WHERE id = ?`
	args := append(setArgs, id)
	if guard != "" {
		query += ` AND ` + guard
		args = append(args, guardArgs...)
	}
	query += ` RETURNING ` + conversationColumns

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, args...))
	switch {
	case err == nil:
		return conv, nil
	case errors.Is(err, sql.ErrNoRows):
		if guard == "" {
			return nil, ErrNotFound
		}
		return nil, s.staleOrMissing(ctx, id)
	case isConstraintViolation(err):
		return nil, ErrConflict
	default:
		return nil, fmt.Errorf("updating conversation: %w", err)
	}
}

func (s *SQLiteStore) staleOrMissing(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return ErrStale
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var status, priority string
	var assignee, resolvedAt, seenAt sql.NullString
	var lastMessageAt, createdAt, updatedAt string

	if err := row.Scan(
		&c.ID,
		&c.InboxID,
		&c.ContactID,
		&status,
		&assignee,
		&priority,
		&lastMessageAt,
		&resolvedAt,
		&seenAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	c.Status = ConversationStatus(status)
	c.Priority = Priority(priority)
	c.AssignedAgentID = assignee.String

	var err error
	if c.LastMessageAt, err = parseTime(lastMessageAt); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if c.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}
	if c.AgentLastSeenAt, err = parseNullTime(seenAt); err != nil {
		return nil, fmt.Errorf("parsing agent_last_seen_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}
