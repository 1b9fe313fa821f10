// ABOUTME: SQLite persistence for inboxes and inbox-agent capability edges
// ABOUTME: Duplicate edges surface as ErrConflict

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateInbox inserts a new inbox.
func (s *SQLiteStore) CreateInbox(ctx context.Context, inbox *Inbox) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inboxes (id, name, provider, webhook_token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, inbox.ID, inbox.Name, inbox.Provider, nullString(inbox.WebhookTokenHash), formatTime(inbox.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting inbox: %w", err)
	}

	s.logger.Debug("created inbox", "id", inbox.ID, "provider", inbox.Provider)
	return nil
}

// GetInbox retrieves an inbox by ID.
// Returns ErrNotFound if the inbox doesn't exist.
func (s *SQLiteStore) GetInbox(ctx context.Context, id string) (*Inbox, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, provider, webhook_token_hash, created_at
		FROM inboxes
		WHERE id = ?
	`, id)

	inbox, err := scanInbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying inbox: %w", err)
	}
	return inbox, nil
}

// ListInboxes returns all inboxes, oldest first.
func (s *SQLiteStore) ListInboxes(ctx context.Context) ([]*Inbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, provider, webhook_token_hash, created_at
		FROM inboxes
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying inboxes: %w", err)
	}
	defer rows.Close()

	var inboxes []*Inbox
	for rows.Next() {
		inbox, err := scanInbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning inbox row: %w", err)
		}
		inboxes = append(inboxes, inbox)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inbox rows: %w", err)
	}
	return inboxes, nil
}

func scanInbox(row scanner) (*Inbox, error) {
	var inbox Inbox
	var tokenHash sql.NullString
	var createdAt string

	if err := row.Scan(&inbox.ID, &inbox.Name, &inbox.Provider, &tokenHash, &createdAt); err != nil {
		return nil, err
	}
	inbox.WebhookTokenHash = tokenHash.String

	var err error
	inbox.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &inbox, nil
}

// AddInboxAgent grants an agent the capability to work an inbox.
func (s *SQLiteStore) AddInboxAgent(ctx context.Context, edge *InboxAgent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_agents (inbox_id, agent_id, created_at)
		VALUES (?, ?, ?)
	`, edge.InboxID, edge.AgentID, formatTime(edge.CreatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting inbox agent: %w", err)
	}

	s.logger.Debug("added inbox agent", "inbox_id", edge.InboxID, "agent_id", edge.AgentID)
	return nil
}

// RemoveInboxAgent deletes an inbox-agent edge.
func (s *SQLiteStore) RemoveInboxAgent(ctx context.Context, inboxID, agentID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM inbox_agents WHERE inbox_id = ? AND agent_id = ?
	`, inboxID, agentID)
	if err != nil {
		return fmt.Errorf("deleting inbox agent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInboxAgents returns the edges for an inbox, oldest first.
func (s *SQLiteStore) ListInboxAgents(ctx context.Context, inboxID string) ([]*InboxAgent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT inbox_id, agent_id, created_at
		FROM inbox_agents
		WHERE inbox_id = ?
		ORDER BY created_at ASC, agent_id ASC
	`, inboxID)
	if err != nil {
		return nil, fmt.Errorf("querying inbox agents: %w", err)
	}
	defer rows.Close()

	var edges []*InboxAgent
	for rows.Next() {
		var edge InboxAgent
		var createdAt string
		if err := rows.Scan(&edge.InboxID, &edge.AgentID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning inbox agent row: %w", err)
		}
		edge.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		edges = append(edges, &edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inbox agent rows: %w", err)
	}
	return edges, nil
}

// HasInboxAgent reports whether the edge exists.
func (s *SQLiteStore) HasInboxAgent(ctx context.Context, inboxID, agentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM inbox_agents WHERE inbox_id = ? AND agent_id = ?
	`, inboxID, agentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying inbox agent: %w", err)
	}
	return true, nil
}
