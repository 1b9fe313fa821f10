// Package store provides persistent storage for coven-inbox using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with one interface
// per entity group, composed into Store:
//
//   - InboxStore: inboxes and inbox-agent capability edges
//   - ContactStore: contacts keyed by (external_id, platform)
//   - ConversationStore: conversations, status, assignment, priority
//   - MessageStore: the append-only message log per conversation
//
// SQLiteStore implements all of them; MockStore is an in-memory
// implementation with failure injection for unit tests.
//
// # Invariants enforced by the schema
//
//   - contacts(external_id, platform) is unique
//   - at most one conversation per (inbox_id, contact_id) has status open,
//     pending or snoozed (partial unique index)
//   - messages(inbox_id, external_id) is unique when external_id is set,
//     which makes inbound ingestion idempotent
//
// Violations surface as ErrConflict or ErrDuplicateMessage so callers can
// re-read and continue instead of failing the delivery.
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC RFC 3339 strings with nanosecond
// precision, so lexical order is chronological. Messages carry an
// autoincrement seq column that breaks created_at ties in insertion order.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go, default)
// and "sqlite3" (github.com/mattn/go-sqlite3, cgo).
//
// # Migrations
//
// Schema changes live in migrations/*.sql, embedded and applied with
// golang-migrate on open. The migrate CLI subcommand drives the same
// migrations explicitly (up, down, version).
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConflict: uniqueness violation (duplicate edge, second active thread)
//   - ErrDuplicateMessage: provider message already recorded for the inbox
package store
