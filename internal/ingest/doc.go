// Package ingest turns webhook deliveries into stored inbound messages.
//
// A delivery passes through these steps:
//
//	inbox lookup → webhook token check → normalize → claim → resolve contact
//	→ route to conversation → append message → notify inbox agents
//
// Lookup, token and normalization failures return before anything is written.
// Events the normalizer skips (connection updates, outbound echoes) come back
// as an ignored Result rather than an error.
//
// # Idempotency
//
// A provider message ID is recorded as the message's external ID, unique per
// inbox. Replaying a delivery returns the earlier contact, conversation and
// message with Duplicate set. When a dedupe.Window is configured, concurrent
// redeliveries inside one process are answered from the store or with
// ErrInFlight while the first delivery is still running.
package ingest
