// Package gateway orchestrates the coven-inbox server components.
//
// # Overview
//
// The Gateway owns the store, the realtime subscription registry, the
// conversation services and the webhook ingestion pipeline, and serves them
// over HTTP. An optional gRPC server exposes grpc.health.v1 for
// orchestrators.
//
// # HTTP API
//
// Channel providers:
//
//   - POST /inboxes/{inboxId}/webhooks/{provider} - inbound webhook (X-Webhook-Token)
//
// Agents (JWT bearer token, or X-Agent-ID when auth is disabled):
//
//   - GET  /api/inboxes/{inboxId}/conversations - list, filtered by status and assigned_agent_id
//   - GET  /api/conversations/{id} - detail with last message and unread count
//   - GET  /api/conversations/{id}/messages - list, ?include_private=true for notes, ?render=html
//   - POST /api/conversations/{id}/messages - reply or private note
//   - POST /api/conversations/{id}/status - change status
//   - POST /api/conversations/{id}/assignment - assign or unassign
//   - POST /api/conversations/{id}/priority - change priority
//   - POST /api/conversations/{id}/seen - mark read
//   - GET  /api/realtime - websocket subscriptions (see package realtime)
//
// Admins:
//
//   - GET  /api/realtime/subscriptions - live subscriptions
//   - POST /api/inboxes/{inboxId}/notify - publish a notification to an inbox's agents
//
// Health:
//
//   - GET /health - liveness
//   - GET /health/ready - store reachable and registry open
//
// # Errors
//
// Errors are returned as {"error": "..."}. Not-found maps to 404, validation
// to 400 or 422, conflicts to 409, and transient storage failures to 503.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// Shutdown closes the realtime registry first, which tears down every
// subscription and sends websocket clients a going-away close, then stops
// the servers and closes the store.
package gateway
