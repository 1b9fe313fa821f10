// Package auth authenticates agents calling the inbox API and webhook
// providers delivering events.
//
// # Agent Tokens
//
// Agents present HS256 JWTs signed with the configured jwt_secret:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(auth.Claims{AgentID: "agent-1", Admin: true}, 24*time.Hour)
//
// HTTPAuthMiddleware verifies the bearer token (or the access_token query
// parameter, for websocket clients) and stores an AuthContext in the request
// context. RequireAdminHTTP gates privileged endpoints on the admin claim.
// Without a jwt_secret the server runs DevAuthMiddleware, which trusts the
// X-Agent-ID header.
//
// # Webhook Tokens
//
// An inbox may carry a bcrypt hash of its webhook token. Deliveries must
// send the plain token in the X-Webhook-Token header; CheckWebhookToken
// compares them.
package auth
