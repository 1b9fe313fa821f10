// Package config handles configuration loading for coven-inbox.
//
// # Configuration File
//
// The file is YAML, or TOML when its name ends in .toml. Lookup order used
// by the coven-inbox command:
//
//  1. --config flag
//  2. COVEN_INBOX_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/inbox.yaml (~/.config/coven/inbox.yaml)
//
// COVEN_INBOX_DB_PATH overrides database.path.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// # Durations
//
// Duration values use time.ParseDuration syntax:
//
//	ingest:
//	  timeout: "10s"
//	  dedupe_ttl: "10m"
//	realtime:
//	  delivery_timeout: "5s"
//
// # Example
//
//	server:
//	  http_addr: ":8080"
//	  grpc_addr: ":50051"
//	database:
//	  driver: sqlite
//	  path: ~/.local/share/coven/inbox.db
//	lifecycle:
//	  enforce_assignment_edge: false
//	logging:
//	  level: info
//	  format: text
package config
