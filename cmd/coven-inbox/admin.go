// ABOUTME: Admin subcommands: schema migrations, inbox provisioning, agent tokens and health
// ABOUTME: Each command opens the store or the running server directly from the resolved config

package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/store"
)

func openStore(cfg *config.Config, skipMigrations bool) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStoreWithOptions(store.Options{
		Path:           cfg.Database.Path,
		Driver:         cfg.Database.Driver,
		SkipMigrations: skipMigrations,
		Logger:         setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	for _, sub := range []struct{ name, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back every migration"},
		{"version", "Print the current schema version"},
	} {
		command := sub.name
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				s, err := openStore(cfg, true)
				if err != nil {
					return err
				}
				defer s.Close()

				version, dirty, err := s.Migrate(command)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d", version)
				if dirty {
					color.New(color.FgYellow).Fprint(cmd.OutOrStdout(), " (dirty)")
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			},
		})
	}
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Provision inboxes and their agents",
	}
	cmd.AddCommand(inboxCreateCmd(), inboxListCmd(), inboxAgentsCmd(), inboxAddAgentCmd(), inboxRemoveAgentCmd())
	return cmd
}

func inboxCreateCmd() *cobra.Command {
	var (
		id, name, provider, token string
		generateToken             bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("--name is required")
			}
			if token != "" && generateToken {
				return errors.New("--webhook-token and --generate-token are mutually exclusive")
			}
			if generateToken {
				b := make([]byte, 24)
				if _, err := rand.Read(b); err != nil {
					return fmt.Errorf("generating webhook token: %w", err)
				}
				token = base64.RawURLEncoding.EncodeToString(b)
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			inbox := &store.Inbox{
				ID:        id,
				Name:      name,
				Provider:  provider,
				CreatedAt: time.Now().UTC(),
			}
			if inbox.ID == "" {
				inbox.ID = uuid.New().String()
			}
			if token != "" {
				hash, err := auth.HashWebhookToken(token)
				if err != nil {
					return err
				}
				inbox.WebhookTokenHash = hash
			}
			if err := s.CreateInbox(cmd.Context(), inbox); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("inbox %q already exists", inbox.ID)
				}
				return fmt.Errorf("creating inbox: %w", err)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✓ Created inbox %s\n", inbox.Name)
			fmt.Fprintf(out, "  ID:       %s\n", inbox.ID)
			fmt.Fprintf(out, "  Webhook:  POST /inboxes/%s/webhooks/%s\n", inbox.ID, provider)
			if token != "" {
				fmt.Fprintf(out, "  Token:    %s (send as %s)\n", token, auth.WebhookTokenHeader)
				if generateToken {
					color.New(color.FgYellow).Fprintln(out, "  The token is not stored in plain text; save it now.")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "inbox ID (default: random UUID)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVar(&provider, "provider", "evolution", "webhook provider")
	cmd.Flags().StringVar(&token, "webhook-token", "", "require this token on webhook deliveries")
	cmd.Flags().BoolVar(&generateToken, "generate-token", false, "generate a random webhook token")
	return cmd
}

func inboxListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List inboxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			inboxes, err := s.ListInboxes(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing inboxes: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tTOKEN")
			for _, in := range inboxes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", in.ID, in.Name, in.Provider, in.RequiresToken())
			}
			return w.Flush()
		},
	}
}

func inboxAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents INBOX_ID",
		Short: "List agents allowed to work an inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			edges, err := s.ListInboxAgents(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("listing inbox agents: %w", err)
			}
			for _, e := range edges {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.AgentID, e.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func inboxAddAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-agent INBOX_ID AGENT_ID",
		Short: "Allow an agent to work an inbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.GetInbox(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("inbox %s: %w", args[0], err)
			}
			err = s.AddInboxAgent(cmd.Context(), &store.InboxAgent{InboxID: args[0], AgentID: args[1], CreatedAt: time.Now().UTC()})
			switch {
			case errors.Is(err, store.ErrConflict):
				fmt.Fprintf(cmd.OutOrStdout(), "%s already works %s\n", args[1], args[0])
				return nil
			case err != nil:
				return fmt.Errorf("adding agent: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ %s added to %s\n", args[1], args[0])
			return nil
		},
	}
}

func inboxRemoveAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-agent INBOX_ID AGENT_ID",
		Short: "Revoke an agent's access to an inbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.RemoveInboxAgent(cmd.Context(), args[0], args[1]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%s is not an agent of %s", args[1], args[0])
				}
				return fmt.Errorf("removing agent: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ %s removed from %s\n", args[1], args[0])
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		agentID, name string
		admin         bool
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an agent API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return errors.New("--agent is required")
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			token, err := verifier.Generate(auth.Claims{AgentID: agentID, Name: name, Admin: admin}, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "display name used in audit messages")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check readiness of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			url := fmt.Sprintf("http://%s/health/ready", dialAddr(cfg.Server.HTTPAddr))
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			return nil
		},
	}
}

// dialAddr turns a listen address such as ":8080" into one a client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		return net.JoinHostPort("localhost", port)
	}
	return listen
}
