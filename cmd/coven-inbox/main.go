// ABOUTME: Entry point for the coven-inbox server and its admin commands
// ABOUTME: Cobra root command, config resolution, banner and logger setup

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

// configEnv names the environment variable consulted when --config is unset.
const configEnv = "COVEN_INBOX_CONFIG"

const banner = `
                                      _       _
  ___ _____   _____ _ __        (_)_ __ | |__   _____  __
 / __/ _ \ \ / / _ \ '_ \ _____ | | '_ \| '_ \ / _ \ \/ /
| (_| (_) \ V /  __/ | | |_____|| | | | | |_) | (_) >  <
 \___\___/ \_/ \___|_| |_|      |_|_| |_|_.__/ \___/_/\_\
`

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "coven-inbox",
		Short:         "Multi-channel inbox for coven agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: $"+configEnv+" or ~/.config/coven/inbox.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(inboxCmd())
	root.AddCommand(tokenCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config file path.
// Priority: --config flag > COVEN_INBOX_CONFIG > XDG_CONFIG_HOME/coven/inbox.yaml > ~/.config/coven/inbox.yaml
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(configEnv); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "inbox.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "inbox.yaml")
}

func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the inbox server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      disabled (no jwt_secret)")
	}
	fmt.Println()

	logger.Info("starting coven-inbox",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}
