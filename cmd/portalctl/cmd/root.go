// Package cmd implements the portalctl command line. Every subcommand
// wires exactly one portal.Manager from environment configuration; the
// library never reads configuration on its own.
package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rosterhq/portal-session/authclient"
	"github.com/rosterhq/portal-session/internal/config"
	"github.com/rosterhq/portal-session/kvstore"
	"github.com/rosterhq/portal-session/kvstore/bolt"
	"github.com/rosterhq/portal-session/portal"
	"github.com/rosterhq/portal-session/roles"
	"github.com/rosterhq/portal-session/session"
	"github.com/rosterhq/portal-session/session/bus"
	"github.com/rosterhq/portal-session/session/refresh"
)

// Version is stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "portalctl manages a RosterHQ portal session",
	Long: `portalctl drives the RosterHQ portal session lifecycle from the
command line: request a magic link, verify it, inspect and refresh the
session, switch roles, and log out.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildManager wires the production dependency graph: bolt-backed
// obfuscated storage, session store, role resolver, auth client, and the
// manager itself. The returned cleanup closes background activity and
// the state database.
func buildManager() (*portal.Manager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cfg.LogLevel)

	backend, err := bolt.Open(cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}

	kv := kvstore.New(backend, cfg.StorageSecret)
	eventBus := bus.New()
	authorize := cfg.Authorize()

	store, err := session.NewStore(kv, eventBus, authorize, logger)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	baseline := roles.RoleCoach
	if config.Variant(cfg.Variant) == config.VariantAdmin {
		baseline = roles.RoleAdmin
	}
	resolver := roles.NewResolver(kv, session.RoleKey, baseline, logger)

	api := authclient.NewClient(nil, cfg.AuthBaseURL, cfg.ResourceBaseURL, cfg.NetworkTimeout)

	mgr, err := portal.New(
		portal.Deps{
			Store: store,
			Roles: resolver,
			API:   api,
			Bus:   eventBus,
			Clock: refresh.SystemClock{},
			Log:   logger,
		},
		portal.Config{
			Authorize:          authorize,
			LoginRole:          string(baseline),
			UserAgent:          "portalctl/" + Version,
			MaxTokenDuration:   cfg.MaxTokenDuration,
			RefreshBuffer:      cfg.RefreshBuffer,
			MinRefreshInterval: cfg.MinRefreshInterval,
			RetryDelay:         cfg.RetryDelay,
			RevalidateInterval: cfg.RevalidateInterval,
			Timeout:            cfg.NetworkTimeout,
		},
	)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	cleanup := func() {
		mgr.Close()
		if err := backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing state database: %v\n", err)
		}
	}
	return mgr, cleanup, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
