package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"joinrecs/internal/config"
	"joinrecs/internal/server"
	"joinrecs/internal/session"
)

type app struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "kioskctl",
		Short:         "Administer the attendance kiosk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("KIOSK_CONFIG"), "path to a YAML config file")

	cmd.AddCommand(
		a.migrateCmd(),
		a.membersCmd(),
		a.logCmd(),
		hashPassphraseCmd(),
	)
	return cmd
}

func (a *app) config() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// withStack opens the configured storage for one command. The operator at
// the terminal acts with a local admin session.
func (a *app) withStack(ctx context.Context, fn func(server.Stack, *session.Session, config.Config) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	logger := cfg.Logger().Level(zerolog.WarnLevel)
	stack, closeStorage, err := server.OpenStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()
	return fn(stack, session.Local(subject()), cfg)
}

func subject() string {
	if u := os.Getenv("USER"); u != "" {
		return "kioskctl:" + u
	}
	return "kioskctl"
}
