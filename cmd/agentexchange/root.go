package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hupe1980/agentexchange"
	"github.com/hupe1980/agentexchange/config"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/logging"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "agentexchange",
		Short: "Orchestrate agent sessions across backends",
		Long: `agentexchange runs conversational sessions against native agents,
studio teams and locally defined teams, and persists every turn.

Quick Start:
  agentexchange config init agentexchange.yaml   # Write a starter config
  agentexchange serve -c agentexchange.yaml      # Serve the HTTP API
  agentexchange sessions list -c agentexchange.yaml
  agentexchange history export <id> out.md -c agentexchange.yaml`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("AGENTEXCHANGE_CONFIG"), "Path to the YAML configuration file")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newServeCmd(flags),
		newAskCmd(flags),
		newSessionsCmd(flags),
		newHistoryCmd(flags),
		newMetricsCmd(),
		newConfigCmd(flags),
	)
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured history store for offline inspection.
func (f *rootFlags) openStore(ctx context.Context) (core.HistoryStore, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver == "memory" {
		return nil, fmt.Errorf("store driver %q keeps no history between runs; configure sqlite or redis", cfg.Store.Driver)
	}
	return agentexchange.OpenStore(ctx, cfg.Store, logging.NoOpLogger{})
}
