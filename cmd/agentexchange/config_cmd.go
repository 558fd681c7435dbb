package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/agentexchange/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check configuration files",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd(flags))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := starterConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Wrote")+" "+path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// starterConfig persists to SQLite and defines a mock team so a fresh
// install can run a turn without credentials.
func starterConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "agentexchange.db"
	cfg.Teams = []config.TeamConfig{{
		ID:   "demo",
		Mode: "sequential",
		Agents: []config.AgentConfig{
			{Name: "planner", Provider: "mock", Instruction: "Break the request into steps."},
			{Name: "reviewer", Provider: "mock", Instruction: "Review the plan of {{.team}}."},
		},
	}}
	return cfg
}

func newConfigValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration given with --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := flags.load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Configuration is valid"))
			return nil
		},
	}
}
