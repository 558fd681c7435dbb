package main

import (
	"fmt"
	"io"

	"github.com/hupe1980/agentexchange"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/engine"
	"github.com/spf13/cobra"
)

func newAskCmd(flags *rootFlags) *cobra.Command {
	var (
		backendType string
		target      string
		keep        bool
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one turn against a backend target",
		Long: `Open a session against a configured backend, send one message and print
the replies. The session is ended afterwards unless --keep is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			x, err := agentexchange.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer x.Close()

			s, err := x.CreateSession(ctx, core.BackendType(backendType), target)
			if err != nil {
				return err
			}
			res, err := x.SendMessage(ctx, s.ID, args[0])
			if err != nil {
				return err
			}
			displayTurn(cmd.OutOrStdout(), s.ID, res)
			if !keep {
				if _, err := x.EndSession(ctx, s.ID); err != nil {
					return err
				}
			}
			if !res.Success {
				return fmt.Errorf("turn failed: %s", res.ErrorKind)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendType, "backend", "b", string(core.BackendTeam), "Backend type (native, studio, team)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Agent or team id")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the session open")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func displayTurn(w io.Writer, sessionID string, res engine.SendResult) {
	fmt.Fprintln(w, idStyle.Render("session "+sessionID))
	for _, m := range res.Messages {
		name := m.AgentName
		if name == "" {
			name = string(m.Role)
		}
		if m.IsError {
			fmt.Fprintln(w, errorStyle.Render(name+": "+m.Content))
			continue
		}
		fmt.Fprintln(w, agentStyle.Render(name+":")+" "+m.Content)
	}
}
