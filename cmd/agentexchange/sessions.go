package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history"
	"github.com/spf13/cobra"
)

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted sessions",
	}
	cmd.AddCommand(newSessionsListCmd(flags), newSessionsShowCmd(flags))
	return cmd
}

func newSessionsListCmd(flags *rootFlags) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			history.SortSessions(sessions)
			if state != "" {
				sessions = filterState(sessions, core.SessionState(state))
			}
			displaySessions(cmd.OutOrStdout(), sessions, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only show sessions in this state (active, idle, ended, failed)")
	return cmd
}

func filterState(sessions []core.Session, state core.SessionState) []core.Session {
	out := sessions[:0]
	for _, s := range sessions {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out
}

func displaySessions(w io.Writer, sessions []core.Session, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No sessions found"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(sessions))))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Backend")+"\t"+titleStyle.Render("Target")+"\t"+titleStyle.Render("State")+"\t"+titleStyle.Render("Last activity")+"\t")
	fmt.Fprintln(tw, strings.Repeat("─", 90))
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(s.ID),
			string(s.BackendType),
			s.TargetID,
			stateStyle(s.State).Render(string(s.State)),
			dateStyle.Render(formatTime(s.LastActivityAt, now)),
		)
	}
	_ = tw.Flush()
}

func newSessionsShowCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msgs, err := store.Load(cmd.Context(), s.ID)
			if err != nil {
				return err
			}
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			displaySession(cmd.OutOrStdout(), s, msgs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only show the last n messages")
	return cmd
}

func displaySession(w io.Writer, s core.Session, msgs []core.Message) {
	fmt.Fprintln(w, headerStyle.Render("Session "+s.ID))
	fmt.Fprintf(w, "%s %s/%s  %s  created %s\n\n",
		titleStyle.Render("Target:"),
		s.BackendType, s.TargetID,
		stateStyle(s.State).Render(string(s.State)),
		s.CreatedAt.Format(time.RFC3339),
	)
	for _, m := range msgs {
		who := string(m.Role)
		if m.AgentName != "" {
			who += " (" + m.AgentName + ")"
		}
		line := agentStyle.Render("#"+strconv.FormatInt(m.Order, 10)+" "+who) + " " + dateStyle.Render(m.Timestamp.Format(time.TimeOnly))
		fmt.Fprintln(w, line)
		if m.IsError {
			fmt.Fprintln(w, errorStyle.Render(m.Content))
		} else {
			fmt.Fprintln(w, m.Content)
		}
		fmt.Fprintln(w)
	}
}
