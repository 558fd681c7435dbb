package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hupe1980/agentexchange/httpapi"
	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	var (
		server  string
		agent   string
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show backend call metrics of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if agent != "" {
				q.Set("agent", agent)
			}
			if session != "" {
				q.Set("session", session)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			u := strings.TrimRight(server, "/") + "/metrics"
			if len(q) > 0 {
				u += "?" + q.Encode()
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach server: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				var e httpapi.ErrorResponse
				_ = json.NewDecoder(resp.Body).Decode(&e)
				return fmt.Errorf("server answered %d: %s", resp.StatusCode, e.Error)
			}
			var out httpapi.MetricsResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("failed to decode metrics: %w", err)
			}
			displayMetrics(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the server")
	cmd.Flags().StringVar(&agent, "agent", "", "Only records of this agent/target")
	cmd.Flags().StringVar(&session, "session", "", "Only records of this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only the newest n records")
	return cmd
}

func displayMetrics(w io.Writer, m httpapi.MetricsResponse) {
	st := m.Stats
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d call(s), %.0f%% success, mean %.1f ms",
		st.Count, st.SuccessRate*100, st.MeanDurationMs)))
	if len(m.Records) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("Started")+"\t"+titleStyle.Render("Agent")+"\t"+titleStyle.Render("Session")+"\t"+titleStyle.Render("ms")+"\t"+titleStyle.Render("Result")+"\t")
	for _, r := range m.Records {
		result := okStyle.Render("ok")
		if !r.Success {
			result = errorStyle.Render(r.ErrorKind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t\n",
			dateStyle.Render(r.StartedAt.Format(time.DateTime)), r.AgentID, idStyle.Render(r.SessionID), r.DurationMs, result)
	}
	_ = tw.Flush()
}
