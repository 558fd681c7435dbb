package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hupe1980/agentexchange"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			x, err := agentexchange.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer x.Close()

			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("Serving on "+cfg.Server.Addr))
			return x.Serve(ctx, cfg.Server.Addr, agentexchange.ShutdownTimeout(cfg))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
