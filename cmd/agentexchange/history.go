package main

import (
	"fmt"

	"github.com/hupe1980/agentexchange/history/export"
	"github.com/spf13/cobra"
)

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Export or clear session histories",
	}
	cmd.AddCommand(newHistoryExportCmd(flags), newHistoryClearCmd(flags))
	return cmd
}

func newHistoryExportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export <session-id> <path>",
		Short: "Export a transcript to a file",
		Long: `Export a session transcript. The file extension selects the format
(.json, .jsonl, .yaml, .md); append .zst to compress it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := export.ToFile(cmd.Context(), store, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Exported")+" "+args[0]+" to "+args[1])
			return nil
		},
	}
}

func newHistoryClearCmd(flags *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Permanently delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clearing history is irreversible; pass --yes to confirm")
			}
			store, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Cleared")+" "+args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the irreversible deletion")
	return cmd
}
