package main

import (
	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rescan both page stores and reload every document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, err := openClientSession(cmd.Context(), resolvedCfg, buildLogger(), nil)
			if err != nil {
				return err
			}
			defer cs.Close()

			if err := cs.Refresh(cmd.Context()); err != nil {
				return err
			}

			docs := cs.Docs().Snapshot()

			if flagJSON {
				return printJSON(statusJSON{Total: len(docs), Counts: countByStatus(docs)})
			}

			statusf("Refreshed %d documents\n", len(docs))
			printStatusText(docs, nil)

			return nil
		},
	}
}
