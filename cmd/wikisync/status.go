package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var ff filterFlags
	var list bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many documents are in each sync state",
		Long: `Load every document from the endpoint and count them by status.

With --list, print one row per document with its local and remote version
counters (synced/current) instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}

			cs, err := openClientSession(cmd.Context(), resolvedCfg, buildLogger(), nil)
			if err != nil {
				return err
			}
			defer cs.Close()

			docs := cs.Select(f)

			last, err := cs.state.LastRunReport()
			if err != nil {
				return fmt.Errorf("reading last run: %w", err)
			}

			if flagJSON {
				return printJSON(statusJSON{Total: len(docs), Counts: countByStatus(docs), Documents: listOrNil(list, docs), LastRun: last})
			}

			if list {
				printTable(os.Stdout, documentHeaders, documentRows(docs))
				return nil
			}

			printStatusText(docs, last)

			return nil
		},
	}

	cmd.Flags().StringVar(&ff.status, "status", "", "comma separated statuses to include")
	cmd.Flags().StringVar(&ff.name, "name", "", "case-insensitive name substring")
	cmd.Flags().BoolVar(&list, "list", false, "list every selected document")

	return cmd
}

type statusJSON struct {
	Total     int                    `json:"total"`
	Counts    map[docsync.Status]int `json:"counts"`
	Documents []*docsync.Document    `json:"documents,omitempty"`
	LastRun   *docsync.Report        `json:"last_run,omitempty"`
}

func countByStatus(docs []*docsync.Document) map[docsync.Status]int {
	counts := make(map[docsync.Status]int, len(docsync.Statuses))
	for _, d := range docs {
		counts[d.Status]++
	}

	return counts
}

func listOrNil(list bool, docs []*docsync.Document) []*docsync.Document {
	if list {
		return docs
	}

	return nil
}

func printStatusText(docs []*docsync.Document, last *docsync.Report) {
	counts := countByStatus(docs)
	rows := make([][]string, 0, len(docsync.Statuses))

	for _, s := range docsync.Statuses {
		if counts[s] == 0 {
			continue
		}

		rows = append(rows, []string{string(s), strconv.Itoa(counts[s])})
	}

	if len(rows) == 0 {
		fmt.Println("No documents.")
	} else {
		printTable(os.Stdout, []string{"STATUS", "DOCUMENTS"}, rows)
		fmt.Printf("\n%d documents\n", len(docs))
	}

	if last != nil {
		fmt.Printf("Last run: %s\n", formatReport(last))
	}
}
