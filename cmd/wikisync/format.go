package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
)

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// formatSyncTime renders a unix sync time, or "never".
func formatSyncTime(ts int64) string {
	if ts == 0 {
		return "never"
	}

	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// formatReport renders a one-line run summary.
func formatReport(rep *docsync.Report) string {
	return fmt.Sprintf("%s %s: %d processed, %d skipped, %d failed in %s",
		rep.Kind, rep.Outcome, rep.Processed, rep.Skipped, rep.Failed, rep.Duration.Round(time.Millisecond))
}

func documentRows(docs []*docsync.Document) [][]string {
	rows := make([][]string, len(docs))

	for i, d := range docs {
		rows[i] = []string{
			d.Name,
			string(d.Status),
			fmt.Sprintf("%d/%d", d.SyncLocal, d.Local),
			fmt.Sprintf("%d/%d", d.SyncRemote, d.Remote),
			formatSyncTime(d.SyncTime),
			d.ErrorMessage(),
		}
	}

	return rows
}

var documentHeaders = []string{"NAME", "STATUS", "LOCAL", "REMOTE", "SYNCED", "ERROR"}
