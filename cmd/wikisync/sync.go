package main

import (
	"fmt"
	"strings"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var (
		ff         filterFlags
		takeRemote bool
		takeLocal  bool
		resolves   []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push and pull every out of step document",
		Long: `Run one synchronization pass over the selected documents.

Modified and new documents are pushed, outdated and missing documents are
pulled. Conflicts are left alone unless resolved with --resolve NAME=CHOICE
or overridden for the whole pass with --take-remote or --take-local.

The first interrupt stops the pass after the request in flight; a second one
exits immediately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}

			perDoc, err := parseResolves(resolves)
			if err != nil {
				return err
			}

			logger := buildLogger()

			cs, err := openClientSession(cmd.Context(), resolvedCfg, logger, docsync.ObserverFunc(printProgress))
			if err != nil {
				return err
			}
			defer cs.Close()

			for name, r := range perDoc {
				if err := cs.SetResolve(name, r); err != nil {
					return err
				}
			}

			switch {
			case takeRemote:
				cs.SetGlobalResolve(docsync.ResolveTakeRemote)
			case takeLocal:
				cs.SetGlobalResolve(docsync.ResolveTakeLocal)
			}

			stop := interruptOnSignal(logger, cs.Orchestrator().Cancel)
			defer stop()

			rep, err := cs.Sync(cmd.Context(), f)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(rep)
			}

			statusf("%s\n", formatReport(rep))

			if rep.Outcome != docsync.OutcomeCompleted {
				return fmt.Errorf("sync %s after %d errors", rep.Outcome, rep.Errors)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&ff.status, "status", "", "comma separated statuses to include")
	cmd.Flags().StringVar(&ff.name, "name", "", "case-insensitive name substring")
	cmd.Flags().BoolVar(&takeRemote, "take-remote", false, "resolve every conflict with the remote copy")
	cmd.Flags().BoolVar(&takeLocal, "take-local", false, "resolve every conflict with the local copy")
	cmd.Flags().StringArrayVar(&resolves, "resolve", nil, "resolve one conflict, NAME=take-remote|take-local|defer (repeatable)")

	cmd.MarkFlagsMutuallyExclusive("take-remote", "take-local")

	return cmd
}

// parseResolves parses NAME=CHOICE pairs. Names may contain '=' so the last
// one separates the choice.
func parseResolves(pairs []string) (map[string]docsync.Resolution, error) {
	out := make(map[string]docsync.Resolution, len(pairs))

	for _, pair := range pairs {
		idx := strings.LastIndex(pair, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid --resolve %q, expected NAME=CHOICE", pair)
		}

		r, err := docsync.ParseResolution(pair[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid --resolve %q: %w", pair, err)
		}

		out[pair[:idx]] = r
	}

	return out, nil
}

// printProgress reports each finished request on stderr.
func printProgress(e docsync.Event) {
	if e.Kind != docsync.EventComplete || flagJSON {
		return
	}

	if e.Success {
		statusf("  %-6s %s\n", e.Action, e.Name)
		return
	}

	statusf("  %-6s %s: %s\n", e.Action, e.Name, e.Error)
}
