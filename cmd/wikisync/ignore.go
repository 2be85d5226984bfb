package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/spf13/cobra"
)

func newIgnoreCmd(ignore bool) *cobra.Command {
	var (
		ff  filterFlags
		yes bool
	)

	use, short := "ignore [NAME...]", "Exclude documents from synchronization"
	if !ignore {
		use, short = "unignore [NAME...]", "Include ignored documents in synchronization again"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Name the documents as arguments, or select them with --status and --name.
A selection larger than the confirmation threshold asks before sending
unless --yes is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && (ff.status != "" || ff.name != "") {
				return fmt.Errorf("give document names or --status/--name, not both")
			}

			if len(args) == 0 && ff.status == "" && ff.name == "" {
				return fmt.Errorf("no documents selected")
			}

			f, err := ff.filter()
			if err != nil {
				return err
			}

			logger := buildLogger()

			cs, err := openClientSession(cmd.Context(), resolvedCfg, logger, nil)
			if err != nil {
				return err
			}
			defer cs.Close()

			var docs []*docsync.Document
			if len(args) > 0 {
				named, err := cs.Documents(args)
				if err != nil {
					return err
				}

				docs = docsync.SelectForIgnore(named, ignore)
			} else {
				docs = cs.IgnoreSelection(f, ignore)
			}

			if len(docs) == 0 {
				statusf("Nothing to change.\n")
				return nil
			}

			if len(docs) > docsync.ConfirmThreshold && !yes {
				ok, err := confirm(os.Stdin, os.Stderr, fmt.Sprintf("%s %d documents?", cmd.Name(), len(docs)))
				if err != nil {
					return err
				}

				if !ok {
					statusf("Aborted.\n")
					return nil
				}
			}

			stop := interruptOnSignal(logger, cs.Orchestrator().Cancel)
			defer stop()

			rep, err := cs.IgnoreDocs(cmd.Context(), docs, ignore)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(rep)
			}

			statusf("%s\n", formatReport(rep))

			if rep.Outcome != docsync.OutcomeCompleted {
				return fmt.Errorf("%s %s after %d errors", rep.Kind, rep.Outcome, rep.Errors)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&ff.status, "status", "", "comma separated statuses to include")
	cmd.Flags().StringVar(&ff.name, "name", "", "case-insensitive name substring")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

// confirm asks a yes/no question and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}

	return false, nil
}
