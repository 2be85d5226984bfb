package main

import (
	"os"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/alexjbarnes/wikisync/internal/session"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newTreeCmd() *cobra.Command {
	var ff filterFlags
	var ascii bool

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show documents grouped by shared name prefixes",
		Long: `Group the selected documents into a tree by the words their names share,
so long flat lists read as sections. Box drawing is used on a terminal and
plain ASCII otherwise, or with --ascii.`,
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

			forest := cs.Tree(f)

			if flagJSON {
				return printJSON(treeJSON(forest))
			}

			return session.WriteTree(os.Stdout, forest, treeGlyphs(ascii, os.Stdout.Fd()))
		},
	}

	cmd.Flags().StringVar(&ff.status, "status", "", "comma separated statuses to include")
	cmd.Flags().StringVar(&ff.name, "name", "", "case-insensitive name substring")
	cmd.Flags().BoolVar(&ascii, "ascii", false, "draw the tree with ASCII characters")

	return cmd
}

func treeGlyphs(ascii bool, fd uintptr) session.Glyphs {
	if ascii || !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) {
		return session.ASCIIGlyphs
	}

	return session.UnicodeGlyphs
}

type treeNode struct {
	Label    string      `json:"label"`
	Status   string      `json:"status,omitempty"`
	Error    string      `json:"error,omitempty"`
	Children []*treeNode `json:"children,omitempty"`
}

// treeJSON mirrors the forest as nested nodes.
func treeJSON(forest []*docsync.Node) []*treeNode {
	out := make([]*treeNode, 0, len(forest))

	// parents[d] is the output slice for depth d.
	parents := []*[]*treeNode{&out}

	docsync.Walk(forest, func(n *docsync.Node, depth int) {
		tn := &treeNode{Label: n.Label}
		if n.Doc != nil {
			tn.Label = n.Doc.Name
			tn.Status = string(n.Doc.Status)
			tn.Error = n.Doc.ErrorMessage()
		}

		parents = parents[:depth+1]
		*parents[depth] = append(*parents[depth], tn)
		parents = append(parents, &tn.Children)
	})

	return out
}
