package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/alexjbarnes/wikisync/internal/docsync"
)

// Glyphs are the connectors drawn between tree rows.
type Glyphs struct {
	Branch string
	Last   string
	Pipe   string
	Space  string
}

var (
	// UnicodeGlyphs draw box characters for terminals.
	UnicodeGlyphs = Glyphs{Branch: "├── ", Last: "└── ", Pipe: "│   ", Space: "    "}
	// ASCIIGlyphs are safe for pipes and log files.
	ASCIIGlyphs = Glyphs{Branch: "|-- ", Last: "`-- ", Pipe: "|   ", Space: "    "}
)

// WriteTree renders a grouped forest, one row per node. Groups show their
// document count; leaves show their status and any recorded error.
func WriteTree(w io.Writer, forest []*docsync.Node, g Glyphs) error {
	type item struct {
		node   *docsync.Node
		prefix string
		last   bool
		root   bool
	}

	stack := make([]item, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, item{node: forest[i], root: true})
	}

	var sb strings.Builder

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		connector, childPrefix := "", ""
		if !it.root {
			connector, childPrefix = g.Branch, it.prefix+g.Pipe
			if it.last {
				connector, childPrefix = g.Last, it.prefix+g.Space
			}
		}

		sb.WriteString(it.prefix)
		sb.WriteString(connector)
		sb.WriteString(row(it.node))
		sb.WriteByte('\n')

		children := it.node.Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{
				node:   children[i],
				prefix: childPrefix,
				last:   i == len(children)-1,
			})
		}
	}

	_, err := io.WriteString(w, sb.String())

	return err
}

func row(n *docsync.Node) string {
	if n.IsGroup() {
		return fmt.Sprintf("%s (%d)", n.Label, len(n.Documents()))
	}

	d := n.Doc
	line := fmt.Sprintf("%s [%s]", d.Name, d.Status)

	if msg := d.ErrorMessage(); msg != "" {
		line += " error: " + msg
	}

	return line
}
