package docsync

import (
	"strings"
	"unicode/utf8"
)

// MinGroupSize is the partition size a shared prefix must exceed before it
// becomes a group.
const MinGroupSize = 2

// Entry is a document with the tokens still to be consumed by the grouper.
type Entry struct {
	Tokens []string
	Doc    *Document
}

// Node is one element of the display forest. Leaves carry a document, groups
// carry children.
type Node struct {
	Label    string
	Children []*Node
	Doc      *Document
}

// IsGroup reports whether the node is a group header.
func (n *Node) IsGroup() bool {
	return n.Doc == nil
}

// Documents returns every document under the node in display order.
func (n *Node) Documents() []*Document {
	var docs []*Document

	Walk([]*Node{n}, func(node *Node, _ int) {
		if node.Doc != nil {
			docs = append(docs, node.Doc)
		}
	})

	return docs
}

// Walk visits every node of the forest depth first in display order.
func Walk(forest []*Node, fn func(node *Node, depth int)) {
	type item struct {
		node  *Node
		depth int
	}

	stack := make([]item, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, item{forest[i], 0})
	}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fn(it.node, it.depth)

		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.node.Children[i], it.depth + 1})
		}
	}
}

// Group tokenizes the documents by name and groups them into a forest.
func Group(docs []*Document) []*Node {
	entries := make([]Entry, len(docs))
	for i, d := range docs {
		entries[i] = Entry{Tokens: Tokenize(d.Name), Doc: d}
	}

	return GroupTokens(entries)
}

// partKey identifies a partition. end marks entries with no tokens left,
// kept apart from entries whose next token is the empty string.
type partKey struct {
	token string
	end   bool
}

// frame is one level of the grouping work stack. keys and parts are aligned
// and ordered by first appearance of the key.
type frame struct {
	prefix string
	keys   []partKey
	parts  [][]Entry
	out    *[]*Node
}

func newFrame(entries []Entry, prefix string, out *[]*Node) *frame {
	f := &frame{prefix: prefix, out: out}
	index := make(map[partKey]int)

	for _, e := range entries {
		key := partKey{end: true}
		if len(e.Tokens) > 0 {
			key = partKey{token: e.Tokens[0]}
			e.Tokens = e.Tokens[1:]
		}

		i, ok := index[key]
		if !ok {
			i = len(f.keys)
			index[key] = i
			f.keys = append(f.keys, key)
			f.parts = append(f.parts, nil)
		}

		f.parts[i] = append(f.parts[i], e)
	}

	return f
}

// GroupTokens groups entries that share leading tokens. Each entry's token
// list is consumed one token per level. A partition becomes a group when its
// key is a non-empty token and it has more than MinGroupSize members; otherwise its
// members are emitted as leaves in input order.
func GroupTokens(entries []Entry) []*Node {
	var roots []*Node

	stack := []*frame{newFrame(entries, "", &roots)}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if len(f.keys) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}

		key, part := f.keys[0], f.parts[0]
		f.keys, f.parts = f.keys[1:], f.parts[1:]

		if !key.end && key.token != "" && len(part) > MinGroupSize {
			node := &Node{Label: groupLabel(f.prefix, part[0].Doc.Name, key.token)}
			*f.out = append(*f.out, node)
			stack = append(stack, newFrame(part, node.Label, &node.Children))

			continue
		}

		for _, e := range part {
			*f.out = append(*f.out, &Node{Label: e.Doc.Name, Doc: e.Doc})
		}
	}

	return roots
}

// groupLabel extends prefix with the part of name that follows it, up to and
// including the first occurrence of key.
func groupLabel(prefix, name, key string) string {
	rest := sliceFrom(name, len(prefix))

	i := strings.Index(rest, key)
	if i < 0 {
		return prefix + key
	}

	return prefix + rest[:i+len(key)]
}

// sliceFrom returns s from byte offset n, moved forward to a rune boundary.
func sliceFrom(s string, n int) string {
	for n < len(s) && !utf8.RuneStart(s[n]) {
		n++
	}

	if n >= len(s) {
		return ""
	}

	return s[n:]
}
