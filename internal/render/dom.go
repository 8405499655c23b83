package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped holds elements whose text is never rendered as body content.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// TextLeaves returns the text nodes under root in document order, skipping
// non-rendered elements and whitespace-only nodes.
func TextLeaves(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if strings.TrimSpace(n.Data) != "" {
				out = append(out, n)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// blockAtoms are the elements that start a new run of text.
var blockAtoms = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Body: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true,
	atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true, atom.Td: true,
	atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// Block is a run of consecutive text leaves sharing their nearest
// block-level ancestor, such as the pieces of a paragraph split by inline
// markup.
type Block struct {
	Node   *html.Node
	Leaves []*html.Node
}

// Text returns the block's text with whitespace normalized.
func (b Block) Text() string {
	var sb strings.Builder
	for _, n := range b.Leaves {
		sb.WriteString(n.Data)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// TextBlocks groups TextLeaves(root) into blocks. Ancestors above root are
// not considered.
func TextBlocks(root *html.Node) []Block {
	var blocks []Block
	for _, n := range TextLeaves(root) {
		b := blockOf(root, n)
		if len(blocks) > 0 && blocks[len(blocks)-1].Node == b {
			last := &blocks[len(blocks)-1]
			last.Leaves = append(last.Leaves, n)
			continue
		}
		blocks = append(blocks, Block{Node: b, Leaves: []*html.Node{n}})
	}
	return blocks
}

func blockOf(root, n *html.Node) *html.Node {
	for p := n.Parent; p != nil && p != root; p = p.Parent {
		if p.Type == html.ElementNode && blockAtoms[p.DataAtom] {
			return p
		}
	}
	return root
}

// findBody returns the <body> element of a parsed document.
func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// nodeAt follows a child-index path below root.
func nodeAt(root *html.Node, path []int) *html.Node {
	n := root
	for _, idx := range path {
		if n == nil || idx < 0 {
			return nil
		}
		c := n.FirstChild
		for i := 0; c != nil && i < idx; i++ {
			c = c.NextSibling
		}
		n = c
	}
	return n
}

// pathOf returns the child-index path from root down to n, or nil when n is
// not below root.
func pathOf(root, n *html.Node) []int {
	var rev []int
	for cur := n; cur != root; cur = cur.Parent {
		if cur == nil || cur.Parent == nil {
			return nil
		}
		idx := 0
		for s := cur.Parent.FirstChild; s != cur; s = s.NextSibling {
			idx++
		}
		rev = append(rev, idx)
	}
	path := make([]int, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}
