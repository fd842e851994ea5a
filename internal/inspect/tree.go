package inspect

import (
	"fmt"
	"strings"

	"github.com/ooui-go/ooui/internal/client/memdom"
)

const maxText = 40

// Row is one line of the flattened document tree.
type Row struct {
	Depth int
	Node  *memdom.Node
}

// Flatten lists root's descendants in document order.
func Flatten(root *memdom.Node) []Row {
	var rows []Row
	var walk func(n *memdom.Node, depth int)
	walk = func(n *memdom.Node, depth int) {
		for _, c := range n.Children() {
			rows = append(rows, Row{Depth: depth, Node: c})
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return rows
}

// Label describes a node on one line without styling.
func Label(n *memdom.Node) string {
	if n.IsText() {
		return fmt.Sprintf("%q", truncate(n.TextContent(), maxText))
	}
	var b strings.Builder
	b.WriteString("<" + n.Tag())
	if id := n.ID(); id != "" {
		b.WriteString("#" + id)
	}
	b.WriteString(">")
	for _, part := range details(n) {
		b.WriteString(" " + part)
	}
	return b.String()
}

func details(n *memdom.Node) []string {
	var out []string
	if ls := n.Listeners(); len(ls) > 0 {
		out = append(out, "["+strings.Join(ls, ",")+"]")
	}
	if v, ok := n.Prop("value"); ok {
		out = append(out, fmt.Sprintf("value=%q", truncate(fmt.Sprint(v), maxText)))
	}
	if v, ok := n.Prop("checked"); ok {
		out = append(out, fmt.Sprintf("checked=%v", v))
	}
	if ctx := n.Context(); ctx != nil {
		out = append(out, fmt.Sprintf("(%d ops)", len(ctx.Ops())))
	}
	return out
}

// render is Label with colors and indentation.
func render(r Row) string {
	indent := strings.Repeat("  ", r.Depth)
	n := r.Node
	if n.IsText() {
		return indent + styleText.Render(Label(n))
	}
	head := styleTag.Render("<" + n.Tag())
	if id := n.ID(); id != "" {
		head += styleID.Render("#" + id)
	}
	head += styleTag.Render(">")
	for _, part := range details(n) {
		switch {
		case strings.HasPrefix(part, "["):
			head += " " + styleListener.Render(part)
		case strings.HasPrefix(part, "("):
			head += " " + styleCanvas.Render(part)
		default:
			head += " " + styleValue.Render(part)
		}
	}
	return indent + head
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
