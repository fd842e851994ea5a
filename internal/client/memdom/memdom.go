// Package memdom is an in-memory document for the client interpreter. It
// models enough of a browser document to mirror a page in tests and in the
// terminal inspector.
package memdom

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ooui-go/ooui/internal/client"
	"github.com/ooui-go/ooui/internal/protocol"
)

// AnchorID is the id of the element the page root is attached to.
const AnchorID = "ooui-body"

var ErrUnsupported = errors.New("memdom: unsupported call")

// Document implements client.Document and client.Querier.
type Document struct {
	mu       sync.RWMutex
	window   *Node
	document *Node
	body     *Node
	anchor   *Node
}

func New() *Document {
	d := &Document{}
	d.window = d.newNode("#window")
	d.document = d.newNode("#document")
	d.body = d.newNode("body")
	d.anchor = d.newNode("div")
	d.anchor.id = AnchorID
	d.anchor.parent = d.body
	d.body.children = []*Node{d.anchor}
	return d
}

func (d *Document) newNode(tag string) *Node {
	return &Node{
		doc:       d,
		tag:       tag,
		props:     make(map[string]any),
		attrs:     make(map[string]string),
		listeners: make(map[string][]func(client.NativeEvent)),
	}
}

func (d *Document) Window() client.Object   { return d.window }
func (d *Document) Document() client.Object { return d.document }
func (d *Document) Body() client.Object     { return d.anchor }

// Anchor is Body as a concrete node.
func (d *Document) Anchor() *Node { return d.anchor }

func (d *Document) CreateElement(tag string) client.Object {
	return d.newNode(strings.ToLower(tag))
}

func (d *Document) CreateTextNode(text string) client.Object {
	n := d.newNode(protocol.TextKind)
	n.text = text
	return n
}

// Query wraps target in the selector helper.
func (d *Document) Query(target client.Object) client.Object {
	n, ok := target.(*Node)
	if !ok {
		return target
	}
	return &selection{node: n}
}

// ByID finds an attached element by id.
func (d *Document) ByID(id string) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.body.findLocked(id)
}

// Node is an element or text node.
type Node struct {
	doc *Document

	tag       string
	id        string
	text      string
	props     map[string]any
	attrs     map[string]string
	style     *Style
	parent    *Node
	children  []*Node
	listeners map[string][]func(client.NativeEvent)
	plugins   []string
	ctx       *Context2D
}

func (n *Node) IsText() bool { return n.tag == protocol.TextKind }

func (n *Node) Tag() string { return n.tag }

func (n *Node) ID() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.id
}

func (n *Node) Children() []*Node {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return append([]*Node(nil), n.children...)
}

func (n *Node) Parent() *Node {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.parent
}

// TextContent concatenates the text of all descendant text nodes.
func (n *Node) TextContent() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.textLocked()
}

func (n *Node) textLocked() string {
	if n.IsText() {
		return n.text
	}
	var b strings.Builder
	for _, c := range n.children {
		b.WriteString(c.textLocked())
	}
	return b.String()
}

func (n *Node) Attr(name string) (string, bool) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	v, ok := n.attrs[name]
	return v, ok
}

func (n *Node) Prop(name string) (any, bool) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	v, ok := n.props[name]
	return v, ok
}

// Listeners returns the event names with at least one listener, sorted.
func (n *Node) Listeners() []string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	out := make([]string, 0, len(n.listeners))
	for ev := range n.listeners {
		out = append(out, ev)
	}
	sort.Strings(out)
	return out
}

// Plugins returns the selector-helper methods invoked on this node.
func (n *Node) Plugins() []string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return append([]string(nil), n.plugins...)
}

// Context returns the canvas context, if one was requested.
func (n *Node) Context() *Context2D {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.ctx
}

func (n *Node) Style() *Style {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.styleLocked()
}

func (n *Node) styleLocked() *Style {
	if n.style == nil {
		n.style = &Style{doc: n.doc, props: make(map[string]any)}
	}
	return n.style
}

func (n *Node) findLocked(id string) (*Node, bool) {
	if n.id == id && !n.IsText() {
		return n, true
	}
	for _, c := range n.children {
		if found, ok := c.findLocked(id); ok {
			return found, true
		}
	}
	return nil, false
}

func (n *Node) Get(name string) (any, bool) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	switch name {
	case "tagName":
		if n.IsText() {
			return nil, false
		}
		return strings.ToUpper(n.tag), true
	case "id":
		return n.id, true
	case "style":
		return n.styleLocked(), true
	case "textContent", "innerText":
		return n.textLocked(), true
	case "data", "nodeValue":
		if n.IsText() {
			return n.text, true
		}
		return nil, false
	case "parentNode":
		if n.parent == nil {
			return nil, false
		}
		return n.parent, true
	}
	v, ok := n.props[name]
	return v, ok
}

func (n *Node) Set(name string, v any) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	switch name {
	case "id":
		n.id = fmt.Sprint(v)
		return nil
	case "textContent", "innerText", "data", "nodeValue":
		text := ""
		if v != nil {
			text = fmt.Sprint(v)
		}
		if n.IsText() {
			n.text = text
			return nil
		}
		for _, c := range n.children {
			c.parent = nil
		}
		n.children = nil
		if text != "" {
			t := n.doc.newNode(protocol.TextKind)
			t.text = text
			t.parent = n
			n.children = []*Node{t}
		}
		return nil
	case "tagName", "style", "parentNode":
		return fmt.Errorf("memdom: %s is read-only", name)
	}
	n.props[name] = v
	return nil
}

func (n *Node) SetAttribute(name, value string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.attrs[name] = value
}

func (n *Node) Call(method string, args []any) (any, error) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	switch method {
	case "appendChild":
		child, err := nodeArg(args, 0)
		if err != nil {
			return nil, err
		}
		child.detachLocked()
		child.parent = n
		n.children = append(n.children, child)
		return child, nil
	case "insertBefore":
		child, err := nodeArg(args, 0)
		if err != nil {
			return nil, err
		}
		ref, _ := nodeArg(args, 1)
		child.detachLocked()
		child.parent = n
		idx := len(n.children)
		for i, c := range n.children {
			if c == ref {
				idx = i
				break
			}
		}
		n.children = append(n.children, nil)
		copy(n.children[idx+1:], n.children[idx:])
		n.children[idx] = child
		return child, nil
	case "removeChild":
		child, err := nodeArg(args, 0)
		if err != nil {
			return nil, err
		}
		if child.parent != n {
			return nil, fmt.Errorf("memdom: removeChild: %s is not a child", child.id)
		}
		child.detachLocked()
		return child, nil
	case "getContext":
		if n.tag != "canvas" {
			return nil, fmt.Errorf("%w: getContext on %s", ErrUnsupported, n.tag)
		}
		if n.ctx == nil {
			n.ctx = &Context2D{doc: n.doc, props: make(map[string]any)}
		}
		return n.ctx, nil
	case "focus", "blur", "select":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, method)
}

func (n *Node) detachLocked() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

func nodeArg(args []any, i int) (*Node, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("memdom: missing argument %d", i)
	}
	n, ok := args[i].(*Node)
	if !ok {
		return nil, fmt.Errorf("memdom: argument %d is %T, not a node", i, args[i])
	}
	return n, nil
}

func (n *Node) AddEventListener(event string, fn func(client.NativeEvent)) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.listeners[event] = append(n.listeners[event], fn)
}

// Dispatch fires event at n with pointer offsets x, y. It reports whether a
// listener prevented the default action.
func (n *Node) Dispatch(event string, x, y float64) bool {
	n.doc.mu.RLock()
	fns := append(([]func(client.NativeEvent))(nil), n.listeners[event]...)
	n.doc.mu.RUnlock()

	prevented := false
	ev := client.NativeEvent{
		Type:           event,
		OffsetX:        x,
		OffsetY:        y,
		PreventDefault: func() { prevented = true },
	}
	for _, fn := range fns {
		fn(ev)
	}
	return prevented
}

// Style is an element's inline style declaration.
type Style struct {
	doc   *Document
	props map[string]any
}

func (s *Style) Get(name string) (any, bool) {
	s.doc.mu.RLock()
	defer s.doc.mu.RUnlock()
	v, ok := s.props[name]
	return v, ok
}

func (s *Style) Set(name string, v any) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	if v == nil {
		delete(s.props, name)
		return nil
	}
	s.props[name] = v
	return nil
}

func (s *Style) SetAttribute(string, string) {}

func (s *Style) Call(method string, _ []any) (any, error) {
	return nil, fmt.Errorf("%w: style.%s", ErrUnsupported, method)
}

func (s *Style) AddEventListener(string, func(client.NativeEvent)) {}

// String renders the declaration in property order.
func (s *Style) String() string {
	s.doc.mu.RLock()
	defer s.doc.mu.RUnlock()
	keys := make([]string, 0, len(s.props))
	for k := range s.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, s.props[k])
	}
	return strings.Join(parts, "; ")
}

// Context2D records drawing operations issued against a canvas.
type Context2D struct {
	doc   *Document
	props map[string]any
	ops   []string
}

func (x *Context2D) Get(name string) (any, bool) {
	x.doc.mu.RLock()
	defer x.doc.mu.RUnlock()
	v, ok := x.props[name]
	return v, ok
}

func (x *Context2D) Set(name string, v any) error {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	x.props[name] = v
	x.ops = append(x.ops, fmt.Sprintf("%s=%v", name, v))
	return nil
}

func (x *Context2D) SetAttribute(string, string) {}

func (x *Context2D) Call(method string, args []any) (any, error) {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	x.ops = append(x.ops, method+"("+strings.Join(parts, ",")+")")
	return nil, nil
}

func (x *Context2D) AddEventListener(string, func(client.NativeEvent)) {}

// Ops returns the recorded operations in order.
func (x *Context2D) Ops() []string {
	x.doc.mu.RLock()
	defer x.doc.mu.RUnlock()
	return append([]string(nil), x.ops...)
}

// selection is the selector helper bound to one node. Its calls are
// recorded as plugin invocations on the node.
type selection struct {
	node *Node
}

func (s *selection) Get(name string) (any, bool)  { return s.node.Get(name) }
func (s *selection) Set(name string, v any) error { return s.node.Set(name, v) }
func (s *selection) SetAttribute(name, value string) {
	s.node.SetAttribute(name, value)
}

func (s *selection) Call(method string, _ []any) (any, error) {
	s.node.doc.mu.Lock()
	defer s.node.doc.mu.Unlock()
	s.node.plugins = append(s.node.plugins, method)
	return s.node, nil
}

func (s *selection) AddEventListener(event string, fn func(client.NativeEvent)) {
	s.node.AddEventListener(event, fn)
}
