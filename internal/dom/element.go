// Package dom is the server-side entity tree mirrored to clients. Every
// mutation is recorded as a state message and announced to subscribers of
// the node and all of its ancestors, so a session subscribed on the root
// hears every change in the attached tree.
package dom

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/ooui-go/ooui/internal/protocol"
)

// Event is an inbound client event delivered to a handler.
type Event struct {
	Target *Element
	Type   string
	Value  protocol.Value
}

// OffsetX returns the pointer x coordinate of a pointer-family event.
func (e Event) OffsetX() float64 {
	f, _ := e.Value.Field("offsetX")
	return f.Number()
}

// OffsetY returns the pointer y coordinate of a pointer-family event.
func (e Event) OffsetY() float64 {
	f, _ := e.Value.Field("offsetY")
	return f.Number()
}

type Handler func(Event)

type Option func(*Element)

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(e *Element) { e.id = id }
}

// Element is a tracked node of the mirrored tree.
type Element struct {
	id   string
	kind string

	mu         sync.Mutex
	parent     *Element
	children   []*Element
	state      []protocol.Message
	stateIndex map[string]int
	values     map[string]protocol.Value
	listeners  map[string][]Handler
	subs       map[int]func(protocol.Message)
	nextSub    int
	owned      []protocol.Stateful
	fullScreen bool

	// onEvent runs before user handlers; kinds use it to absorb client state.
	onEvent func(protocol.Message)
}

// NewElement creates a node of the given kind (a tag name, or "#text").
func NewElement(kind string, opts ...Option) *Element {
	e := &Element{
		id:         NewID(),
		kind:       kind,
		stateIndex: make(map[string]int),
		values:     make(map[string]protocol.Value),
		listeners:  make(map[string][]Handler),
		subs:       make(map[int]func(protocol.Message)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = []protocol.Message{protocol.NewCreate(e.id, kind)}
	return e
}

// NewID returns a fresh identifier for a tracked object.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

func (e *Element) ID() string   { return e.id }
func (e *Element) Kind() string { return e.kind }

func (e *Element) Parent() *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parent
}

func (e *Element) Children() []*Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Element(nil), e.children...)
}

// Subscribe registers fn for every message emitted by this node or any
// descendant. The returned func removes the subscription.
func (e *Element) Subscribe(fn func(protocol.Message)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// Send records m in the node state and announces it. It is the single path
// through which every mutation leaves the node. A message whose value cannot
// be encoded is announced but never recorded, so later joiners do not
// inherit it.
func (e *Element) Send(m protocol.Message) {
	if m.Value.Validate() == nil {
		e.mu.Lock()
		e.saveLocked(m)
		e.mu.Unlock()
	}
	e.bubble(m)
}

func (e *Element) bubble(m protocol.Message) {
	e.mu.Lock()
	subs := make([]func(protocol.Message), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	parent := e.parent
	e.mu.Unlock()

	for _, fn := range subs {
		fn(m)
	}
	if parent != nil {
		parent.bubble(m)
	}
}

func stateKey(m protocol.Message) (string, bool) {
	switch m.Type {
	case protocol.MsgSet:
		return "set:" + m.TargetID + ":" + m.Key, true
	case protocol.MsgSetAttribute:
		return "attr:" + m.TargetID + ":" + m.Key, true
	case protocol.MsgListen:
		return "listen:" + m.TargetID + ":" + m.Key, true
	case protocol.MsgCall:
		if m.ResultID != "" {
			return "result:" + m.ResultID, true
		}
	}
	return "", false
}

func (e *Element) saveLocked(m protocol.Message) {
	key, ok := stateKey(m)
	if !ok {
		return
	}
	if i, ok := e.stateIndex[key]; ok {
		e.state[i] = m
		return
	}
	e.stateIndex[key] = len(e.state)
	e.state = append(e.state, m)
}

// StateMessages returns the Create for this node, its current properties,
// attributes and listeners, then one appendChild per child in order.
func (e *Element) StateMessages() []protocol.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.Message, 0, len(e.state)+len(e.children))
	out = append(out, e.state...)
	for _, c := range e.children {
		out = append(out, protocol.NewCall(e.id, "appendChild", protocol.Ref(c)))
	}
	return out
}

// SetProperty assigns a dotted property path. Unchanged values are not sent.
func (e *Element) SetProperty(path string, v any) {
	val := protocol.Of(v)
	if val.Validate() != nil {
		e.Send(protocol.NewSet(e.id, path, val))
		return
	}
	e.mu.Lock()
	if old, ok := e.values[path]; ok && old.Equal(val) {
		e.mu.Unlock()
		return
	}
	e.values[path] = val
	e.mu.Unlock()
	e.Send(protocol.NewSet(e.id, path, val))
}

// Property returns the last value assigned to path.
func (e *Element) Property(path string) protocol.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values[path]
}

// setLocal updates a property from client state without echoing a Set.
func (e *Element) setLocal(path string, v protocol.Value) {
	e.mu.Lock()
	e.values[path] = v
	e.saveLocked(protocol.NewSet(e.id, path, v))
	e.mu.Unlock()
}

func (e *Element) SetAttribute(name, value string) {
	key := "@" + name
	val := protocol.String(value)
	e.mu.Lock()
	if old, ok := e.values[key]; ok && old.Equal(val) {
		e.mu.Unlock()
		return
	}
	e.values[key] = val
	e.mu.Unlock()
	e.Send(protocol.NewSetAttribute(e.id, name, value))
}

func (e *Element) Attribute(name string) string {
	return e.Property("@" + name).Str()
}

func (e *Element) SetText(text string) { e.SetProperty("textContent", text) }
func (e *Element) Text() string        { return e.Property("textContent").Str() }

// SetStyle assigns one inline style property, e.g. SetStyle("color", "red").
func (e *Element) SetStyle(name string, v any) { e.SetProperty("style."+name, v) }

func (e *Element) Style(name string) protocol.Value { return e.Property("style." + name) }

// Call invokes a method on the client object without recording it in the
// node state.
func (e *Element) Call(method string, args ...any) {
	vals := make([]protocol.Value, len(args))
	for i, a := range args {
		vals[i] = protocol.Of(a)
	}
	e.Send(protocol.NewCall(e.id, method, vals...))
}

// On registers a handler for a client event. The first handler for an
// event name asks clients to listen for it.
func (e *Element) On(event string, h Handler) {
	e.mu.Lock()
	first := len(e.listeners[event]) == 0
	e.listeners[event] = append(e.listeners[event], h)
	e.mu.Unlock()
	if first {
		e.Send(protocol.NewListen(e.id, event))
	}
}

func (e *Element) AppendChild(c *Element) {
	c.detach()
	e.mu.Lock()
	e.children = append(e.children, c)
	e.mu.Unlock()
	c.setParent(e)
	e.Send(protocol.NewCall(e.id, "appendChild", protocol.Ref(c)))
}

// InsertBefore inserts c ahead of ref. A nil or foreign ref appends.
func (e *Element) InsertBefore(c, ref *Element) {
	if ref == nil || ref.Parent() != e {
		e.AppendChild(c)
		return
	}
	c.detach()
	e.mu.Lock()
	idx := len(e.children)
	for i, x := range e.children {
		if x == ref {
			idx = i
			break
		}
	}
	e.children = append(e.children, nil)
	copy(e.children[idx+1:], e.children[idx:])
	e.children[idx] = c
	e.mu.Unlock()
	c.setParent(e)
	e.Send(protocol.NewCall(e.id, "insertBefore", protocol.Ref(c), protocol.Ref(ref)))
}

func (e *Element) RemoveChild(c *Element) bool {
	if !e.removeLocal(c) {
		return false
	}
	e.Send(protocol.NewCall(e.id, "removeChild", protocol.Ref(c)))
	return true
}

// ReplaceText swaps all children for a single text node.
func (e *Element) ReplaceText(text string) {
	for _, c := range e.Children() {
		e.RemoveChild(c)
	}
	e.AppendChild(NewText(text))
}

func (e *Element) removeLocal(c *Element) bool {
	e.mu.Lock()
	found := false
	for i, x := range e.children {
		if x == c {
			e.children = append(e.children[:i], e.children[i+1:]...)
			found = true
			break
		}
	}
	e.mu.Unlock()
	if found {
		c.setParent(nil)
	}
	return found
}

func (e *Element) detach() {
	if p := e.Parent(); p != nil {
		p.RemoveChild(e)
	}
}

func (e *Element) setParent(p *Element) {
	e.mu.Lock()
	e.parent = p
	e.mu.Unlock()
}

// own registers a tracked object whose lifetime is bound to this node, such
// as a canvas context, so that Lookup can find it.
func (e *Element) own(s protocol.Stateful) {
	e.mu.Lock()
	e.owned = append(e.owned, s)
	e.mu.Unlock()
}

// Lookup finds a tracked object by identifier in this subtree.
func (e *Element) Lookup(id string) (protocol.Stateful, bool) {
	if e.id == id {
		return e, true
	}
	e.mu.Lock()
	owned := append([]protocol.Stateful(nil), e.owned...)
	children := append([]*Element(nil), e.children...)
	e.mu.Unlock()

	for _, s := range owned {
		if s.ID() == id {
			return s, true
		}
	}
	for _, c := range children {
		if s, ok := c.Lookup(id); ok {
			return s, true
		}
	}
	return nil, false
}

// ElementByID is Lookup restricted to elements.
func (e *Element) ElementByID(id string) (*Element, bool) {
	s, ok := e.Lookup(id)
	if !ok {
		return nil, false
	}
	el, ok := s.(*Element)
	return el, ok
}

// Receive dispatches an inbound Event into this subtree. It reports whether
// a target was found.
func (e *Element) Receive(m protocol.Message) bool {
	if m.Type != protocol.MsgEvent {
		return false
	}
	if m.TargetID == protocol.WindowID {
		return e.receiveWindow(m)
	}
	target, ok := e.ElementByID(m.TargetID)
	if !ok {
		return false
	}
	target.trigger(m)
	return true
}

func (e *Element) trigger(m protocol.Message) {
	e.mu.Lock()
	hook := e.onEvent
	handlers := append([]Handler(nil), e.listeners[m.Key]...)
	e.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	ev := Event{Target: e, Type: m.Key, Value: m.Value}
	for _, h := range handlers {
		h(ev)
	}
}

func (e *Element) receiveWindow(m protocol.Message) bool {
	if m.Key != "resize" {
		return false
	}
	w, wok := m.Value.Field("width")
	h, hok := m.Value.Field("height")
	if wok && hok && e.WantsFullScreen() {
		e.SetViewport(w.Number(), h.Number())
	}
	e.trigger(m)
	return true
}

// SetFullScreen marks the node as wanting the whole client viewport.
func (e *Element) SetFullScreen(v bool) {
	e.mu.Lock()
	e.fullScreen = v
	e.mu.Unlock()
}

func (e *Element) WantsFullScreen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fullScreen
}

// SetViewport sizes the node to the client viewport in CSS pixels.
func (e *Element) SetViewport(width, height float64) {
	e.SetStyle("width", protocol.Number(width).Text()+"px")
	e.SetStyle("height", protocol.Number(height).Text()+"px")
}
