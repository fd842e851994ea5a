package client

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ooui-go/ooui/internal/protocol"
)

// DefaultResizeDelay debounces viewport changes before they are reported.
const DefaultResizeDelay = 100 * time.Millisecond

var pointerEvents = map[string]bool{
	"click":      true,
	"dblclick":   true,
	"mousedown":  true,
	"mouseenter": true,
	"mouseleave": true,
	"mousemove":  true,
	"mouseout":   true,
	"mouseover":  true,
	"mouseup":    true,
	"wheel":      true,
}

// SendFunc transmits one Event message to the server.
type SendFunc func(protocol.Message) error

type Option func(*Interpreter)

func WithLogger(l zerolog.Logger) Option {
	return func(in *Interpreter) { in.logger = l }
}

func WithResizeDelay(d time.Duration) Option {
	return func(in *Interpreter) { in.resizeDelay = d }
}

// Interpreter applies server frames to a Document.
type Interpreter struct {
	doc         Document
	logger      zerolog.Logger
	resizeDelay time.Duration

	mu    sync.Mutex
	nodes map[string]Object
	send  SendFunc

	resizeMu    sync.Mutex
	resizeTimer *time.Timer
	size        [2]float64
}

func NewInterpreter(doc Document, send SendFunc, opts ...Option) *Interpreter {
	in := &Interpreter{
		doc:         doc,
		logger:      log.Logger,
		resizeDelay: DefaultResizeDelay,
		send:        send,
		nodes: map[string]Object{
			protocol.WindowID:   doc.Window(),
			protocol.DocumentID: doc.Document(),
			protocol.BodyID:     doc.Body(),
		},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// SetSend replaces the event transmitter.
func (in *Interpreter) SetSend(send SendFunc) {
	in.mu.Lock()
	in.send = send
	in.mu.Unlock()
}

// Lookup returns the local object bound to id.
func (in *Interpreter) Lookup(id string) (Object, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	o, ok := in.nodes[id]
	return o, ok
}

// ApplyFrame decodes and applies one server frame.
func (in *Interpreter) ApplyFrame(data []byte) error {
	msgs, err := protocol.DecodeBatch(data)
	if err != nil {
		return err
	}
	in.Apply(msgs)
	return nil
}

// Apply runs msgs in order, except that selector-style messages run after
// everything else in the frame. A failing message is logged and skipped.
func (in *Interpreter) Apply(msgs []protocol.Message) {
	var deferred []protocol.Message
	for _, m := range msgs {
		if protocol.IsSelectorKey(m.Key) {
			deferred = append(deferred, m)
			continue
		}
		in.applyOne(m)
	}
	for _, m := range deferred {
		in.applyOne(m)
	}
}

func (in *Interpreter) applyOne(m protocol.Message) {
	if err := in.process(m); err != nil {
		in.logger.Warn().Err(err).
			Str("m", string(m.Type)).
			Str("id", m.TargetID).
			Str("key", m.Key).
			Msg("skipping message")
	}
}

func (in *Interpreter) process(m protocol.Message) error {
	switch m.Type {
	case protocol.MsgNop:
		return nil
	case protocol.MsgCreate:
		return in.create(m)
	case protocol.MsgSet:
		return in.set(m)
	case protocol.MsgSetAttribute:
		return in.setAttribute(m)
	case protocol.MsgCall:
		return in.call(m)
	case protocol.MsgListen:
		return in.listen(m)
	}
	return fmt.Errorf("%w: %q", protocol.ErrUnknownType, m.Type)
}

func (in *Interpreter) node(id string) (Object, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	o, ok := in.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return o, nil
}

func (in *Interpreter) bind(id string, o Object) {
	in.mu.Lock()
	in.nodes[id] = o
	in.mu.Unlock()
}

func (in *Interpreter) create(m protocol.Message) error {
	var o Object
	if m.Key == protocol.TextKind {
		o = in.doc.CreateTextNode("")
	} else {
		o = in.doc.CreateElement(m.Key)
		if err := o.Set("id", m.TargetID); err != nil {
			return err
		}
	}
	in.bind(m.TargetID, o)
	return nil
}

func (in *Interpreter) set(m protocol.Message) error {
	target, err := in.node(m.TargetID)
	if err != nil {
		return err
	}
	v, err := in.unwrap(m.Value)
	if err != nil {
		return err
	}

	parts := strings.Split(m.Key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := target.Get(p)
		if !ok {
			return fmt.Errorf("set %s: no property %q", m.Key, p)
		}
		obj, ok := next.(Object)
		if !ok {
			return fmt.Errorf("set %s: %q is not an object", m.Key, p)
		}
		target = obj
	}
	last := parts[len(parts)-1]

	if last == "htmlFor" {
		// The label association is by element id.
		if obj, ok := v.(Object); ok {
			v, _ = obj.Get("id")
		}
	}
	return target.Set(last, v)
}

func (in *Interpreter) setAttribute(m protocol.Message) error {
	target, err := in.node(m.TargetID)
	if err != nil {
		return err
	}
	target.SetAttribute(m.Key, m.Value.Text())
	return nil
}

func (in *Interpreter) call(m protocol.Message) error {
	target, err := in.node(m.TargetID)
	if err != nil {
		return err
	}
	v, err := in.unwrap(m.Value)
	if err != nil {
		return err
	}
	args, _ := v.([]any)

	method := m.Key
	if protocol.IsSelectorKey(method) {
		q, ok := in.doc.(Querier)
		if !ok {
			return ErrNoQuery
		}
		target = q.Query(target)
		method = strings.TrimPrefix(method, protocol.SelectorPrefix)
	}

	result, err := target.Call(method, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", m.Key, err)
	}
	if m.ResultID != "" && result != nil {
		obj, ok := result.(Object)
		if !ok {
			return fmt.Errorf("call %s: result %T is not an object", m.Key, result)
		}
		in.bind(m.ResultID, obj)
	}
	return nil
}

func (in *Interpreter) listen(m protocol.Message) error {
	target, err := in.node(m.TargetID)
	if err != nil {
		return err
	}
	id, event := m.TargetID, m.Key
	target.AddEventListener(event, func(ev NativeEvent) {
		if event == "submit" && ev.PreventDefault != nil {
			ev.PreventDefault()
		}
		in.emit(protocol.NewEvent(id, event, eventValue(target, event, ev)))
	})
	return nil
}

func eventValue(target Object, event string, ev NativeEvent) protocol.Value {
	if pointerEvents[event] {
		return protocol.Object(map[string]protocol.Value{
			"offsetX": protocol.Number(ev.OffsetX),
			"offsetY": protocol.Number(ev.OffsetY),
		})
	}
	if event != "change" && event != "input" {
		return protocol.Null()
	}
	tag, _ := target.Get("tagName")
	typ, _ := target.Get("type")
	if tag == "INPUT" && (typ == "checkbox" || typ == "radio") {
		checked, _ := target.Get("checked")
		return protocol.Of(checked)
	}
	value, ok := target.Get("value")
	if !ok {
		return protocol.Null()
	}
	return protocol.Of(value)
}

func (in *Interpreter) emit(m protocol.Message) {
	in.mu.Lock()
	send := in.send
	in.mu.Unlock()
	if send == nil {
		return
	}
	if err := send(m); err != nil {
		in.logger.Warn().Err(err).Str("id", m.TargetID).Str("key", m.Key).Msg("failed to send event")
	}
}

// Resize reports a new viewport. Rapid calls collapse into one resize event
// carrying the latest dimensions.
func (in *Interpreter) Resize(width, height float64) {
	in.resizeMu.Lock()
	defer in.resizeMu.Unlock()
	in.size = [2]float64{width, height}
	if in.resizeTimer != nil {
		in.resizeTimer.Stop()
	}
	in.resizeTimer = time.AfterFunc(in.resizeDelay, in.flushResize)
}

func (in *Interpreter) flushResize() {
	in.resizeMu.Lock()
	size := in.size
	in.resizeTimer = nil
	in.resizeMu.Unlock()

	in.emit(protocol.NewEvent(protocol.WindowID, "resize", protocol.Object(map[string]protocol.Value{
		"width":  protocol.Number(size[0]),
		"height": protocol.Number(size[1]),
	})))
}

// Stop cancels a pending resize report.
func (in *Interpreter) Stop() {
	in.resizeMu.Lock()
	defer in.resizeMu.Unlock()
	if in.resizeTimer != nil {
		in.resizeTimer.Stop()
		in.resizeTimer = nil
	}
}

// unwrap converts a protocol value to native form, resolving references
// through the node map.
func (in *Interpreter) unwrap(v protocol.Value) (any, error) {
	switch v.Kind() {
	case protocol.KindNull:
		return nil, nil
	case protocol.KindBool:
		return v.Bool(), nil
	case protocol.KindNumber:
		return v.Number(), nil
	case protocol.KindString:
		return v.Str(), nil
	case protocol.KindRef:
		return in.node(v.RefID())
	case protocol.KindSeq:
		elems := v.Elems()
		out := make([]any, len(elems))
		for i, e := range elems {
			x, err := in.unwrap(e)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case protocol.KindObject:
		fields := v.Fields()
		out := make(map[string]any, len(fields))
		for k, f := range fields {
			x, err := in.unwrap(f)
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil
	}
	return nil, fmt.Errorf("unwrap: unknown kind %s", v.Kind())
}
