package dom

import (
	"github.com/ooui-go/ooui/internal/protocol"
)

// NewText creates a text node.
func NewText(text string, opts ...Option) *Element {
	e := NewElement(protocol.TextKind, opts...)
	e.SetText(text)
	return e
}

func NewDiv(opts ...Option) *Element { return NewElement("div", opts...) }

func NewSpan(text string, opts ...Option) *Element {
	e := NewElement("span", opts...)
	e.SetText(text)
	return e
}

func NewHeading(level int, text string, opts ...Option) *Element {
	if level < 1 || level > 6 {
		level = 1
	}
	e := NewElement("h"+protocol.Int(level).Text(), opts...)
	e.SetText(text)
	return e
}

func NewButton(text string, opts ...Option) *Element {
	e := NewElement("button", opts...)
	e.SetAttribute("type", "button")
	e.SetText(text)
	return e
}

// NewLabel creates a label associated with control through htmlFor.
func NewLabel(text string, control *Element, opts ...Option) *Element {
	e := NewElement("label", opts...)
	e.SetText(text)
	if control != nil {
		e.SetProperty("htmlFor", control)
	}
	return e
}

// FormControl is an element whose client-side value flows back in change
// and input events.
type FormControl struct {
	*Element
	valueKey string
}

func newFormControl(tag, valueKey string, opts ...Option) *FormControl {
	fc := &FormControl{Element: NewElement(tag, opts...), valueKey: valueKey}
	fc.onEvent = fc.absorb
	// Clients only report values for events the server listens to.
	fc.On("change", func(Event) {})
	return fc
}

func (fc *FormControl) absorb(m protocol.Message) {
	if m.Key != "change" && m.Key != "input" {
		return
	}
	v := m.Value
	if fc.valueKey == "value" {
		v = protocol.String(v.Text())
	}
	fc.setLocal(fc.valueKey, v)
}

// NewTextArea creates a multi-line text control.
func NewTextArea(text string, opts ...Option) *FormControl {
	fc := newFormControl("textarea", "value", opts...)
	fc.SetValue(text)
	return fc
}

// NewInput creates an input of the given type ("text", "checkbox", ...).
func NewInput(typ string, opts ...Option) *FormControl {
	key := "value"
	if typ == "checkbox" || typ == "radio" {
		key = "checked"
	}
	fc := newFormControl("input", key, opts...)
	fc.SetProperty("type", typ)
	return fc
}

func (fc *FormControl) Value() string     { return fc.Property("value").Text() }
func (fc *FormControl) SetValue(v string) { fc.SetProperty("value", v) }
func (fc *FormControl) Checked() bool     { return fc.Property("checked").Bool() }
func (fc *FormControl) SetChecked(v bool) { fc.SetProperty("checked", v) }

// Canvas is a drawing surface with a lazily obtained 2D context.
type Canvas struct {
	*Element
	ctx *Context2D
}

func NewCanvas(width, height int, opts ...Option) *Canvas {
	c := &Canvas{Element: NewElement("canvas", opts...)}
	c.SetProperty("width", width)
	c.SetProperty("height", height)
	return c
}

// Context2D returns the canvas 2D context. The context exists on a client
// only as the result of a getContext call, so it is never created directly.
func (c *Canvas) Context2D() *Context2D {
	c.mu.Lock()
	ctx := c.ctx
	if ctx == nil {
		ctx = &Context2D{id: NewID(), canvas: c}
		c.ctx = ctx
	}
	c.mu.Unlock()
	if ctx.establish() {
		c.own(ctx)
		c.Send(ctx.origin())
	}
	return ctx
}

// Context2D is a tracked object materialised through a Call result.
type Context2D struct {
	id     string
	canvas *Canvas
	sent   bool
}

func (x *Context2D) ID() string { return x.id }

func (x *Context2D) origin() protocol.Message {
	return protocol.NewCallResult(x.canvas.id, "getContext", x.id, protocol.String("2d"))
}

func (x *Context2D) establish() bool {
	x.canvas.mu.Lock()
	defer x.canvas.mu.Unlock()
	if x.sent {
		return false
	}
	x.sent = true
	return true
}

// StateMessages re-establishes the context on a client that has not seen it.
func (x *Context2D) StateMessages() []protocol.Message {
	return []protocol.Message{x.origin()}
}

func (x *Context2D) call(method string, args ...any) {
	vals := make([]protocol.Value, len(args))
	for i, a := range args {
		vals[i] = protocol.Of(a)
	}
	x.canvas.bubble(protocol.NewCall(x.id, method, vals...))
}

// set is recorded in the canvas state after the getContext result, so a
// client joining later draws with the current styles.
func (x *Context2D) set(prop string, v any) {
	x.canvas.Send(protocol.NewSet(x.id, prop, protocol.Of(v)))
}

func (x *Context2D) SetFillStyle(style string)   { x.set("fillStyle", style) }
func (x *Context2D) SetStrokeStyle(style string) { x.set("strokeStyle", style) }
func (x *Context2D) SetLineWidth(w float64)      { x.set("lineWidth", w) }
func (x *Context2D) SetFont(font string)         { x.set("font", font) }

func (x *Context2D) FillRect(px, py, w, h float64)   { x.call("fillRect", px, py, w, h) }
func (x *Context2D) StrokeRect(px, py, w, h float64) { x.call("strokeRect", px, py, w, h) }
func (x *Context2D) ClearRect(px, py, w, h float64)  { x.call("clearRect", px, py, w, h) }
func (x *Context2D) FillText(text string, px, py float64) {
	x.call("fillText", text, px, py)
}
func (x *Context2D) BeginPath()            { x.call("beginPath") }
func (x *Context2D) MoveTo(px, py float64) { x.call("moveTo", px, py) }
func (x *Context2D) LineTo(px, py float64) { x.call("lineTo", px, py) }
func (x *Context2D) Stroke()               { x.call("stroke") }
func (x *Context2D) Fill()                 { x.call("fill") }
