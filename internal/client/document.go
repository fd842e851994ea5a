// Package client replays server frames against a native document and turns
// native events back into protocol messages.
package client

import "errors"

var (
	// ErrUnknownNode reports a target or reference with no local object.
	ErrUnknownNode = errors.New("client: unknown node")
	// ErrNoQuery reports a selector-style key on a document without a
	// query helper.
	ErrNoQuery = errors.New("client: document has no query helper")
	// ErrConnectionLost is surfaced once when the server connection drops.
	ErrConnectionLost = errors.New("client: connection lost")
)

// LostConnectionNotice is shown to the user when the connection drops.
// There is no automatic reconnection.
const LostConnectionNotice = "Connection to the server has been lost. Please try refreshing the page."

// Document is the native document a client drives.
type Document interface {
	Window() Object
	Document() Object
	// Body returns the anchor the root element is appended to.
	Body() Object
	CreateElement(tag string) Object
	CreateTextNode(text string) Object
}

// Querier is implemented by documents that provide the selector helper
// used by keys starting with "$.".
type Querier interface {
	Query(target Object) Object
}

// Object is any native object: an element, a text node, or a value
// returned from a call.
type Object interface {
	Get(name string) (any, bool)
	Set(name string, v any) error
	SetAttribute(name, value string)
	Call(method string, args []any) (any, error)
	AddEventListener(event string, fn func(NativeEvent))
}

// NativeEvent is what a native listener receives.
type NativeEvent struct {
	Type    string
	OffsetX float64
	OffsetY float64
	// PreventDefault suppresses the native default action. It may be nil.
	PreventDefault func()
}
