// Package protocol defines the wire vocabulary shared by the server session
// engine and the client interpreter: opcodes, addressing, and value encoding.
//
// Server to client frames always carry a JSON array of messages. Client to
// server frames carry exactly one Event message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type MessageType string

const (
	MsgNop          MessageType = "nop"
	MsgCreate       MessageType = "create"
	MsgSet          MessageType = "set"
	MsgSetAttribute MessageType = "setAttr"
	MsgCall         MessageType = "call"
	MsgListen       MessageType = "listen"
	MsgEvent        MessageType = "event"
)

// Reserved identifiers. They are materialised on every client before the
// first frame and never appear in a Create message.
const (
	WindowID   = "window"
	DocumentID = "document"
	BodyID     = "document.body"
)

// ReservedIDs lists the identifiers every session starts with.
var ReservedIDs = []string{WindowID, DocumentID, BodyID}

// SelectorPrefix marks keys that bind through the client's query helper.
// Messages with such keys are replayed after the rest of their frame.
const SelectorPrefix = "$."

// TextKind is the Create kind that produces a text node instead of an element.
const TextKind = "#text"

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrMalformed   = errors.New("protocol: malformed payload")
)

func (t MessageType) Valid() bool {
	switch t {
	case MsgNop, MsgCreate, MsgSet, MsgSetAttribute, MsgCall, MsgListen, MsgEvent:
		return true
	}
	return false
}

// Message is one opcode addressed to a tracked object.
type Message struct {
	Type     MessageType
	TargetID string
	Key      string
	Value    Value
	ResultID string
}

type wireMessage struct {
	Type     MessageType `json:"m"`
	TargetID string      `json:"id"`
	Key      string      `json:"k"`
	Value    *Value      `json:"v,omitempty"`
	ResultID string      `json:"rid,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Type:     m.Type,
		TargetID: m.TargetID,
		Key:      m.Key,
		ResultID: m.ResultID,
	}
	if !m.Value.IsNull() {
		v := m.Value
		w.Value = &v
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Type = w.Type
	m.TargetID = w.TargetID
	m.Key = w.Key
	m.ResultID = w.ResultID
	m.Value = Null()
	if w.Value != nil {
		m.Value = *w.Value
	}
	return nil
}

func (m Message) String() string {
	if m.ResultID != "" {
		return fmt.Sprintf("%s %s %s -> %s", m.Type, m.TargetID, m.Key, m.ResultID)
	}
	return fmt.Sprintf("%s %s %s", m.Type, m.TargetID, m.Key)
}

// References returns every tracked object referenced by the message value,
// including inside sequences, in pre-order.
func (m Message) References() []Referent {
	return m.Value.References()
}

// IsSelectorKey reports whether key binds through the client query helper.
func IsSelectorKey(key string) bool {
	return strings.HasPrefix(key, SelectorPrefix)
}

func NewCreate(id, kind string) Message {
	return Message{Type: MsgCreate, TargetID: id, Key: kind}
}

func NewSet(id, path string, v Value) Message {
	return Message{Type: MsgSet, TargetID: id, Key: path, Value: v}
}

func NewSetAttribute(id, name, value string) Message {
	return Message{Type: MsgSetAttribute, TargetID: id, Key: name, Value: String(value)}
}

// NewCall invokes method on id with args. The argument sequence is always
// encoded, even when empty, since the client applies it positionally.
func NewCall(id, method string, args ...Value) Message {
	return Message{Type: MsgCall, TargetID: id, Key: method, Value: Seq(args...)}
}

// NewCallResult is NewCall with the return value captured under resultID.
func NewCallResult(id, method, resultID string, args ...Value) Message {
	m := NewCall(id, method, args...)
	m.ResultID = resultID
	return m
}

func NewListen(id, event string) Message {
	return Message{Type: MsgListen, TargetID: id, Key: event}
}

func NewEvent(id, event string, v Value) Message {
	return Message{Type: MsgEvent, TargetID: id, Key: event, Value: v}
}

// Stateful is a tracked object that can describe itself as a replayable
// message sequence. The sequence starts with the message that establishes
// the object on a client: a Create, or a Call whose ResultID is the object.
type Stateful interface {
	Referent
	StateMessages() []Message
}
