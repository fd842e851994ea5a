package protocol

import (
	"encoding/json"
	"fmt"
)

// EncodeBatch serialises a server to client frame. The result is always a
// JSON array, even for a single message.
func EncodeBatch(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// DecodeBatch parses a server to client frame. Messages with an unknown
// type are kept; the interpreter decides what to do with them.
func DecodeBatch(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msgs, nil
}

// DecodeEvent parses a client to server frame, which carries exactly one
// Event message.
func DecodeEvent(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if m.Type != MsgEvent {
		return Message{}, fmt.Errorf("%w: expected event, got %q", ErrMalformed, m.Type)
	}
	if m.TargetID == "" {
		return Message{}, fmt.Errorf("%w: event without target", ErrMalformed)
	}
	return m, nil
}

// EncodeEvent serialises a client to server frame.
func EncodeEvent(m Message) ([]byte, error) {
	if m.Type != MsgEvent {
		return nil, fmt.Errorf("%w: %q is not an event", ErrMalformed, m.Type)
	}
	return json.Marshal(m)
}
