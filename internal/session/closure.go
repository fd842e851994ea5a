package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ooui-go/ooui/internal/metrics"
	"github.com/ooui-go/ooui/internal/protocol"
)

var (
	// ErrUnresolved reports a reference to an object with no state-message
	// sequence available.
	ErrUnresolved = errors.New("session: unresolved identifier")
	// ErrDuplicateCreate reports a second Create for a materialised object.
	ErrDuplicateCreate = errors.New("session: duplicate create")
)

// Resolver finds tracked objects by identifier.
type Resolver interface {
	Lookup(id string) (protocol.Stateful, bool)
}

// Queue is the outgoing message queue of one session together with its
// created-set. Every enqueue first materialises what the message depends
// on, so a batch taken from the queue never references an object the
// client has not seen.
type Queue struct {
	mu       sync.Mutex
	resolver Resolver
	created  map[string]struct{}
	pending  []protocol.Message
	logger   zerolog.Logger
}

func NewQueue(resolver Resolver, logger zerolog.Logger) *Queue {
	q := &Queue{
		resolver: resolver,
		created:  make(map[string]struct{}, 64),
		logger:   logger,
	}
	for _, id := range protocol.ReservedIDs {
		q.created[id] = struct{}{}
	}
	return q
}

// Enqueue appends m after the closure of its dependencies. On error nothing
// from m's own closure that failed is queued; dependencies that did resolve
// stay queued and created.
func (q *Queue) Enqueue(m protocol.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(m)
}

func (q *Queue) enqueueLocked(m protocol.Message) error {
	if err := m.Value.Validate(); err != nil {
		return fmt.Errorf("%s %s.%s: %w", m.Type, m.TargetID, m.Key, err)
	}
	if m.Type == protocol.MsgCreate {
		if _, ok := q.created[m.TargetID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCreate, m.TargetID)
		}
		q.created[m.TargetID] = struct{}{}
		q.pending = append(q.pending, m)
		return nil
	}

	if err := q.ensureLocked(m.TargetID, nil); err != nil {
		return err
	}
	for _, r := range m.References() {
		if err := q.ensureLocked(r.ID(), r); err != nil {
			return err
		}
	}

	if m.ResultID != "" {
		if _, ok := q.created[m.ResultID]; ok {
			// The client already holds the result.
			return nil
		}
		q.created[m.ResultID] = struct{}{}
	}
	q.pending = append(q.pending, m)
	return nil
}

// ensureLocked materialises id if the client has not seen it. hint is the
// referenced value itself, used when it can describe its own state.
func (q *Queue) ensureLocked(id string, hint protocol.Referent) error {
	if _, ok := q.created[id]; ok {
		return nil
	}
	obj, ok := hint.(protocol.Stateful)
	if !ok && q.resolver != nil {
		obj, ok = q.resolver.Lookup(id)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolved, id)
	}
	return q.expandLocked(obj)
}

func (q *Queue) expandLocked(obj protocol.Stateful) error {
	id := obj.ID()
	state := obj.StateMessages()
	if len(state) == 0 {
		return fmt.Errorf("%w: %s has no state", ErrUnresolved, id)
	}

	origin := state[0]
	switch {
	case origin.Type == protocol.MsgCreate && origin.TargetID == id:
	case origin.Type == protocol.MsgCall && origin.ResultID == id:
	default:
		return fmt.Errorf("%w: %s state does not establish it", ErrUnresolved, id)
	}
	if err := q.enqueueLocked(origin); err != nil {
		return err
	}

	for _, m := range state[1:] {
		if err := q.enqueueLocked(m); err != nil {
			q.logger.Warn().Err(err).
				Str("id", m.TargetID).
				Str("key", m.Key).
				Msg("dropped state message")
			metrics.RecordDropped(dropReason(err))
		}
	}
	return nil
}

// Take swaps the pending messages for an empty queue.
func (q *Queue) Take() []protocol.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Created reports whether id has been materialised on the client.
func (q *Queue) Created(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.created[id]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnresolved):
		return "unresolved"
	case errors.Is(err, ErrDuplicateCreate):
		return "duplicate_create"
	case errors.Is(err, protocol.ErrUnencodable):
		return "unencodable"
	default:
		return "other"
	}
}
