package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ooui-go/ooui/internal/dom"
	"github.com/ooui-go/ooui/internal/protocol"
	"github.com/ooui-go/ooui/internal/transport"
)

type inbound struct {
	data []byte
	err  error
}

type fakeConn struct {
	in     chan inbound
	closed chan struct{}

	mu          sync.Mutex
	frames      [][]byte
	sendErr     error
	closeCode   int
	closeReason string
	closeCount  int
	once        sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan inbound, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.in:
		return m.data, m.err
	case <-c.closed:
		return nil, transport.ErrClosed
	}
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) push(data string) { c.in <- inbound{data: []byte(data)} }
func (c *fakeConn) fail(err error)   { c.in <- inbound{err: err} }

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) batch(t *testing.T, i int) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	data := c.frames[i]
	c.mu.Unlock()
	msgs, err := protocol.DecodeBatch(data)
	if err != nil {
		t.Fatalf("decode frame %d: %v", i, err)
	}
	return msgs
}

func (c *fakeConn) closeStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

type runResult struct {
	err error
}

func startSession(t *testing.T, root Root, opts Options) (*Session, *fakeConn, context.CancelFunc, <-chan runResult) {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}
	nop := zerolog.Nop()
	opts.Logger = &nop

	conn := newFakeConn()
	s := New(conn, root, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() { done <- runResult{err: s.Run(ctx)} }()
	t.Cleanup(cancel)

	waitFor(t, time.Second, func() bool { return conn.frameCount() >= 1 })
	return s, conn, cancel, done
}

func wait(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case r := <-done:
		return r.err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestSessionAttachesRootInFirstFrame(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	root.AppendChild(dom.NewSpan("hello", dom.WithID("greeting")))

	s, conn, _, _ := startSession(t, root, Options{})
	if s.State() != Active {
		t.Fatalf("state = %s, want active", s.State())
	}

	batch := conn.batch(t, 0)
	checkBatch(t, nil, batch)
	if batch[0].Type != protocol.MsgCreate || batch[0].TargetID != "root" {
		t.Errorf("first message = %v", batch[0])
	}
	last := batch[len(batch)-1]
	if last.TargetID != protocol.BodyID || last.Key != "appendChild" || last.Value.Elems()[0].RefID() != "root" {
		t.Errorf("last message = %v", last)
	}
}

func TestSessionBurstYieldsOneTransmission(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	label := dom.NewSpan("0", dom.WithID("label"))
	root.AppendChild(label)

	_, conn, _, _ := startSession(t, root, Options{Interval: 60 * time.Millisecond})

	const n = 25
	for i := 1; i <= n; i++ {
		label.SetText(fmt.Sprint(i))
	}
	waitFor(t, time.Second, func() bool { return conn.frameCount() == 2 })
	time.Sleep(150 * time.Millisecond)
	if got := conn.frameCount(); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}

	batch := conn.batch(t, 1)
	if len(batch) != n {
		t.Fatalf("burst frame holds %d messages, want %d", len(batch), n)
	}
	for i, m := range batch {
		if m.Value.Str() != fmt.Sprint(i+1) {
			t.Errorf("batch[%d] = %q, want %d", i, m.Value.Str(), i+1)
		}
	}
}

func TestSessionSurvivesUnencodableValue(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	label := dom.NewSpan("0", dom.WithID("label"))
	root.AppendChild(label)

	s, conn, _, _ := startSession(t, root, Options{})
	label.SetProperty("scrollTop", math.NaN())
	label.SetText("after")

	frameWith := func(conn *fakeConn, from int, match func(protocol.Message) bool) bool {
		for i := from; i < conn.frameCount(); i++ {
			for _, m := range conn.batch(t, i) {
				if match(m) {
					return true
				}
			}
		}
		return false
	}
	isAfter := func(m protocol.Message) bool { return m.Key == "textContent" && m.Value.Str() == "after" }
	isScroll := func(m protocol.Message) bool { return m.Key == "scrollTop" }

	waitFor(t, time.Second, func() bool { return frameWith(conn, 1, isAfter) })
	if s.State() != Active {
		t.Fatalf("state = %s, want active", s.State())
	}
	if frameWith(conn, 0, isScroll) {
		t.Error("unencodable scrollTop reached the wire")
	}

	// A client joining afterwards must not inherit the bad value.
	late, lateConn, _, _ := startSession(t, root, Options{})
	if late.State() != Active {
		t.Fatalf("late session state = %s, want active", late.State())
	}
	first := lateConn.batch(t, 0)
	checkBatch(t, nil, first)
	if frameWith(lateConn, 0, isScroll) {
		t.Error("late session received scrollTop")
	}
	if !frameWith(lateConn, 0, isAfter) {
		t.Error("late session missing current text")
	}
}

func TestSessionConcurrentProducersKeepClosure(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	s, conn, _, _ := startSession(t, root, Options{Interval: 5 * time.Millisecond})

	const producers, items = 8, 6
	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			sub := dom.NewDiv(dom.WithID(fmt.Sprintf("g%d", g)))
			root.AppendChild(sub)
			for j := 0; j < items; j++ {
				item := dom.NewSpan("new", dom.WithID(fmt.Sprintf("g%d-%d", g, j)))
				sub.AppendChild(item)
				item.SetAttribute("data-owner", fmt.Sprint(g))
				item.SetText(fmt.Sprintf("done %d-%d", g, j))
			}
			sub.SetStyle("color", "red")
		}(g)
	}
	wg.Wait()

	known := map[string]bool{}
	texts := map[string]string{}
	seen := 0
	settled := func() bool {
		for ; seen < conn.frameCount(); seen++ {
			batch := conn.batch(t, seen)
			known = checkBatch(t, known, batch)
			for _, m := range batch {
				if m.Type == protocol.MsgSet && m.Key == "textContent" {
					texts[m.TargetID] = m.Value.Str()
				}
			}
		}
		for g := 0; g < producers; g++ {
			for j := 0; j < items; j++ {
				if texts[fmt.Sprintf("g%d-%d", g, j)] != fmt.Sprintf("done %d-%d", g, j) {
					return false
				}
			}
		}
		return true
	}
	waitFor(t, 2*time.Second, settled)

	for g := 0; g < producers; g++ {
		if !known[fmt.Sprintf("g%d", g)] {
			t.Errorf("subtree g%d never created", g)
		}
	}
	if s.State() != Active {
		t.Errorf("state = %s, want active", s.State())
	}
}

func TestSessionDispatchesEventsAndMaterialisesNewNodes(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	btn := dom.NewButton("add", dom.WithID("btn"))
	root.AppendChild(btn)
	btn.On("click", func(ev dom.Event) {
		root.AppendChild(dom.NewSpan(fmt.Sprintf("%v,%v", ev.OffsetX(), ev.OffsetY()), dom.WithID("added")))
	})

	_, conn, _, _ := startSession(t, root, Options{})
	conn.push(`{"m":"event","id":"btn","k":"click","v":{"offsetX":12,"offsetY":34}}`)

	waitFor(t, time.Second, func() bool { return conn.frameCount() >= 2 })
	batch := conn.batch(t, 1)
	checkBatch(t, map[string]bool{"root": true, "btn": true}, batch)
	if batch[0].Type != protocol.MsgCreate || batch[0].TargetID != "added" {
		t.Errorf("first message = %v, want create added", batch[0])
	}
	var text string
	for _, m := range batch {
		if m.TargetID == "added" && m.Key == "textContent" {
			text = m.Value.Str()
		}
	}
	if text != "12,34" {
		t.Errorf("text = %q, want 12,34", text)
	}
}

func TestSessionSurvivesMalformedPayload(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	btn := dom.NewButton("go", dom.WithID("btn"))
	root.AppendChild(btn)
	clicked := make(chan struct{}, 1)
	btn.On("click", func(dom.Event) { clicked <- struct{}{} })

	s, conn, _, _ := startSession(t, root, Options{})
	conn.push(`{garbage`)
	conn.push(`{"m":"launch","id":"btn","k":"click"}`)
	conn.push(`{"m":"event","id":"btn","k":"click"}`)

	select {
	case <-clicked:
	case <-time.After(time.Second):
		t.Fatal("event after malformed payload not dispatched")
	}
	if s.State() != Active {
		t.Errorf("state = %s, want active", s.State())
	}
}

func TestSessionOversizedFrameIsFatal(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	label := dom.NewSpan("a", dom.WithID("label"))
	root.AppendChild(label)

	s, conn, _, done := startSession(t, root, Options{})
	conn.fail(transport.ErrTooBig)

	if err := wait(t, done); !errors.Is(err, transport.ErrTooBig) {
		t.Errorf("Run error = %v, want ErrTooBig", err)
	}
	code, reason := conn.closeStatus()
	if code != transport.CloseMessageTooBig || reason != "Message too big" {
		t.Errorf("close = %d %q", code, reason)
	}
	if s.State() != Closed {
		t.Errorf("state = %s, want closed", s.State())
	}

	before := conn.frameCount()
	label.SetText("b")
	if err := s.Enqueue(protocol.NewSet("label", "title", protocol.String("x"))); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after close = %v, want ErrClosed", err)
	}
	time.Sleep(40 * time.Millisecond)
	if got := conn.frameCount(); got != before {
		t.Errorf("frames sent after close: %d -> %d", before, got)
	}
}

func TestSessionBinaryFrameClosesWithUnsupportedData(t *testing.T) {
	_, conn, _, done := startSession(t, dom.NewDiv(), Options{})
	conn.fail(transport.ErrBinaryFrame)
	wait(t, done)

	code, reason := conn.closeStatus()
	if code != transport.CloseUnsupportedData || reason != "Cannot accept binary frame" {
		t.Errorf("close = %d %q", code, reason)
	}
}

func TestSessionShutdownClosesGoingAway(t *testing.T) {
	_, conn, cancel, done := startSession(t, dom.NewDiv(), Options{})
	cancel()
	if err := wait(t, done); err != nil {
		t.Errorf("Run error = %v, want nil", err)
	}
	if code, _ := conn.closeStatus(); code != transport.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, transport.CloseGoingAway)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, conn, _, done := startSession(t, dom.NewDiv(), Options{})
	s.Close()
	s.Close()
	wait(t, done)
	s.Close()

	conn.mu.Lock()
	count := conn.closeCount
	conn.mu.Unlock()
	if count != 1 {
		t.Errorf("transport closed %d times, want 1", count)
	}
	if s.State() != Closed {
		t.Errorf("state = %s, want closed", s.State())
	}
}

func TestSessionSendFailureAborts(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	_, conn, _, done := startSession(t, root, Options{})

	conn.mu.Lock()
	conn.sendErr = errors.New("broken pipe")
	conn.mu.Unlock()
	root.SetText("boom")

	if err := wait(t, done); err == nil {
		t.Fatal("Run returned nil after send failure")
	}
	if got := conn.frameCount(); got != 1 {
		t.Errorf("frames = %d, want 1", got)
	}
}

func TestSessionAppliesViewportToFullScreenRoot(t *testing.T) {
	root := dom.NewDiv(dom.WithID("root"))
	root.SetFullScreen(true)

	_, conn, _, _ := startSession(t, root, Options{Viewport: Viewport{Width: 1024, Height: 768}})

	var width string
	for _, m := range conn.batch(t, 0) {
		if m.TargetID == "root" && m.Key == "style.width" {
			width = m.Value.Str()
		}
	}
	if width != "1024px" {
		t.Errorf("style.width = %q, want 1024px", width)
	}
}

func TestParseViewport(t *testing.T) {
	tests := []struct {
		query string
		want  Viewport
	}{
		{"w=800&h=600", Viewport{800, 600}},
		{"", DefaultViewport},
		{"w=abc&h=300", Viewport{640, 300}},
		{"w=1e400&h=NaN", DefaultViewport},
		{"w=-5&h=0", DefaultViewport},
		{"w=1024.5", Viewport{1024.5, 480}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if got := ParseViewport(q); got != tt.want {
				t.Errorf("ParseViewport(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}
