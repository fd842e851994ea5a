package inspect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/ooui-go/ooui/internal/client"
	"github.com/ooui-go/ooui/internal/client/memdom"
	"github.com/ooui-go/ooui/internal/protocol"
)

const pageFrame = `[
{"m":"create","id":"root","k":"div"},
{"m":"create","id":"btn","k":"button"},
{"m":"set","id":"btn","k":"textContent","v":"go"},
{"m":"listen","id":"btn","k":"click"},
{"m":"create","id":"cb","k":"input"},
{"m":"set","id":"cb","k":"type","v":"checkbox"},
{"m":"listen","id":"cb","k":"change"},
{"m":"create","id":"ta","k":"textarea"},
{"m":"set","id":"ta","k":"value","v":"old"},
{"m":"listen","id":"ta","k":"change"},
{"m":"call","id":"root","k":"appendChild","v":["⦙btn"]},
{"m":"call","id":"root","k":"appendChild","v":["⦙cb"]},
{"m":"call","id":"root","k":"appendChild","v":["⦙ta"]},
{"m":"call","id":"document.body","k":"appendChild","v":["⦙root"]}
]`

type sent struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (s *sent) send(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *sent) all() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.msgs...)
}

type fakeRunner struct {
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func newModel(t *testing.T) (Model, *sent, *fakeRunner) {
	t.Helper()
	doc := memdom.New()
	out := &sent{}
	in := client.NewInterpreter(doc, out.send, client.WithLogger(zerolog.Nop()))
	if err := in.ApplyFrame([]byte(pageFrame)); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}
	runner := &fakeRunner{}
	m := New(runner, doc, nil, "ws://localhost:8080/demo")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), out, runner
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "space":
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestFlattenAndLabels(t *testing.T) {
	m, _, _ := newModel(t)

	want := []string{
		`<div#root>`,
		`<button#btn> [click]`,
		`"go"`,
		`<input#cb> [change]`,
		`<textarea#ta> [change] value="old"`,
	}
	if len(m.rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(m.rows), len(want))
	}
	for i, w := range want {
		if got := Label(m.rows[i].Node); got != w {
			t.Errorf("row %d = %q, want %q", i, got, w)
		}
	}
	if m.rows[2].Depth != 2 {
		t.Errorf("text depth = %d, want 2", m.rows[2].Depth)
	}
}

func TestNavigationWraps(t *testing.T) {
	m, _, _ := newModel(t)

	m = press(m, "k")
	if m.selected != len(m.rows)-1 {
		t.Errorf("up from first = %d, want last", m.selected)
	}
	m = press(m, "j")
	if m.selected != 0 {
		t.Errorf("down from last = %d, want 0", m.selected)
	}
	m = press(m, "G", "g")
	if m.selected != 0 {
		t.Errorf("top = %d, want 0", m.selected)
	}
}

func TestEnterClicksSelectedNode(t *testing.T) {
	m, out, _ := newModel(t)
	m = press(m, "j", "enter")

	msgs := out.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d events, want 1", len(msgs))
	}
	if msgs[0].TargetID != "btn" || msgs[0].Key != "click" {
		t.Errorf("sent %v", msgs[0])
	}
}

func TestSpaceTogglesCheckbox(t *testing.T) {
	m, out, _ := newModel(t)
	m = press(m, "j", "j", "j", "space")

	msgs := out.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d events, want 1", len(msgs))
	}
	if msgs[0].TargetID != "cb" || !msgs[0].Value.Bool() {
		t.Errorf("sent %v with %v", msgs[0], msgs[0].Value)
	}
}

func TestEditSendsNewValue(t *testing.T) {
	m, out, _ := newModel(t)
	m = press(m, "G", "e")
	if m.overlay != OverlayEdit {
		t.Fatal("edit overlay not opened")
	}
	if m.editor.Value() != "old" {
		t.Errorf("editor starts with %q, want old", m.editor.Value())
	}
	m = press(m, "!", "enter")
	if m.overlay != OverlayNone {
		t.Error("edit overlay still open")
	}

	msgs := out.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d events, want 1", len(msgs))
	}
	if msgs[0].Key != "change" || msgs[0].Value.Str() != "old!" {
		t.Errorf("sent %v with %v", msgs[0], msgs[0].Value)
	}
}

func TestHelpOverlay(t *testing.T) {
	m, _, _ := newModel(t)
	m = press(m, "?")
	if m.overlay != OverlayHelp {
		t.Fatal("help overlay not opened")
	}
	if v := m.View(); !strings.Contains(v, "ooui inspect") {
		t.Errorf("help view missing title:\n%s", v)
	}
	m = press(m, "esc")
	if m.overlay != OverlayNone {
		t.Error("esc did not close help")
	}
}

func TestLostConnectionNotice(t *testing.T) {
	m, _, _ := newModel(t)
	next, cmd := m.Update(ClosedMsg{Err: fmt.Errorf("%w: eof", client.ErrConnectionLost)})
	m = next.(Model)
	if cmd != nil {
		t.Error("lost connection should not quit")
	}

	v := m.View()
	for _, word := range []string{"Connection", "lost", "refreshing"} {
		if !strings.Contains(v, word) {
			t.Errorf("notice missing %q:\n%s", word, v)
		}
	}
}

func TestQuitClosesConnection(t *testing.T) {
	m, _, runner := newModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if !runner.closed {
		t.Error("connection not closed on quit")
	}
}

func TestFrameRefreshesRows(t *testing.T) {
	doc := memdom.New()
	in := client.NewInterpreter(doc, func(protocol.Message) error { return nil }, client.WithLogger(zerolog.Nop()))
	m := New(nil, doc, nil, "ws://x")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	m = next.(Model)
	if len(m.rows) != 0 {
		t.Fatalf("rows before frame = %d", len(m.rows))
	}
	if !strings.Contains(m.View(), "Waiting for the page") {
		t.Error("empty view missing waiting notice")
	}

	if err := in.ApplyFrame([]byte(pageFrame)); err != nil {
		t.Fatal(err)
	}
	next, _ = m.Update(FrameMsg{})
	m = next.(Model)
	if len(m.rows) != 5 {
		t.Errorf("rows after frame = %d, want 5", len(m.rows))
	}
}
