// Package inspect is a terminal client for published pages. It mirrors a
// page into an in-memory document through the client interpreter and renders
// the live tree, forwarding clicks and edits back to the server.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ooui-go/ooui/internal/client"
	"github.com/ooui-go/ooui/internal/client/memdom"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayEdit
)

// Runner is the live connection behind the inspector.
type Runner interface {
	Run(ctx context.Context) error
	Close() error
}

// FrameMsg reports that a frame was applied to the document.
type FrameMsg struct{}

// ClosedMsg reports the end of the connection.
type ClosedMsg struct{ Err error }

const helpMarkdown = `# ooui inspect

The tree shows the page as the server mirrors it.

| Key | Action |
|-----|--------|
| j / k | move selection |
| g / G | first / last node |
| enter | click the selected element |
| space | toggle a checkbox |
| e | edit the value of a text field |
| ? | this help |
| q | quit |

Listened events appear in brackets, canvas contexts show their operation count.
`

// Model is the root Bubble Tea model.
type Model struct {
	conn   Runner
	doc    *memdom.Document
	frames <-chan struct{}
	url    string

	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	rows     []Row
	selected int
	overlay  Overlay
	tree     viewport.Model
	editor   textinput.Model

	connected bool
	lost      error
}

// New creates the root model. frames receives a value after each applied
// frame; the connection runs once Init is called.
func New(conn Runner, doc *memdom.Document, frames <-chan struct{}, url string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	editor := textinput.New()
	editor.Prompt = "value> "
	return Model{
		conn:      conn,
		doc:       doc,
		frames:    frames,
		url:       url,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		tree:      viewport.New(0, 0),
		editor:    editor,
		connected: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.run(), m.waitFrame())
}

func (m Model) run() tea.Cmd {
	return func() tea.Msg {
		if m.conn == nil {
			return nil
		}
		return ClosedMsg{Err: m.conn.Run(m.ctx)}
	}
}

func (m Model) waitFrame() tea.Cmd {
	return func() tea.Msg {
		if m.frames == nil {
			return nil
		}
		select {
		case <-m.frames:
			return FrameMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tree.Width = msg.Width
		m.tree.Height = max(msg.Height-4, 1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case FrameMsg:
		m.refresh()
		return m, m.waitFrame()

	case ClosedMsg:
		m.connected = false
		if errors.Is(msg.Err, client.ErrConnectionLost) {
			m.lost = msg.Err
			return m, nil
		}
		m.cancel()
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) && m.overlay != OverlayEdit {
		return m.quit()
	}

	switch m.overlay {
	case OverlayHelp:
		if key.Matches(msg, m.keys.Escape, m.keys.Help) {
			m.overlay = OverlayNone
		}
		return m, nil
	case OverlayEdit:
		return m.handleEditKey(msg)
	}

	if m.lost != nil {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		if len(m.rows) > 0 {
			m.selected = (m.selected + 1) % len(m.rows)
		}
	case key.Matches(msg, m.keys.Up):
		if len(m.rows) > 0 {
			m.selected = (m.selected - 1 + len(m.rows)) % len(m.rows)
		}
	case key.Matches(msg, m.keys.Top):
		m.selected = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selected = max(len(m.rows)-1, 0)
	case key.Matches(msg, m.keys.Click):
		if n := m.current(); n != nil {
			n.Dispatch("click", 0, 0)
		}
	case key.Matches(msg, m.keys.Toggle):
		if n := m.current(); n != nil && isCheckbox(n) {
			checked, _ := n.Prop("checked")
			on, _ := checked.(bool)
			n.Set("checked", !on)
			n.Dispatch("change", 0, 0)
		}
	case key.Matches(msg, m.keys.Edit):
		if n := m.current(); n != nil && isTextField(n) {
			v, _ := n.Prop("value")
			m.editor.SetValue(fmt.Sprint(valueOrEmpty(v)))
			m.editor.CursorEnd()
			m.overlay = OverlayEdit
			return m, m.editor.Focus()
		}
	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
	}
	m.refresh()
	return m, nil
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editor.Blur()
		m.overlay = OverlayNone
		return m, nil
	case tea.KeyEnter:
		if n := m.current(); n != nil {
			n.Set("value", m.editor.Value())
			n.Dispatch("input", 0, 0)
			n.Dispatch("change", 0, 0)
		}
		m.editor.Blur()
		m.overlay = OverlayNone
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	if m.conn != nil {
		m.conn.Close()
	}
	return m, tea.Quit
}

func (m Model) current() *memdom.Node {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return nil
	}
	return m.rows[m.selected].Node
}

// refresh rebuilds the rows from the document and keeps the selection in
// view.
func (m *Model) refresh() {
	if m.doc == nil {
		return
	}
	m.rows = Flatten(m.doc.Anchor())
	if m.selected >= len(m.rows) {
		m.selected = max(len(m.rows)-1, 0)
	}

	lines := make([]string, len(m.rows))
	for i, r := range m.rows {
		line := render(r)
		if i == m.selected {
			line = StyleSelected.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines[i] = line
	}
	m.tree.SetContent(strings.Join(lines, "\n"))

	if m.tree.Height > 0 {
		switch {
		case m.selected < m.tree.YOffset:
			m.tree.SetYOffset(m.selected)
		case m.selected >= m.tree.YOffset+m.tree.Height:
			m.tree.SetYOffset(m.selected - m.tree.Height + 1)
		}
	}
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.lost != nil {
		notice := StyleNotice.Render(client.LostConnectionNotice)
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, notice)
	}

	switch m.overlay {
	case OverlayHelp:
		return m.renderHelp()
	case OverlayEdit:
		box := StyleBorder.Padding(0, 1).Width(max(m.width-4, 20)).Render(m.editor.View())
		return lipgloss.JoinVertical(lipgloss.Left, m.statusBar(), box,
			StyleDimmed.Render("  enter:apply  esc:cancel"))
	}

	body := m.tree.View()
	if len(m.rows) == 0 {
		body = StyleDimmed.Render("  Waiting for the page...")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar(),
		body,
		StyleDimmed.Render("  j/k:navigate  enter:click  space:toggle  e:edit  ?:help  q:quit"),
	)
}

func (m Model) statusBar() string {
	var conn string
	if m.connected {
		conn = lipgloss.NewStyle().Foreground(ColorHealthy).Render("● Connected")
	} else {
		conn = lipgloss.NewStyle().Foreground(ColorDanger).Render("○ Disconnected")
	}
	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	content := conn + sep + StyleHeader.Render(m.url) + sep + fmt.Sprintf("%d nodes", len(m.rows))
	return lipgloss.NewStyle().
		Width(max(m.width, 40)).
		Padding(0, 1).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorBorder).
		Render(content)
}

func (m Model) renderHelp() string {
	return StyleBorder.Render(renderMarkdown(helpMarkdown, m.width))
}

func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func isCheckbox(n *memdom.Node) bool {
	if n.Tag() != "input" {
		return false
	}
	typ, _ := n.Prop("type")
	return typ == "checkbox" || typ == "radio"
}

func isTextField(n *memdom.Node) bool {
	return n.Tag() == "textarea" || (n.Tag() == "input" && !isCheckbox(n))
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
