package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/identity"
	"github.com/Tyrowin/pingspace/internal/session"
)

const (
	defaultWidth     = 100
	defaultHeight    = 30
	inputCharLimit   = 2000
	directoryTimeout = 10 * time.Second
	chromeHeight     = 4
)

// Session is the part of the room session controller the model drives.
type Session interface {
	State() session.State
	SelectRoom(room chat.RoomRef) error
	Subscribe() (<-chan struct{}, func())
}

// Composer holds the text being typed. *session.Composer implements it.
type Composer interface {
	SetText(text string)
	Text() string
	Submit() bool
}

// Directory lists the servers and rooms the user can join.
type Directory interface {
	ListServers(ctx context.Context, credential string) ([]chat.Server, error)
	ListRooms(ctx context.Context, serverID, credential string) ([]chat.RoomRef, error)
}

// CredentialSource supplies the bearer credential for directory requests.
type CredentialSource interface {
	Credential() (string, bool)
}

// Config wires a Model to the session and its collaborators.
type Config struct {
	Session     Session          `validate:"required"`
	Composer    Composer         `validate:"required"`
	Directory   Directory        `validate:"required"`
	Credentials CredentialSource `validate:"required"`
	// InitialRoom is joined once the directory has loaded. It matches a
	// room ID or name.
	InitialRoom string
}

var validate = validator.New()

type focusArea int

const (
	focusRooms focusArea = iota
	focusInput
)

// entry is one sidebar line: a server heading or a room under it.
type entry struct {
	server chat.Server
	room   chat.RoomRef
	header bool
}

type (
	stateChangedMsg struct{}
	sessionEndedMsg struct{}
	directoryMsg    struct {
		entries []entry
		err     error
	}
)

// Model is the bubbletea model of the chat screen: a room sidebar, the
// message log of the active room and a composer.
type Model struct {
	session     Session
	composer    Composer
	directory   Directory
	credentials CredentialSource
	initialRoom string
	keys        keyMap

	input   textinput.Model
	log     viewport.Model
	entries []entry
	cursor  int
	focus   focusArea

	state   session.State
	notice  string
	loading bool

	changes     <-chan struct{}
	unsubscribe func()

	width  int
	height int
}

// New validates cfg and subscribes to session changes. Call Close when the
// program ends.
func New(cfg Config) (*Model, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("tui: invalid config: %w", err)
	}

	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = inputCharLimit
	input.Prompt = "> "

	changes, unsubscribe := cfg.Session.Subscribe()
	m := &Model{
		session:     cfg.Session,
		composer:    cfg.Composer,
		directory:   cfg.Directory,
		credentials: cfg.Credentials,
		initialRoom: strings.TrimSpace(cfg.InitialRoom),
		keys:        defaultKeys,
		input:       input,
		log:         viewport.New(defaultWidth-sidebarWidth, defaultHeight-chromeHeight),
		focus:       focusRooms,
		state:       cfg.Session.State(),
		loading:     true,
		changes:     changes,
		unsubscribe: unsubscribe,
		width:       defaultWidth,
		height:      defaultHeight,
	}
	m.refreshLog()
	return m, nil
}

// Close drops the session subscription.
func (m *Model) Close() {
	m.unsubscribe()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadDirectory(), waitForChange(m.changes))
}

// waitForChange blocks until the session publishes a new state.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return sessionEndedMsg{}
		}
		return stateChangedMsg{}
	}
}

func (m *Model) loadDirectory() tea.Cmd {
	directory, credentials := m.directory, m.credentials
	return func() tea.Msg {
		credential, ok := credentials.Credential()
		if !ok {
			return directoryMsg{err: identity.ErrIdentityUnavailable}
		}

		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()

		servers, err := directory.ListServers(ctx, credential)
		if err != nil {
			return directoryMsg{err: err}
		}
		var entries []entry
		for _, srv := range servers {
			rooms, err := directory.ListRooms(ctx, srv.ID, credential)
			if err != nil {
				return directoryMsg{err: err}
			}
			entries = append(entries, entry{server: srv, header: true})
			entries = append(entries, lo.Map(rooms, func(room chat.RoomRef, _ int) entry {
				return entry{server: srv, room: room}
			})...)
		}
		return directoryMsg{entries: entries}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case stateChangedMsg:
		m.state = m.session.State()
		m.refreshLog()
		return m, waitForChange(m.changes)

	case sessionEndedMsg:
		return m, tea.Quit

	case directoryMsg:
		return m, m.applyDirectory(msg)

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}

	if m.focus == focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.FocusToggle):
		m.toggleFocus()
		return nil
	case key.Matches(msg, m.keys.Reload):
		m.loading = true
		return m.loadDirectory()
	case key.Matches(msg, m.keys.PageUp):
		m.log.LineUp(m.log.Height)
		return nil
	case key.Matches(msg, m.keys.PageDown):
		m.log.LineDown(m.log.Height)
		return nil
	}

	if m.focus == focusRooms {
		switch {
		case key.Matches(msg, m.keys.Up):
			m.moveCursor(-1)
		case key.Matches(msg, m.keys.Down):
			m.moveCursor(1)
		case key.Matches(msg, m.keys.Select):
			m.joinCursor()
		}
		return nil
	}

	if key.Matches(msg, m.keys.Send) {
		m.submit()
		return nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.composer.SetText(m.input.Value())
	return cmd
}

func (m *Model) toggleFocus() {
	if m.focus == focusRooms {
		m.focus = focusInput
		m.input.Focus()
		return
	}
	m.focus = focusRooms
	m.input.Blur()
}

func (m *Model) applyDirectory(msg directoryMsg) tea.Cmd {
	m.loading = false
	if msg.err != nil {
		m.notice = "rooms unavailable: " + msg.err.Error()
		return nil
	}
	m.notice = ""
	m.entries = msg.entries
	m.cursor = m.firstRoom()

	if m.initialRoom == "" || m.state.HasRoom {
		return nil
	}
	idx, ok := m.findRoom(m.initialRoom)
	m.initialRoom = ""
	if !ok {
		m.notice = "room not found"
		return nil
	}
	m.cursor = idx
	m.joinCursor()
	return nil
}

func (m *Model) firstRoom() int {
	_, idx, ok := lo.FindIndexOf(m.entries, func(e entry) bool { return !e.header })
	if !ok {
		return 0
	}
	return idx
}

func (m *Model) findRoom(ref string) (int, bool) {
	_, idx, ok := lo.FindIndexOf(m.entries, func(e entry) bool {
		return !e.header && (e.room.RoomID == ref || strings.EqualFold(e.room.RoomName, ref))
	})
	return idx, ok
}

// moveCursor steps over server headings.
func (m *Model) moveCursor(delta int) {
	for i := m.cursor + delta; i >= 0 && i < len(m.entries); i += delta {
		if !m.entries[i].header {
			m.cursor = i
			return
		}
	}
}

func (m *Model) joinCursor() {
	if m.cursor < 0 || m.cursor >= len(m.entries) || m.entries[m.cursor].header {
		return
	}
	room := m.entries[m.cursor].room
	if err := m.session.SelectRoom(room); err != nil {
		if errors.Is(err, identity.ErrIdentityUnavailable) {
			m.notice = "sign in to join a room"
		} else {
			m.notice = err.Error()
		}
		return
	}
	// A draft never carries over to the newly joined room.
	m.input.Reset()
	m.composer.SetText("")
	m.notice = ""
	m.focus = focusInput
	m.input.Focus()
}

// submit sends the composer draft. The input is cleared either way.
func (m *Model) submit() {
	text := m.composer.Text()
	sent := m.composer.Submit()
	m.input.Reset()
	switch {
	case sent:
		m.notice = ""
	case strings.TrimSpace(text) != "":
		m.notice = "not connected: message not sent"
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	logWidth := max(width-sidebarWidth-1, 10)
	m.log.Width = logWidth
	m.log.Height = max(height-chromeHeight, 3)
	m.input.Width = logWidth - len(m.input.Prompt) - 1
	m.refreshLog()
}

func (m *Model) refreshLog() {
	atBottom := m.log.AtBottom()
	m.log.SetContent(renderMessages(m.state, m.log.Width))
	if atBottom {
		m.log.GotoBottom()
	}
}

func renderMessages(s session.State, width int) string {
	if !s.HasRoom {
		return dimStyle.Render("Pick a room on the left and press enter.")
	}
	if len(s.Messages) == 0 {
		if s.Phase == session.PhaseLoading {
			return dimStyle.Render("Loading messages...")
		}
		return dimStyle.Render("No messages yet.")
	}

	wrap := lipgloss.NewStyle().Width(width)
	lines := lo.Map(s.Messages, func(msg chat.Message, _ int) string {
		return wrap.Render(renderMessage(msg, s.Identity.DisplayName, s.HasIdentity))
	})
	return strings.Join(lines, "\n")
}

// renderMessage marks the user's own lines. Messages without a sender are
// server notices.
func renderMessage(msg chat.Message, self string, hasSelf bool) string {
	switch {
	case msg.Sender == "":
		return noticeStyle.Render(msg.Content)
	case hasSelf && msg.Sender == self:
		return ownStyle.Render(msg.Sender+" (you)") + " " + msg.Content
	default:
		return senderStyle.Render(msg.Sender) + " " + msg.Content
	}
}

func statusText(s session.State) string {
	if !s.HasIdentity {
		return "signed out"
	}
	if !s.HasRoom {
		return "signed in as " + s.Identity.DisplayName
	}

	var parts []string
	switch s.Connection {
	case chat.Connecting:
		parts = append(parts, "connecting")
	case chat.Open:
		parts = append(parts, "connected")
	case chat.Closed:
		parts = append(parts, "disconnected")
	case chat.Errored:
		parts = append(parts, "connection error")
	}
	if s.Phase == session.PhaseLoading {
		parts = append(parts, "loading history")
	}
	if s.HistoryErr != nil {
		parts = append(parts, "history unavailable")
	}
	return strings.Join(parts, " · ")
}

func (m *Model) View() string {
	sidebar := sidebarStyle.Height(max(m.height-1, 1)).Render(m.renderSidebar())

	title := "PingSpace"
	if m.state.HasRoom {
		title = "# " + m.state.Room.RoomName
		if m.state.Room.Description != "" {
			title += dimStyle.Render("  " + m.state.Room.Description)
		}
	}
	status := dimStyle.Render(statusText(m.state))
	if m.state.Connection == chat.Errored {
		status = errorStyle.Render(statusText(m.state))
	}
	if m.notice != "" {
		status += "  " + errorStyle.Render(m.notice)
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(title),
		status,
		m.log.View(),
		m.input.View(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main)
	return lipgloss.JoinVertical(lipgloss.Left, body, dimStyle.Render(m.helpLine()))
}

func (m *Model) renderSidebar() string {
	if m.loading && len(m.entries) == 0 {
		return dimStyle.Render("loading rooms...")
	}
	if len(m.entries) == 0 {
		return dimStyle.Render("no rooms")
	}

	lines := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		switch {
		case e.header:
			lines = append(lines, serverStyle.Render(e.server.Name))
		case i == m.cursor && m.focus == focusRooms:
			lines = append(lines, cursorStyle.Render("> "+e.room.RoomName))
		case m.state.HasRoom && e.room.RoomID == m.state.Room.RoomID:
			lines = append(lines, activeStyle.Render("# "+e.room.RoomName))
		default:
			lines = append(lines, roomStyle.Render("  "+e.room.RoomName))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) helpLine() string {
	bindings := []key.Binding{m.keys.FocusToggle, m.keys.Select, m.keys.PageUp, m.keys.Reload, m.keys.Quit}
	if m.focus == focusInput {
		bindings[1] = m.keys.Send
	}
	return strings.Join(lo.Map(bindings, func(b key.Binding, _ int) string {
		h := b.Help()
		return h.Key + " " + h.Desc
	}), "  ")
}
