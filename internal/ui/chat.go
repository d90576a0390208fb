package ui

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/chat"
)

// Stickers maps the /sticker shortcuts to their glyphs.
var Stickers = map[string]string{
	"heart": "\U0001F496",
	"rose":  "\U0001F339",
	"kiss":  "\U0001F48B",
	"hug":   "\U0001F917",
	"star":  "\U00002B50",
	"moon":  "\U0001F319",
}

// StickerNames returns the shortcut names in stable order.
func StickerNames() []string {
	names := make([]string, 0, len(Stickers))
	for name := range Stickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sendResultMsg reports the outcome of an asynchronous send.
type sendResultMsg struct {
	what string
	err  error
}

// downloadResultMsg reports the outcome of a /get.
type downloadResultMsg struct {
	path string
	err  error
}

// eventMsg wraps a session event for the tea loop.
type eventMsg struct {
	ev chat.Event
	ok bool
}

// ChatModel is the Bubble Tea model for the chat screen.
type ChatModel struct {
	session *chat.Session
	room    string
	name    string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	lines  []string
	files  []*chat.IncomingFile
	status string

	width  int
	height int
	sized  bool
}

// NewChatModel builds the chat screen for a connected session.
func NewChatModel(session *chat.Session, room, name string) *ChatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /help"
	ti.CharLimit = 4096
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	return &ChatModel{
		session: session,
		room:    room,
		name:    name,
		input:   ti,
		spinner: sp,
		status:  chat.StatusConnecting,
		width:   80,
		height:  24,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.waitForEvent())
}

// waitForEvent blocks on the session's event stream.
func (m *ChatModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.session.Events()
		return eventMsg{ev: ev, ok: ok}
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if cmd := m.submit(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		if !msg.ok {
			return m, tea.Quit
		}
		m.handleEvent(msg.ev)
		cmds = append(cmds, m.waitForEvent())

	case sendResultMsg:
		if msg.err != nil {
			m.appendLine(SystemStyle.Render(fmt.Sprintf("%s failed: %v", msg.what, msg.err)))
		}

	case downloadResultMsg:
		if msg.err != nil {
			m.appendLine(SystemStyle.Render(fmt.Sprintf("download failed: %v", msg.err)))
		} else {
			m.appendLine(SystemStyle.Render(fmt.Sprintf("%s saved to %s", IconReceive, msg.path)))
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *ChatModel) handleEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventStatus:
		m.status = ev.Status
		if ev.Status == chat.StatusClosed || ev.Status == chat.StatusConnectError {
			m.appendLine(SystemStyle.Render("session ended; press esc to exit"))
		}

	case chat.EventSystem:
		m.appendLine(SystemStyle.Render(fmt.Sprintf("%s %s", stamp(), ev.Text)))

	case chat.EventText:
		m.appendLine(fmt.Sprintf("%s %s %s", MutedStyle.Render(stamp()), PeerStyle.Render("them:"), ev.Text))

	case chat.EventFile:
		m.files = append(m.files, ev.File)
		idx := len(m.files)
		m.appendLine(SystemStyle.Render(fmt.Sprintf("%s %s incoming file %q (/get %d to save)",
			stamp(), IconFile, ev.File.Name, idx)))
	}
}

// submit handles one input line: a slash command or plain text.
func (m *ChatModel) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "/") {
		return m.runCommand(line)
	}
	return m.sendText(line)
}

func (m *ChatModel) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return tea.Quit

	case "/help":
		m.appendLine(SystemStyle.Render("/file <path>   send a file"))
		m.appendLine(SystemStyle.Render("/get <n>       save incoming file n"))
		m.appendLine(SystemStyle.Render("/sticker <name> send a sticker: " + strings.Join(StickerNames(), " ")))
		m.appendLine(SystemStyle.Render("/quit          leave the room"))
		return nil

	case "/file":
		if len(fields) < 2 {
			m.appendLine(SystemStyle.Render("usage: /file <path>"))
			return nil
		}
		return m.sendFile(strings.Join(fields[1:], " "))

	case "/get":
		if len(fields) != 2 {
			m.appendLine(SystemStyle.Render("usage: /get <n>"))
			return nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(m.files) {
			m.appendLine(SystemStyle.Render("no such file"))
			return nil
		}
		return m.download(m.files[n-1])

	case "/sticker":
		if len(fields) != 2 {
			m.appendLine(SystemStyle.Render("stickers: " + strings.Join(StickerNames(), " ")))
			return nil
		}
		glyph, ok := Stickers[fields[1]]
		if !ok {
			m.appendLine(SystemStyle.Render("unknown sticker; try: " + strings.Join(StickerNames(), " ")))
			return nil
		}
		return m.sendText(glyph)

	default:
		m.appendLine(SystemStyle.Render("unknown command; /help lists them"))
		return nil
	}
}

func (m *ChatModel) sendText(text string) tea.Cmd {
	if err := m.session.SendText(text); err != nil {
		m.appendLine(SystemStyle.Render(fmt.Sprintf("not sent: %v", err)))
		return nil
	}
	m.appendLine(fmt.Sprintf("%s %s %s", MutedStyle.Render(stamp()), SelfStyle.Render("you:"), text))
	return nil
}

func (m *ChatModel) sendFile(path string) tea.Cmd {
	session := m.session
	m.appendLine(SystemStyle.Render(fmt.Sprintf("%s sending %s", IconSend, filepath.Base(path))))
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return sendResultMsg{what: "file", err: err}
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		err = session.SendFile(filepath.Base(path), mimeType, data)
		return sendResultMsg{what: "file", err: err}
	}
}

func (m *ChatModel) download(f *chat.IncomingFile) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		data, err := session.Download(f)
		if err != nil {
			return downloadResultMsg{err: err}
		}
		name := filepath.Base(f.Name)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "download"
		}
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return downloadResultMsg{err: err}
		}
		return downloadResultMsg{path: name}
	}
}

func (m *ChatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if m.sized {
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) resize() {
	headerHeight := 3
	footerHeight := 3
	vpHeight := m.height - headerHeight - footerHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.sized {
		m.viewport = viewport.New(m.width, vpHeight)
		m.sized = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()

	m.input.Width = m.width - 4
}

func (m *ChatModel) View() string {
	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s Manar %s %s", IconHeart, IconRoom, m.room))
	b.WriteString(header)
	b.WriteString(" ")
	b.WriteString(m.statusView())
	b.WriteString("\n")

	if m.sized {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(strings.Join(m.lines, "\n"))
	}
	b.WriteString("\n")

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("enter to send, /help for commands, esc to leave"))

	return b.String()
}

func (m *ChatModel) statusView() string {
	switch m.status {
	case chat.StatusPeerConnected:
		return SuccessStyle.Render(IconLock + " direct + encrypted")
	case chat.StatusReady:
		return SuccessStyle.Render(IconKey + " encrypted")
	case chat.StatusWaiting:
		return fmt.Sprintf("%s %s", m.spinner.View(), MutedStyle.Render("waiting for partner"))
	case chat.StatusClosed:
		return ErrorStyle.Render("closed")
	case chat.StatusConnectError:
		return ErrorStyle.Render("connection lost")
	default:
		return fmt.Sprintf("%s %s", m.spinner.View(), MutedStyle.Render(m.status))
	}
}

func stamp() string {
	return time.Now().Format("15:04")
}
