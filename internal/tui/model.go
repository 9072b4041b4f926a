// Package tui renders the chat page in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"campuschat/internal/controller"
	"campuschat/internal/i18n"
	"campuschat/pkg/domain"
)

const sidebarWidth = 30

// ChatController is the page logic the view drives.
type ChatController interface {
	Mount(ctx context.Context) error
	Begin(ctx context.Context, text string, files []string) (controller.Outgoing, error)
	Complete(ctx context.Context, out controller.Outgoing) controller.SendResult
	NewChat(ctx context.Context) (*domain.SessionSummary, error)
	SelectSession(ctx context.Context, sessionID domain.ID) error
	DeleteSession(ctx context.Context, sessionID domain.ID) error
	Messages() []domain.Message
	Sessions() []domain.SessionSummary
	Phase() controller.Phase
}

type (
	mountedMsg struct{ err error }
	sentMsg    struct{ result controller.SendResult }
	actionMsg struct {
		err      error
		failText string
	}
)

// Options configure the model.
type Options struct {
	Texts i18n.Catalog
	// Pending is sent right after mount, e.g. a message typed before login.
	Pending string
	// PlainText disables markdown rendering of bot replies.
	PlainText bool
	Context   context.Context
}

// Model is the bubbletea model of the chat page.
type Model struct {
	ctx      context.Context
	ctrl     ChatController
	texts    i18n.Catalog
	styles   Styles
	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	plain    bool

	width, height int
	busy          bool
	status        string
	pending       string

	sidebarFocus bool
	cursor       int
}

func NewModel(ctrl ChatController, opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Focus()
	input.CharLimit = 4000

	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		texts:    opts.Texts,
		styles:   DefaultStyles(),
		input:    input,
		viewport: viewport.New(80, 20),
		plain:    opts.PlainText,
		pending:  opts.Pending,
		busy:     true,
	}
}

func (m Model) Init() tea.Cmd {
	ctx := m.ctx
	ctrl := m.ctrl
	return tea.Batch(textinput.Blink, func() tea.Msg {
		return mountedMsg{err: ctrl.Mount(ctx)}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case mountedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		m.refresh()
		if text := strings.TrimSpace(m.pending); text != "" {
			m.pending = ""
			cmd := m.startSend(text)
			return m, cmd
		}
		return m, nil

	case sentMsg:
		m.busy = false
		m.status = ""
		m.refresh()
		return m, nil

	case actionMsg:
		m.busy = false
		m.status = ""
		if msg.err != nil {
			m.status = msg.failText
			if m.status == "" {
				m.status = msg.err.Error()
			}
		}
		m.clampCursor()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			m.sidebarFocus = !m.sidebarFocus
			if m.sidebarFocus {
				m.input.Blur()
			} else {
				cmds = append(cmds, m.input.Focus())
			}
			m.refresh()
			return m, tea.Batch(cmds...)
		case tea.KeyCtrlN:
			if m.busy {
				return m, nil
			}
			m.busy = true
			return m, m.actionCmd(func(ctx context.Context) error {
				_, err := m.ctrl.NewChat(ctx)
				return err
			}, "")
		}
		if m.sidebarFocus {
			return m.updateSidebar(msg)
		}
		if msg.Type == tea.KeyEnter {
			text := strings.TrimSpace(m.input.Value())
			if m.busy || text == "" {
				return m, nil
			}
			m.input.Reset()
			cmd := m.startSend(text)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) updateSidebar(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sessions := m.ctrl.Sessions()
	switch msg.Type {
	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyDown:
		if m.cursor < len(sessions)-1 {
			m.cursor++
		}
	case tea.KeyEnter:
		if m.busy || len(sessions) == 0 {
			return m, nil
		}
		id := sessions[m.cursor].ID
		m.busy = true
		return m, m.actionCmd(func(ctx context.Context) error {
			return m.ctrl.SelectSession(ctx, id)
		}, "")
	case tea.KeyDelete, tea.KeyCtrlD:
		if m.busy || len(sessions) == 0 {
			return m, nil
		}
		id := sessions[m.cursor].ID
		m.busy = true
		return m, m.actionCmd(func(ctx context.Context) error {
			return m.ctrl.DeleteSession(ctx, id)
		}, m.texts.DeleteFailed)
	}
	m.refresh()
	return m, nil
}

// startSend appends the user message right away and returns the command
// that waits for the reply.
func (m *Model) startSend(text string) tea.Cmd {
	out, err := m.ctrl.Begin(m.ctx, text, nil)
	switch {
	case errors.Is(err, controller.ErrRateLimited):
		m.status = m.texts.RateLimited
		return nil
	case err != nil:
		m.status = err.Error()
		return nil
	}
	m.busy = true
	m.status = ""
	m.refresh()
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return sentMsg{result: ctrl.Complete(ctx, out)}
	}
}

func (m Model) actionCmd(fn func(context.Context) error, failText string) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{err: fn(ctx), failText: failText}
	}
}

func (m *Model) resize(w, h int) {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	m.width, m.height = w, h
	chatWidth := max(w-sidebarWidth-2, 10)
	m.viewport.Width = chatWidth
	m.viewport.Height = max(h-4, 1)
	m.input.Width = max(chatWidth-4, 1)
	if !m.plain {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(max(chatWidth-4, 20)),
		)
		if err == nil {
			m.renderer = renderer
		}
	}
}

func (m *Model) clampCursor() {
	n := len(m.ctrl.Sessions())
	if m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	var sb strings.Builder
	for _, msg := range m.ctrl.Messages() {
		switch msg.Sender {
		case domain.SenderUser:
			line := m.styles.User.Render("> " + msg.Message)
			switch msg.Status {
			case domain.MessagePending:
				line += m.styles.Muted.Render(" …")
			case domain.MessageFailed:
				line += m.styles.Error.Render(" !")
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		default:
			if msg.IsError {
				sb.WriteString(m.styles.Error.Render(msg.Message))
				sb.WriteString("\n")
			} else {
				sb.WriteString(m.renderBot(msg.Message))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderBot(text string) string {
	if m.renderer != nil {
		if out, err := m.renderer.Render(text); err == nil {
			return out
		}
	}
	return m.styles.Bot.Render(text) + "\n"
}

func (m Model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render(m.texts.NewChatTitle + " (ctrl+n)"))
	sb.WriteString("\n\n")
	for i, s := range m.ctrl.Sessions() {
		title := domain.TruncateTitle(s.Title, sidebarWidth-6)
		line := fmt.Sprintf("%s (%d)", title, s.MessageCount)
		if m.sidebarFocus && i == m.cursor {
			sb.WriteString(m.styles.Selected.Render("▸ " + line))
		} else {
			sb.WriteString(m.styles.SidebarItem.Render("  " + line))
		}
		sb.WriteString("\n")
	}
	return m.styles.Sidebar.Width(sidebarWidth).Height(max(m.height-2, 1)).Render(sb.String())
}

func (m Model) View() string {
	status := m.status
	if m.busy {
		status = "…"
	}
	if status == "" {
		status = m.ctrl.Phase().String()
	}
	chat := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.input.View(),
		m.styles.Status.Render(status),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), chat)
}
