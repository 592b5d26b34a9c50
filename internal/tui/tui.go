// Package tui implements the terminal chat frontend for the TradeFlow
// backend: a login form followed by a scrollback chat view that drives the
// clarification loop turn by turn.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/tradeflow-ai/tradeflow/internal/client"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// view is which screen the model is showing.
type view int

const (
	viewLogin view = iota
	viewChat
)

// loginField indexes the focused login input.
type loginField int

const (
	fieldUsername loginField = iota
	fieldPassword
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	actionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Underline(true)
)

// authResultMsg reports the outcome of a signup or login attempt.
type authResultMsg struct {
	signup bool
	err    error
}

// turnResultMsg reports one completed conversation turn.
type turnResultMsg struct {
	result *domain.TurnResult
	err    error
}

// Model is the Bubble Tea model for the chat frontend.
type Model struct {
	api       *client.Client
	sessionID string

	view    view
	width   int
	height  int
	waiting bool

	// Login form.
	username textinput.Model
	password textinput.Model
	focused  loginField
	signup   bool
	authErr  string

	// Chat view. pausedForAction routes the next message to /resume_flow,
	// mirroring how the web frontend tracks action clarifications.
	viewport        viewport.Model
	input           textinput.Model
	spinner         spinner.Model
	transcript      []string
	pausedForAction bool
}

// New creates the frontend model against the given backend URL.
func New(baseURL string) Model {
	username := textinput.New()
	username.Placeholder = "username"
	username.Focus()
	username.CharLimit = 64

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128

	input := textinput.New()
	input.Placeholder = "Ask a compliance question or give a command..."
	input.CharLimit = 2048

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		api:       client.New(baseURL),
		sessionID: uuid.NewString(),
		username:  username,
		password:  password,
		input:     input,
		spinner:   sp,
		viewport:  viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		m.input.Width = msg.Width - 4
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.view == viewLogin {
			return m.updateLogin(msg)
		}
		return m.updateChat(msg)

	case authResultMsg:
		m.waiting = false
		if msg.err != nil {
			m.authErr = msg.err.Error()
			return m, nil
		}
		if msg.signup {
			m.authErr = "Signup successful! Please log in."
			m.signup = false
			return m, nil
		}
		m.view = viewChat
		m.input.Focus()
		m.appendLine(titleStyle.Render("Global Trade & Compliance AI Assistant"))
		m.appendLine(hintStyle.Render("Session " + m.sessionID))
		m.refreshViewport()
		return m, nil

	case turnResultMsg:
		m.waiting = false
		m.renderTurn(msg)
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		if m.focused == fieldUsername {
			m.focused = fieldPassword
			m.username.Blur()
			m.password.Focus()
		} else {
			m.focused = fieldUsername
			m.password.Blur()
			m.username.Focus()
		}
		return m, nil

	case tea.KeyCtrlS:
		m.signup = !m.signup
		m.authErr = ""
		return m, nil

	case tea.KeyEnter:
		username := strings.TrimSpace(m.username.Value())
		password := m.password.Value()
		if username == "" || password == "" {
			m.authErr = "username and password are required"
			return m, nil
		}
		m.waiting = true
		m.authErr = ""
		return m, tea.Batch(m.spinner.Tick, m.authCmd(username, password))
	}

	var cmd tea.Cmd
	if m.focused == fieldUsername {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyEnter:
		if m.waiting {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.appendLine(userStyle.Render("you: ") + text)
		m.refreshViewport()
		m.waiting = true

		resume := m.pausedForAction
		m.pausedForAction = false
		return m, tea.Batch(m.spinner.Tick, m.turnCmd(text, resume))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) authCmd(username, password string) tea.Cmd {
	signup := m.signup
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if signup {
			return authResultMsg{signup: true, err: api.Signup(ctx, username, password)}
		}
		return authResultMsg{err: api.Login(ctx, username, password)}
	}
}

func (m *Model) turnCmd(text string, resume bool) tea.Cmd {
	api := m.api
	sessionID := m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if resume {
			result, err := api.Resume(ctx, sessionID, text)
			return turnResultMsg{result: result, err: err}
		}
		result, err := api.Chat(ctx, sessionID, text)
		return turnResultMsg{result: result, err: err}
	}
}

func (m *Model) renderTurn(msg turnResultMsg) {
	if msg.err != nil {
		m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
		return
	}

	result := msg.result
	prefix := assistantStyle.Render("assistant: ")
	switch result.Type {
	case domain.TurnClarificationAction:
		m.appendLine(prefix + result.Message)
		m.appendLine(actionStyle.Render("Complete the action: " + result.ActionURL))
		m.appendLine(hintStyle.Render("Then type anything (e.g. 'ok') to continue."))
		m.pausedForAction = true
	case domain.TurnSuccess:
		m.appendLine(prefix + result.Message)
		m.appendLine(indentJSON(result.Result))
	default:
		// clarification_input and pending both just surface the message.
		m.appendLine(prefix + result.Message)
	}
}

func (m *Model) appendLine(line string) {
	m.transcript = append(m.transcript, line)
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.view == viewLogin {
		return m.loginView()
	}
	return m.chatView()
}

func (m Model) loginView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Welcome to the Compliance AI Assistant"))
	b.WriteString("\n\n")
	if m.signup {
		b.WriteString("Create an Account\n\n")
	} else {
		b.WriteString("Login\n\n")
	}
	b.WriteString(m.username.View())
	b.WriteString("\n")
	b.WriteString(m.password.View())
	b.WriteString("\n\n")
	if m.waiting {
		b.WriteString(m.spinner.View() + " working...\n")
	}
	if m.authErr != "" {
		b.WriteString(errorStyle.Render(m.authErr) + "\n")
	}
	b.WriteString(hintStyle.Render("\ntab: switch field • enter: submit • ctrl+s: toggle signup/login • ctrl+c: quit"))
	return b.String()
}

func (m Model) chatView() string {
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.waiting {
		b.WriteString(m.spinner.View() + " Thinking...")
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("enter: send • pgup/pgdn: scroll • esc: quit"))
	return b.String()
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf strings.Builder
	var tmp interface{}
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return string(raw)
	}
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tmp); err != nil {
		return string(raw)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Run starts the frontend against the given backend URL.
func Run(baseURL string) error {
	p := tea.NewProgram(New(baseURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat UI: %w", err)
	}
	return nil
}
