// Package tui is the terminal front end for a human in the pit: a scrolling
// log of pit and fight events with a command line underneath.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/protocol"
)

const (
	commandTimeout = 10 * time.Second
	maxLogLines    = 1000
)

// Backend is the subset of the client the UI drives.
type Backend interface {
	Chat(ctx context.Context, text string) error
	Callout(ctx context.Context, target string, stake decimal.Decimal, message string) error
	AcceptCallout(ctx context.Context, calloutID string) (match.State, error)
	DeclineCallout(ctx context.Context, calloutID string) error
	Queue(ctx context.Context, rating int) (*match.State, error)
	Dequeue(ctx context.Context) error
	SubmitAction(ctx context.Context, matchID string, action combat.Action) error
	PlaceBet(ctx context.Context, matchID, backedID string, amount decimal.Decimal) error
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// ServerMsg wraps a message pushed by the server.
type ServerMsg struct {
	Message *protocol.Message
}

// resultMsg reports the outcome of a command.
type resultMsg struct {
	line    string
	err     error
	balance *decimal.Decimal
}

type disconnectedMsg struct{}

// Model represents the Bubble Tea model for the pit
type Model struct {
	backend  Backend
	self     string
	incoming <-chan *protocol.Message
	done     <-chan struct{}
	logger   *log.Logger

	logViewport viewport.Model
	input       textinput.Model
	focusedPane int // 0 = log, 1 = input

	lines    []string
	members  map[string]string
	callouts map[string]pit.Callout
	fight    *match.State
	actions  []combat.Action
	balance  decimal.Decimal

	width, height int
	quitting      bool
}

// New creates the model. incoming carries server pushes and done is closed
// when the connection drops.
func New(backend Backend, self, username string, balance decimal.Decimal, incoming <-chan *protocol.Message, done <-chan struct{}, logger *log.Logger) *Model {
	vp := viewport.New(10, 5)

	ti := textinput.New()
	ti.Placeholder = "say something, or /help"
	ti.Focus()
	ti.CharLimit = 280
	ti.Width = 100
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	ti.Prompt = "> "

	return &Model{
		backend:     backend,
		self:        self,
		incoming:    incoming,
		done:        done,
		logger:      logger.WithPrefix("tui"),
		logViewport: vp,
		input:       ti,
		focusedPane: 1,
		members:     map[string]string{self: username},
		callouts:    make(map[string]pit.Callout),
		balance:     balance,
	}
}

// Init initializes the TUI model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

// listen waits for the next server push.
func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.incoming:
			return ServerMsg{Message: msg}
		case <-m.done:
			return disconnectedMsg{}
		}
	}
}

// Update handles messages in the TUI
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ServerMsg:
		m.log(m.apply(msg.Message))
		cmds = append(cmds, m.listen())
		if msg.Message.Type == protocol.MessageTypeBetSettled || msg.Message.Type == protocol.MessageTypePoolVoided {
			cmds = append(cmds, m.refreshBalance())
		}

	case resultMsg:
		switch {
		case msg.err != nil:
			m.logger.Debug("Command failed", "error", msg.err)
			m.log(ErrorStyle.Render(msg.err.Error()))
		case msg.line != "":
			m.log(SuccessStyle.Render(msg.line))
		}
		if msg.balance != nil {
			m.balance = *msg.balance
		}

	case disconnectedMsg:
		m.log(ErrorStyle.Render("Disconnected from server"))
		m.quitting = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			if m.focusedPane == 0 {
				m.focusedPane = 1
				m.input.Focus()
			} else {
				m.focusedPane = 0
				m.input.Blur()
			}
		case "enter":
			if m.focusedPane == 1 {
				line := strings.TrimSpace(m.input.Value())
				m.input.SetValue("")
				if line == "/quit" {
					m.quitting = true
					return m, tea.Quit
				}
				if cmd := m.command(line); cmd != nil {
					cmds = append(cmds, cmd)
				}
			}
		case "pgup":
			m.logViewport.HalfPageUp()
		case "pgdown":
			m.logViewport.HalfPageDown()
		}
	}

	var cmd tea.Cmd
	if m.focusedPane == 1 {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.logViewport, cmd = m.logViewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) log(line string) {
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.logViewport.SetContent(strings.Join(m.lines, "\n"))
	m.logViewport.GotoBottom()
}

var errUsage = errors.New("usage")

const helpText = `Commands:
  <text>                         chat
  /callout <user> [wager] [msg]  challenge someone
  /accept <id>  /decline <id>    answer a callout
  /queue  /dequeue               matchmaking
  /act <action>                  fight (during your exchange)
  /bet <match> <fighter> <amt>   back a fighter
  /balance  /quit`

// command turns an input line into a backend call.
func (m *Model) command(line string) tea.Cmd {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return m.call(func(ctx context.Context) (string, error) {
			return "", m.backend.Chat(ctx, line)
		})
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/help":
		m.log(InfoStyle.Render(helpText))
		return nil

	case "/callout":
		if len(args) < 1 {
			return m.usage("/callout <user> [wager] [message]")
		}
		stake := decimal.Zero
		rest := args[1:]
		if len(rest) > 0 {
			if v, err := decimal.NewFromString(rest[0]); err == nil {
				stake, rest = v, rest[1:]
			}
		}
		target, text := args[0], strings.Join(rest, " ")
		return m.call(func(ctx context.Context) (string, error) {
			return "Called out " + target, m.backend.Callout(ctx, target, stake, text)
		})

	case "/accept":
		id, ok := m.calloutArg(args)
		if !ok {
			return m.usage("/accept <callout id>")
		}
		return m.call(func(ctx context.Context) (string, error) {
			st, err := m.backend.AcceptCallout(ctx, id)
			return "Fight on: " + st.MatchID, err
		})

	case "/decline":
		id, ok := m.calloutArg(args)
		if !ok {
			return m.usage("/decline <callout id>")
		}
		return m.call(func(ctx context.Context) (string, error) {
			return "Declined", m.backend.DeclineCallout(ctx, id)
		})

	case "/queue":
		return m.call(func(ctx context.Context) (string, error) {
			st, err := m.backend.Queue(ctx, 0)
			if st != nil {
				return "Fight on: " + st.MatchID, err
			}
			return "", err
		})

	case "/dequeue":
		return m.call(func(ctx context.Context) (string, error) {
			return "Left the queue", m.backend.Dequeue(ctx)
		})

	case "/act":
		if len(args) != 1 {
			return m.usage("/act <" + joinActions(combat.Actions()) + ">")
		}
		if m.fight == nil {
			m.log(ErrorStyle.Render("You are not in a fight"))
			return nil
		}
		matchID, action := m.fight.MatchID, combat.Action(args[0])
		return m.call(func(ctx context.Context) (string, error) {
			return "", m.backend.SubmitAction(ctx, matchID, action)
		})

	case "/bet":
		if len(args) != 3 {
			return m.usage("/bet <match> <fighter> <amount>")
		}
		amount, err := decimal.NewFromString(args[2])
		if err != nil {
			return m.usage("/bet <match> <fighter> <amount>")
		}
		matchID, backed := args[0], m.resolve(args[1])
		return m.call(func(ctx context.Context) (string, error) {
			return fmt.Sprintf("Bet %s on %s", amount.StringFixed(2), args[1]), m.backend.PlaceBet(ctx, matchID, backed, amount)
		})

	case "/balance":
		return m.refreshBalance()
	}
	return m.usage(helpText)
}

// call runs fn off the UI goroutine.
func (m *Model) call(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		line, err := fn(ctx)
		if err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{line: line}
	}
}

func (m *Model) refreshBalance() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		bal, err := m.backend.Balance(ctx)
		if err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{balance: &bal}
	}
}

func (m *Model) usage(text string) tea.Cmd {
	m.log(ErrorStyle.Render(fmt.Sprintf("%s: %s", errUsage, text)))
	return nil
}

// calloutArg defaults to the only pending callout.
func (m *Model) calloutArg(args []string) (string, bool) {
	if len(args) == 1 {
		return args[0], true
	}
	if len(args) == 0 && len(m.callouts) == 1 {
		for id := range m.callouts {
			return id, true
		}
	}
	return "", false
}

// resolve maps a username to a participant id when it is known.
func (m *Model) resolve(who string) string {
	for id, name := range m.members {
		if name == who {
			return id
		}
	}
	return who
}

// View renders the TUI
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	actionContent := m.renderActionPane()
	actionHeight := lipgloss.Height(actionContent) + 2
	actionPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#04B575")).
		Width(max(m.width-2, 1)).
		Render(actionContent)

	sidebarWidth := 28
	bodyHeight := max(m.height-actionHeight-2, 1)
	sidebarPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#626262")).
		Width(sidebarWidth).
		Height(bodyHeight).
		Render(m.renderSidebar())

	m.logViewport.Width = max(m.width-sidebarWidth-4, 1)
	m.logViewport.Height = bodyHeight
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#626262"))
	if m.focusedPane == 0 {
		logStyle = logStyle.BorderForeground(lipgloss.Color("#04B575"))
	}
	logPane := logStyle.Render(m.logViewport.View())

	return lipgloss.JoinVertical(lipgloss.Top, lipgloss.JoinHorizontal(lipgloss.Top, logPane, sidebarPane), actionPane)
}

func (m *Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(" THE PIT "))
	b.WriteString("\n\n")
	b.WriteString(MoneyStyle.Render("Balance: " + m.balance.StringFixed(2)))
	b.WriteString("\n\n")

	if m.fight != nil {
		b.WriteString(FightStyle.Render("Fighting " + m.fight.MatchID))
		b.WriteString("\n")
		for _, f := range m.fight.Fighters {
			fmt.Fprintf(&b, "  %s %s\n", m.name(f.ParticipantID), vitals(f))
		}
		b.WriteString("\n")
	}

	if len(m.callouts) > 0 {
		b.WriteString(WarningStyle.Render("Callouts:"))
		b.WriteString("\n")
		for id, c := range m.callouts {
			fmt.Fprintf(&b, "  %s from %s\n", id, m.name(c.FromID))
		}
		b.WriteString("\n")
	}

	names := make([]string, 0, len(m.members))
	for _, n := range m.members {
		names = append(names, n)
	}
	sort.Strings(names)
	b.WriteString(InfoStyle.Render("In the pit (" + strconv.Itoa(len(names)) + "):"))
	b.WriteString("\n")
	for _, n := range names {
		b.WriteString("  " + NameStyle.Render(n) + "\n")
	}
	return b.String()
}

func (m *Model) renderActionPane() string {
	var b strings.Builder
	if m.fight != nil && len(m.actions) > 0 {
		b.WriteString(WarningStyle.Render("Moves: " + joinActions(m.actions)))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	help := "Tab to scroll log • /help for commands • Ctrl+C to quit"
	if m.focusedPane == 0 {
		help = "Log focused: PgUp/PgDn to scroll, Tab to input"
	}
	b.WriteString(InfoStyle.Render(help))
	return b.String()
}

func joinActions(actions []combat.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, "|")
}
