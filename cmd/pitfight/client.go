package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lox/pitfight/internal/client"
	"github.com/lox/pitfight/internal/protocol"
	"github.com/lox/pitfight/internal/tui"
)

// pushes are the server messages the UI shows.
var pushes = []protocol.MessageType{
	protocol.MessageTypeMatchCreated,
	protocol.MessageTypeMatchUpdate,
	protocol.MessageTypeExchangeRequest,
	protocol.MessageTypeRoundEnd,
	protocol.MessageTypeMatchEnd,
	protocol.MessageTypePitEvent,
	protocol.MessageTypeBetPlaced,
	protocol.MessageTypeBetSettled,
	protocol.MessageTypePoolVoided,
	protocol.MessageTypeError,
}

// ClientCmd enters the pit with the terminal UI
type ClientCmd struct {
	LogFlags
	Server  string `default:"http://localhost:8080" help:"Server URL"`
	Token   string `env:"PITFIGHT_TOKEN" help:"Auth token; with a dev server this is your username (defaults to $USER)"`
	LogFile string `default:"pitfight-client.log" help:"Where to write logs while the UI owns the terminal"`
}

func (c *ClientCmd) Run() error {
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	logger := c.logger(f)

	token := strings.TrimSpace(c.Token)
	if token == "" {
		if u, err := user.Current(); err == nil {
			token = u.Username
		}
	}

	ctx, stop := signalContext()
	defer stop()

	cl := client.NewClient(c.Server, logger)
	incoming := make(chan *protocol.Message, 256)
	for _, t := range pushes {
		cl.On(t, func(m *protocol.Message) {
			select {
			case incoming <- m:
			default:
				logger.Warn("UI is behind, dropping message", "type", m.Type)
			}
		})
	}

	if err := cl.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	id, err := cl.Auth(ctx, token)
	if err != nil {
		return err
	}
	if err := cl.JoinPit(ctx, false); err != nil {
		return err
	}

	model := tui.New(cl, id.ParticipantID, id.Username, id.Balance, incoming, cl.Done(), logger)
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
