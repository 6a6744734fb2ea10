package bot

import (
	"context"
	"errors"
	rand "math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/client"
	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/protocol"
	"github.com/lox/pitfight/internal/randutil"
)

// Config controls what a bot does between fights.
type Config struct {
	Token     string
	Synthetic bool
	Rating    int
	// Requeue puts the bot back in the queue after every match.
	Requeue bool
	// AcceptCallouts answers every callout with a fight.
	AcceptCallouts bool
	// BetChance is the probability of backing a fighter in someone else's
	// match.
	BetChance float64
	BetAmount decimal.Decimal
}

// Bot plays matches with a Strategy over a client connection.
type Bot struct {
	client   *client.Client
	strategy Strategy
	rng      *rand.Rand
	cfg      Config
	logger   *log.Logger

	requests chan protocol.ExchangeRequestData
	ended    chan protocol.MatchEndData
	created  chan protocol.MatchCreatedData
	callouts chan pit.Callout
}

// New creates a bot. The client must not be connected yet.
func New(c *client.Client, s Strategy, rng *rand.Rand, cfg Config, logger *log.Logger) *Bot {
	return &Bot{
		client:   c,
		strategy: s,
		rng:      rng,
		cfg:      cfg,
		logger:   logger.WithPrefix("bot"),
		requests: make(chan protocol.ExchangeRequestData, 8),
		ended:    make(chan protocol.MatchEndData, 8),
		created:  make(chan protocol.MatchCreatedData, 8),
		callouts: make(chan pit.Callout, 8),
	}
}

// Run connects, joins the pit and fights until ctx ends or the connection
// drops.
func (b *Bot) Run(ctx context.Context) error {
	b.client.On(protocol.MessageTypeExchangeRequest, forward(b.requests, b.logger))
	b.client.On(protocol.MessageTypeMatchEnd, forward(b.ended, b.logger))
	b.client.On(protocol.MessageTypeMatchCreated, forward(b.created, b.logger))
	b.client.On(protocol.MessageTypePitEvent, b.onPitEvent)

	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = b.client.Close() }()

	id, err := b.client.Auth(ctx, b.cfg.Token)
	if err != nil {
		return err
	}
	if err := b.client.JoinPit(ctx, b.cfg.Synthetic); err != nil {
		return err
	}
	b.logger.Info("Joined the pit", "participant", id.ParticipantID, "strategy", b.strategy.Name(), "balance", id.Balance)

	if b.cfg.Requeue {
		b.queue(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.client.Done():
			return client.ErrClosed
		case req := <-b.requests:
			b.act(ctx, req)
		case end := <-b.ended:
			b.onMatchEnd(ctx, end)
		case mc := <-b.created:
			b.maybeBet(ctx, mc)
		case c := <-b.callouts:
			b.accept(ctx, c)
		}
	}
}

func (b *Bot) act(ctx context.Context, req protocol.ExchangeRequestData) {
	self, opp, ok := sides(req.State, b.client.ParticipantID())
	if !ok {
		return
	}
	action := b.strategy.Decide(self, opp)
	b.logger.Debug("Acting", "match", req.State.MatchID, "round", req.State.Round, "exchange", req.State.Exchange, "action", action)
	if err := b.client.SubmitAction(ctx, req.State.MatchID, action); err != nil {
		b.logger.Warn("Action rejected", "match", req.State.MatchID, "action", action, "error", err)
	}
}

func (b *Bot) onMatchEnd(ctx context.Context, end protocol.MatchEndData) {
	if _, _, mine := sides(end.State, b.client.ParticipantID()); !mine {
		return
	}
	switch {
	case end.Draw:
		b.logger.Info("Match drawn", "match", end.State.MatchID)
	case end.WinnerID == b.client.ParticipantID():
		b.logger.Info("Won match", "match", end.State.MatchID)
	default:
		b.logger.Info("Lost match", "match", end.State.MatchID, "winner", end.WinnerID)
	}
	if b.cfg.Requeue {
		b.queue(ctx)
	}
}

func (b *Bot) maybeBet(ctx context.Context, mc protocol.MatchCreatedData) {
	if _, _, mine := sides(mc.State, b.client.ParticipantID()); mine {
		return
	}
	if !b.cfg.BetAmount.IsPositive() || !randutil.Chance(b.rng, b.cfg.BetChance) {
		return
	}
	backed := randutil.Pick(b.rng, mc.State.Fighters[:]).ParticipantID
	if err := b.client.PlaceBet(ctx, mc.State.MatchID, backed, b.cfg.BetAmount); err != nil {
		b.logger.Debug("Bet rejected", "match", mc.State.MatchID, "error", err)
		return
	}
	b.logger.Info("Placed bet", "match", mc.State.MatchID, "backed", backed, "amount", b.cfg.BetAmount)
}

func (b *Bot) accept(ctx context.Context, c pit.Callout) {
	if !b.cfg.AcceptCallouts {
		if err := b.client.DeclineCallout(ctx, c.ID); err != nil {
			b.logger.Debug("Decline failed", "callout", c.ID, "error", err)
		}
		return
	}
	if _, err := b.client.AcceptCallout(ctx, c.ID); err != nil {
		b.logger.Warn("Accept failed", "callout", c.ID, "error", err)
	}
}

func (b *Bot) queue(ctx context.Context) {
	st, err := b.client.Queue(ctx, b.cfg.Rating)
	var serr *client.ServerError
	switch {
	case errors.As(err, &serr) && serr.Code == "participant_busy":
	case err != nil:
		b.logger.Warn("Queue failed", "error", err)
	case st != nil:
		b.logger.Info("Match started", "match", st.MatchID)
	default:
		b.logger.Debug("Queued")
	}
}

func (b *Bot) onPitEvent(m *protocol.Message) {
	var ev struct {
		Kind    pit.EventKind `json:"kind"`
		Payload pit.Callout   `json:"payload"`
	}
	if m.Decode(&ev) != nil || ev.Kind != pit.CalloutReceived {
		return
	}
	select {
	case b.callouts <- ev.Payload:
	default:
	}
}

// forward decodes messages into ch, dropping them if the bot is behind.
func forward[T any](ch chan T, logger *log.Logger) client.EventHandler {
	return func(m *protocol.Message) {
		var v T
		if err := m.Decode(&v); err != nil {
			logger.Warn("Failed to decode message", "type", m.Type, "error", err)
			return
		}
		select {
		case ch <- v:
		default:
			logger.Warn("Dropping message", "type", m.Type)
		}
	}
}

// sides returns the fighter with id and their opponent.
func sides(st match.State, id string) (self, opponent combat.Fighter, ok bool) {
	switch id {
	case st.Fighters[0].ParticipantID:
		return st.Fighters[0], st.Fighters[1], true
	case st.Fighters[1].ParticipantID:
		return st.Fighters[1], st.Fighters[0], true
	default:
		return combat.Fighter{}, combat.Fighter{}, false
	}
}
