// Package simulator plays strategies against each other offline, without a
// server, to compare them over many seeded matches.
package simulator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/pitfight/internal/bot"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/randutil"
	"github.com/lox/pitfight/internal/statistics"
)

const (
	heroID     = "hero"
	opponentID = "opponent"
)

// Config holds configuration for running simulations
type Config struct {
	Matches  int
	Hero     string // strategy being measured
	Opponent string
	Seed     int64
	Rules    match.Rules
	Timeout  time.Duration // per match
	Logger   *log.Logger
}

// Simulator runs seeded matches between two strategies
type Simulator struct {
	config Config
}

// New creates a new simulator with the given configuration
func New(config Config) *Simulator {
	if config.Rules == (match.Rules{}) {
		config.Rules = match.DefaultRules()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard)
	}
	return &Simulator{config: config}
}

// Run plays every seed twice, once from each side, so neither strategy
// benefits from where it starts.
func (s *Simulator) Run(ctx context.Context) (*statistics.Statistics, error) {
	// Fail fast on unknown names.
	for _, name := range []string{s.config.Hero, s.config.Opponent} {
		if _, err := bot.NewStrategy(name, randutil.New(0)); err != nil {
			return nil, err
		}
	}

	stats := &statistics.Statistics{}
	for i := 0; i < s.config.Matches; i++ {
		seed := s.config.Seed + int64(i)
		for side := 0; side < 2; side++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result, err := s.playWithTimeout(ctx, seed, side)
			if err != nil {
				return nil, fmt.Errorf("match %d (side %d): %w", i+1, side, err)
			}
			stats.Add(result)
		}
	}

	if err := stats.Validate(); err != nil {
		return nil, fmt.Errorf("statistics validation failed: %w", err)
	}
	return stats, nil
}

// playWithTimeout runs a single match with hang protection
func (s *Simulator) playWithTimeout(ctx context.Context, seed int64, side int) (statistics.MatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	type outcome struct {
		result statistics.MatchResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.play(seed, side)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return statistics.MatchResult{}, fmt.Errorf("timed out after %v (seed: %d)", s.config.Timeout, seed)
	}
}

// play fights one match to the end. The hero's strategy is seeded from seed
// and the opponent's from its complement, whichever side the hero is on.
func (s *Simulator) play(seed int64, side int) (statistics.MatchResult, error) {
	hero, _ := bot.NewStrategy(s.config.Hero, randutil.New(seed))
	opp, _ := bot.NewStrategy(s.config.Opponent, randutil.New(^seed))

	ids := [2]string{heroID, opponentID}
	strategies := [2]bot.Strategy{hero, opp}
	if side == 1 {
		ids[0], ids[1] = ids[1], ids[0]
		strategies[0], strategies[1] = strategies[1], strategies[0]
	}

	m, err := match.New(fmt.Sprintf("sim-%d-%d", seed, side), ids[0], ids[1], s.config.Rules)
	if err != nil {
		return statistics.MatchResult{}, err
	}

	for m.Status() != match.MatchOver {
		if m.Status() == match.RoundOver {
			if err := m.NextRound(); err != nil {
				return statistics.MatchResult{}, err
			}
			continue
		}
		st := m.Snapshot()
		a := strategies[0].Decide(st.Fighters[0], st.Fighters[1])
		b := strategies[1].Decide(st.Fighters[1], st.Fighters[0])
		if _, err := m.SubmitAction(ids[0], a); err != nil {
			return statistics.MatchResult{}, err
		}
		if _, err := m.SubmitAction(ids[1], b); err != nil {
			return statistics.MatchResult{}, err
		}
	}

	return s.result(m, seed, side)
}

func (s *Simulator) result(m *match.Match, seed int64, side int) (statistics.MatchResult, error) {
	winner, decided, err := m.Winner()
	if err != nil {
		return statistics.MatchResult{}, err
	}
	st := m.Snapshot()

	r := statistics.MatchResult{Outcome: statistics.Draw, Seed: seed, Side: side, Rounds: len(st.Rounds)}
	switch {
	case decided && winner == heroID:
		r.Outcome = statistics.Win
	case decided:
		r.Outcome = statistics.Loss
	}
	for _, rr := range st.Rounds {
		r.Exchanges += rr.Exchanges
		switch rr.Winner {
		case heroID:
			r.RoundMargin++
			if rr.KO {
				r.KOs++
			}
		case opponentID:
			r.RoundMargin--
		}
	}
	s.config.Logger.Debug("Simulated match", "seed", seed, "side", side, "outcome", r.Outcome, "rounds", r.Rounds)
	return r, nil
}

// PrintSummary writes a human-readable summary of a run.
func PrintSummary(w io.Writer, stats *statistics.Statistics, hero, opponent string) {
	low, high := stats.ConfidenceInterval95()

	fmt.Fprintf(w, "\n=== %s vs %s ===\n", hero, opponent)
	fmt.Fprintf(w, "Matches played: %d\n", stats.Matches)
	fmt.Fprintf(w, "Record: %d-%d-%d (W-L-D)\n", stats.Wins, stats.Losses, stats.Draws)

	fmt.Fprintf(w, "\n=== SCORE ===\n")
	fmt.Fprintf(w, "Mean: %.4f per match\n", stats.Mean())
	fmt.Fprintf(w, "Std Dev: %.4f\n", stats.StdDev())
	fmt.Fprintf(w, "Std Error: %.4f\n", stats.StdError())
	fmt.Fprintf(w, "95%% CI: [%.4f, %.4f]\n", low, high)

	fmt.Fprintf(w, "\n=== FIGHTS ===\n")
	fmt.Fprintf(w, "Rounds: %d, knockouts: %d, round margin: %+d\n", stats.Rounds, stats.KOs, stats.RoundMargin)
	fmt.Fprintf(w, "Exchanges per round: %.1f\n", stats.AverageExchanges())

	fmt.Fprintf(w, "\n=== SIDE ANALYSIS ===\n")
	for side := 0; side < 2; side++ {
		fmt.Fprintf(w, "Side %d: %d matches, %.3f per match\n", side+1, stats.Sides[side].Matches, stats.SideMean(side))
	}
}
