// Package statistics aggregates the outcomes of simulated fights from one
// strategy's point of view.
package statistics

import (
	"fmt"
	"math"
	"sort"
)

// Outcome of a match for the tracked strategy.
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
	Draw Outcome = "draw"
)

// MatchResult is one simulated match.
type MatchResult struct {
	Outcome   Outcome
	Seed      int64 // strategy RNG seed, for replay
	Side      int   // 0 if the tracked strategy fought as p1, 1 as p2
	Rounds    int
	Exchanges int
	KOs       int // rounds won by knockout
	// RoundMargin is rounds won minus rounds lost.
	RoundMargin int
}

// Score is 1 for a win, 0.5 for a draw and 0 for a loss.
func (r MatchResult) Score() float64 {
	switch r.Outcome {
	case Win:
		return 1
	case Draw:
		return 0.5
	}
	return 0
}

// SideStats tracks results from one starting side.
type SideStats struct {
	Matches  int
	SumScore float64
}

// Statistics accumulates match scores.
type Statistics struct {
	Matches int
	Sum     float64
	SumSq   float64   // for variance
	Values  []float64 // for median and percentiles

	Wins, Losses, Draws int
	KOs                 int
	Rounds              int
	Exchanges           int
	RoundMargin         int

	Sides [2]SideStats
}

// Add incorporates a match result.
func (s *Statistics) Add(r MatchResult) {
	score := r.Score()
	s.Matches++
	s.Sum += score
	s.SumSq += score * score
	s.Values = append(s.Values, score)

	switch r.Outcome {
	case Win:
		s.Wins++
	case Loss:
		s.Losses++
	case Draw:
		s.Draws++
	}
	s.KOs += r.KOs
	s.Rounds += r.Rounds
	s.Exchanges += r.Exchanges
	s.RoundMargin += r.RoundMargin

	if r.Side == 0 || r.Side == 1 {
		s.Sides[r.Side].Matches++
		s.Sides[r.Side].SumScore += score
	}
}

// Mean is the average score per match, i.e. the win rate with draws
// counted as half.
func (s *Statistics) Mean() float64 {
	if s.Matches == 0 {
		return 0
	}
	return s.Sum / float64(s.Matches)
}

// Variance returns the sample variance of match scores.
func (s *Statistics) Variance() float64 {
	if s.Matches < 2 {
		return 0
	}
	mean := s.Mean()
	return max(0, (s.SumSq-float64(s.Matches)*mean*mean)/float64(s.Matches-1))
}

func (s *Statistics) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// StdError returns the standard error of the mean.
func (s *Statistics) StdError() float64 {
	if s.Matches == 0 {
		return 0
	}
	return s.StdDev() / math.Sqrt(float64(s.Matches))
}

// ConfidenceInterval95 returns the 95% confidence interval for the mean.
func (s *Statistics) ConfidenceInterval95() (float64, float64) {
	mean := s.Mean()
	margin := 1.96 * s.StdError()
	return mean - margin, mean + margin
}

func (s *Statistics) Median() float64 {
	return s.Percentile(0.5)
}

// Percentile returns the linearly interpolated value at p (0.0 to 1.0).
func (s *Statistics) Percentile(p float64) float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sorted := make([]float64, len(s.Values))
	copy(sorted, s.Values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(index)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[lower+1]*weight
}

// SideMean is the mean score when starting on side.
func (s *Statistics) SideMean(side int) float64 {
	if side < 0 || side > 1 || s.Sides[side].Matches == 0 {
		return 0
	}
	return s.Sides[side].SumScore / float64(s.Sides[side].Matches)
}

// AverageExchanges is the mean number of exchanges per round.
func (s *Statistics) AverageExchanges() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Exchanges) / float64(s.Rounds)
}

// Validate checks that the counters agree with each other.
func (s *Statistics) Validate() error {
	if s.Matches <= 0 {
		return fmt.Errorf("invalid match count: %d", s.Matches)
	}
	if len(s.Values) != s.Matches {
		return fmt.Errorf("values length (%d) does not match match count (%d)", len(s.Values), s.Matches)
	}
	if s.Wins+s.Losses+s.Draws != s.Matches {
		return fmt.Errorf("outcomes (%d+%d+%d) do not add up to %d matches", s.Wins, s.Losses, s.Draws, s.Matches)
	}
	if s.Sides[0].Matches+s.Sides[1].Matches != s.Matches {
		return fmt.Errorf("side totals (%d+%d) do not add up to %d matches", s.Sides[0].Matches, s.Sides[1].Matches, s.Matches)
	}
	if expected := float64(s.Wins) + 0.5*float64(s.Draws); math.Abs(expected-s.Sum) > 1e-9 {
		return fmt.Errorf("score mismatch: sum=%.3f, expected %.3f", s.Sum, expected)
	}
	return nil
}
