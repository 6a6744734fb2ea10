package wager

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var cent = decimal.New(1, -2)

// Payout is what one bet returned.
type Payout struct {
	BetID    string          `json:"betId"`
	BettorID string          `json:"bettorId"`
	BackedID string          `json:"backedId"`
	Stake    decimal.Decimal `json:"stake"`
	Amount   decimal.Decimal `json:"amount"`
	Outcome  BetStatus       `json:"outcome"`
}

// SettleResult reports a settlement. Residue is the rounding remainder of
// the net pool that no winner received; the house takes it with the rake.
type SettleResult struct {
	MatchID   string          `json:"matchId"`
	WinnerID  string          `json:"winnerId,omitempty"`
	Refunded  bool            `json:"refunded"`
	TotalPool decimal.Decimal `json:"totalPool"`
	Rake      decimal.Decimal `json:"rake"`
	Residue   decimal.Decimal `json:"residue"`
	NetPool   decimal.Decimal `json:"netPool"`
	Payouts   []Payout        `json:"payouts"`
}

// Settle pays out a pool. An empty winnerID is a draw. When nobody backed
// the winner, or on a draw, every stake is refunded and no rake is taken.
// On a ledger failure nothing changes and the error wraps
// ErrSettlementFailed.
func (b *Book) Settle(ctx context.Context, matchID, winnerID string) (SettleResult, error) {
	p, err := b.lookup(matchID)
	if err != nil {
		return SettleResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == PoolSettled || p.status == PoolVoid {
		return SettleResult{}, fmt.Errorf("%w: %s", ErrAlreadySettled, matchID)
	}
	if winnerID != "" && !p.has(winnerID) {
		return SettleResult{}, fmt.Errorf("%w: %s", ErrNotAParticipant, winnerID)
	}

	res, settled := Distribute(matchID, winnerID, p.bets, b.cfg.RakeRate)
	house := res.Rake.Add(res.Residue)
	if err := b.commit(ctx, settled, EntryPayout, house); err != nil {
		b.logger.Error("Settlement failed", "match", matchID, "winner", winnerID, "error", err)
		return SettleResult{}, fmt.Errorf("%w: %s: %w", ErrSettlementFailed, matchID, err)
	}
	p.bets = settled
	p.status = PoolSettled

	b.logger.Info("Pool settled",
		"match", matchID,
		"winner", winnerID,
		"total", res.TotalPool.StringFixed(2),
		"rake", res.Rake.StringFixed(2),
		"residue", res.Residue.StringFixed(2),
		"refunded", res.Refunded)
	b.bus.Publish(BetSettled{Result: res, At: b.clock.Now()})
	return res, nil
}

// Distribute computes a settlement without touching any state. It returns
// the result and the bets with their final status and payout, in the same
// order as bets.
func Distribute(matchID, winnerID string, bets []Bet, rakeRate decimal.Decimal) (SettleResult, []Bet) {
	res := SettleResult{
		MatchID:   matchID,
		WinnerID:  winnerID,
		TotalPool: decimal.Zero,
		Rake:      decimal.Zero,
		Residue:   decimal.Zero,
		NetPool:   decimal.Zero,
		Payouts:   []Payout{},
	}
	winningPool := decimal.Zero
	for _, bet := range bets {
		res.TotalPool = res.TotalPool.Add(bet.Amount)
		if winnerID != "" && bet.BackedID == winnerID {
			winningPool = winningPool.Add(bet.Amount)
		}
	}

	settled := make([]Bet, len(bets))
	copy(settled, bets)

	if !winningPool.IsPositive() {
		res.Refunded = len(bets) > 0
		res.NetPool = res.TotalPool
		for i := range settled {
			settled[i].Status = BetRefunded
			settled[i].Payout = settled[i].Amount
		}
		res.Payouts = payouts(settled)
		return res, settled
	}

	res.Rake = res.TotalPool.Mul(rakeRate).Round(2)
	res.NetPool = res.TotalPool.Sub(res.Rake)

	paid := decimal.Zero
	var winners []int
	for i := range settled {
		if settled[i].BackedID != winnerID {
			settled[i].Status = BetLost
			settled[i].Payout = decimal.Zero
			continue
		}
		share := settled[i].Amount.Mul(res.NetPool).DivRound(winningPool, 2)
		settled[i].Status = BetWon
		settled[i].Payout = share
		paid = paid.Add(share)
		winners = append(winners, i)
	}

	// Half-up rounding can overshoot the net pool by a few cents. Take them
	// back from the largest payouts so the pool never pays out more than it
	// holds.
	if paid.GreaterThan(res.NetPool) {
		sort.SliceStable(winners, func(x, y int) bool {
			a, b := settled[winners[x]], settled[winners[y]]
			if !a.Payout.Equal(b.Payout) {
				return a.Payout.GreaterThan(b.Payout)
			}
			return a.ID < b.ID
		})
		for k := 0; paid.GreaterThan(res.NetPool); k = (k + 1) % len(winners) {
			i := winners[k]
			settled[i].Payout = settled[i].Payout.Sub(cent)
			paid = paid.Sub(cent)
		}
	}
	res.Residue = res.NetPool.Sub(paid)
	res.Payouts = payouts(settled)
	return res, settled
}

func payouts(bets []Bet) []Payout {
	out := make([]Payout, len(bets))
	for i, bet := range bets {
		out[i] = Payout{
			BetID:    bet.ID,
			BettorID: bet.BettorID,
			BackedID: bet.BackedID,
			Stake:    bet.Amount,
			Amount:   bet.Payout,
			Outcome:  bet.Status,
		}
	}
	return out
}
