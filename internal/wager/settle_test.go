package wager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bets(specs ...string) []Bet {
	var out []Bet
	for i := 0; i+2 < len(specs); i += 3 {
		out = append(out, Bet{ID: specs[i], BackedID: specs[i+1], Amount: d(specs[i+2]), Status: BetActive})
	}
	return out
}

func TestDistributeFormulationsAgree(t *testing.T) {
	t.Parallel()
	in := bets("b1", "A", "30", "b2", "A", "20", "b3", "B", "50")
	res, settled := Distribute("m", "A", in, d("0.03"))

	winningPool, losingPool := d("50"), d("50")
	for _, b := range settled[:2] {
		alt := b.Amount.Add(b.Amount.Div(winningPool).Mul(losingPool)).Mul(res.NetPool).Div(res.TotalPool).Round(2)
		assert.Equal(t, money(alt), money(b.Payout))
	}
	assert.Equal(t, "0.00", money(res.Residue))
}

func TestDistributeResidueGoesToHouse(t *testing.T) {
	t.Parallel()
	in := bets("b1", "A", "1", "b2", "A", "1", "b3", "A", "1", "b4", "B", "1")
	res, settled := Distribute("m", "A", in, d("0.03"))

	assert.Equal(t, "0.12", money(res.Rake))
	assert.Equal(t, "3.88", money(res.NetPool))
	for _, b := range settled[:3] {
		assert.Equal(t, "1.29", money(b.Payout))
	}
	assert.Equal(t, "0.01", money(res.Residue))
}

func TestDistributeTrimsOvershoot(t *testing.T) {
	t.Parallel()
	in := bets("b2", "A", "1", "b1", "A", "1", "b3", "B", "1.01")
	res, settled := Distribute("m", "A", in, d("0"))

	assert.Equal(t, "3.01", money(res.NetPool))
	assert.Equal(t, "1.51", money(settled[0].Payout))
	assert.Equal(t, "1.50", money(settled[1].Payout), "ties trim the lower bet id first")
	assert.Equal(t, "0.00", money(res.Residue))
	assert.Equal(t, BetLost, settled[2].Status)
}

func TestDistributeDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := bets("b1", "A", "5", "b2", "B", "5")
	Distribute("m", "A", in, d("0.03"))
	assert.Equal(t, BetActive, in[0].Status)
	assert.Equal(t, BetActive, in[1].Status)
}
