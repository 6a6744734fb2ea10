package combat

import (
	"fmt"
)

const (
	MaxHP      = 100
	MaxStamina = 100

	// LowStamina is the threshold below which a fighter's output is halved.
	LowStamina = 15

	// Regen is the stamina every fighter recovers per exchange.
	Regen = 5

	// Multipliers are percentages so rounding stays exact.
	exhaustedPercent  = 50
	guardBreakPercent = 60
	fullPercent       = 100
)

// Fighter is the per-side stat snapshot the resolver reads.
type Fighter struct {
	ParticipantID string `json:"participantId"`
	HP            int    `json:"hp"`
	Stamina       int    `json:"stamina"`
	RoundWins     int    `json:"roundWins"`
}

// ExchangeResult is the outcome of one exchange. Values are deltas; the
// caller applies them.
type ExchangeResult struct {
	ActionA       Action `json:"actionA"`
	ActionB       Action `json:"actionB"`
	DamageToA     int    `json:"damageToA"`
	DamageToB     int    `json:"damageToB"`
	StaminaDeltaA int    `json:"staminaDeltaA"`
	StaminaDeltaB int    `json:"staminaDeltaB"`
	Narrative     string `json:"narrative"`
}

// Mirror swaps the A and B sides.
func (r ExchangeResult) Mirror() ExchangeResult {
	return ExchangeResult{
		ActionA:       r.ActionB,
		ActionB:       r.ActionA,
		DamageToA:     r.DamageToB,
		DamageToB:     r.DamageToA,
		StaminaDeltaA: r.StaminaDeltaB,
		StaminaDeltaB: r.StaminaDeltaA,
		Narrative:     r.Narrative,
	}
}

// Resolve computes one exchange. It is pure: the snapshots are read, never
// modified. Both actions must come from the catalogue.
func Resolve(a, b Action, fa, fb Fighter) (ExchangeResult, error) {
	ma, err := Lookup(a)
	if err != nil {
		return ExchangeResult{}, err
	}
	mb, err := Lookup(b)
	if err != nil {
		return ExchangeResult{}, err
	}

	return ExchangeResult{
		ActionA:       a,
		ActionB:       b,
		DamageToA:     dealt(mb, ma, fb.Stamina),
		DamageToB:     dealt(ma, mb, fa.Stamina),
		StaminaDeltaA: staminaDelta(ma),
		StaminaDeltaB: staminaDelta(mb),
		Narrative:     narrate(ma, mb, fa.ParticipantID, fb.ParticipantID),
	}, nil
}

// dealt returns the damage the attacker lands on the defender.
func dealt(attacker, defender Move, attackerStamina int) int {
	pct := landing(attacker.Category, defender.Category)
	if pct == 0 || attacker.Damage == 0 {
		return 0
	}
	if attackerStamina < LowStamina {
		pct *= exhaustedPercent
	} else {
		pct *= fullPercent
	}
	// round half up over a denominator of 100*100
	return (attacker.Damage*pct + 5000) / 10000
}

// landing is the interaction table: the percentage of the attacker's base
// damage that reaches the defender.
func landing(attacker, defender Category) int {
	if defender == Dodge {
		return 0
	}
	switch attacker {
	case Light:
		if defender == Block {
			return 0
		}
		return fullPercent
	case Heavy:
		switch defender {
		case Light:
			return 0
		case Block:
			return guardBreakPercent
		}
		return fullPercent
	case Special:
		switch defender {
		case Light, Heavy:
			return 0
		}
		return fullPercent
	}
	return 0
}

func staminaDelta(m Move) int {
	return Regen + m.BonusRegen - m.StaminaCost
}

// narrate describes the exchange from A's perspective.
func narrate(ma, mb Move, idA, idB string) string {
	if idA == "" {
		idA = "A"
	}
	if idB == "" {
		idB = "B"
	}
	ca, cb := ma.Category, mb.Category

	switch {
	case ca == Dodge && cb == Dodge:
		return fmt.Sprintf("%s and %s circle each other, both slipping out of range", idA, idB)
	case ca == Dodge:
		return fmt.Sprintf("%s slips past %s's %s", idA, idB, mb.Action)
	case cb == Dodge:
		return fmt.Sprintf("%s slips past %s's %s", idB, idA, ma.Action)
	case ca == cb:
		switch ca {
		case Block:
			return fmt.Sprintf("%s and %s both turtle up; nothing lands", idA, idB)
		case Rest:
			return fmt.Sprintf("%s and %s trade taunts and catch their breath", idA, idB)
		}
		return fmt.Sprintf("%s and %s trade %s for %s", idA, idB, ma.Action, mb.Action)
	}

	if s, ok := narrateOneSided(ma, mb, idA, idB); ok {
		return s
	}
	if s, ok := narrateOneSided(mb, ma, idB, idA); ok {
		return s
	}
	return fmt.Sprintf("%s throws %s, %s answers with %s", idA, ma.Action, idB, mb.Action)
}

func narrateOneSided(x, y Move, idX, idY string) (string, bool) {
	switch {
	case x.Category == Light && y.Category == Heavy:
		return fmt.Sprintf("%s's %s interrupts %s's wind-up", idX, x.Action, idY), true
	case x.Category == Heavy && y.Category == Block:
		return fmt.Sprintf("%s's %s breaks through %s's guard", idX, x.Action, idY), true
	case x.Category == Block && y.Category == Light:
		return fmt.Sprintf("%s absorbs %s's %s", idX, idY, y.Action), true
	case x.Category == Special && y.Category == Block:
		return fmt.Sprintf("%s's %s shatters %s's block", idX, x.Action, idY), true
	case (x.Category == Light || x.Category == Heavy) && y.Category == Special:
		return fmt.Sprintf("%s punishes %s's telegraphed %s", idX, idY, y.Action), true
	case x.Category == Rest:
		if y.Damage > 0 && y.Category != Block {
			return fmt.Sprintf("%s taunts and eats %s's %s", idX, idY, y.Action), true
		}
		return fmt.Sprintf("%s taunts while %s holds back", idX, idY), true
	}
	return "", false
}
