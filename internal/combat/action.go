// Package combat implements the deterministic exchange resolver: given the
// action each fighter chose and a stat snapshot of both sides it computes
// damage, stamina deltas and a narrative line for a single exchange.
package combat

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidAction is returned for action names outside the catalogue.
var ErrInvalidAction = errors.New("combat: invalid action")

// Category groups actions for the interaction table.
type Category int

const (
	Light Category = iota
	Heavy
	Block
	Dodge
	Special
	Rest
)

func (c Category) String() string {
	switch c {
	case Light:
		return "light_attack"
	case Heavy:
		return "heavy_attack"
	case Block:
		return "block"
	case Dodge:
		return "dodge"
	case Special:
		return "special"
	case Rest:
		return "rest"
	default:
		return "unknown"
	}
}

// Action is the name of a move a fighter can submit for an exchange.
type Action string

const (
	LightPunch Action = "light_punch"
	LightKick  Action = "light_kick"
	HeavyPunch Action = "heavy_punch"
	HeavyKick  Action = "heavy_kick"
	BlockHigh  Action = "block_high"
	BlockLow   Action = "block_low"
	DodgeStep  Action = "dodge"
	Uppercut   Action = "uppercut"
	Taunt      Action = "taunt"
)

// DefaultAction is auto-submitted for a side that misses the deadline.
const DefaultAction = BlockHigh

// Move holds the fixed numbers behind an action.
type Move struct {
	Action      Action
	Category    Category
	Damage      int
	StaminaCost int
	// BonusRegen is added on top of the per-exchange regen.
	BonusRegen int
}

var catalogue = map[Action]Move{
	LightPunch: {Action: LightPunch, Category: Light, Damage: 8, StaminaCost: 5},
	LightKick:  {Action: LightKick, Category: Light, Damage: 10, StaminaCost: 8},
	HeavyPunch: {Action: HeavyPunch, Category: Heavy, Damage: 15, StaminaCost: 15},
	HeavyKick:  {Action: HeavyKick, Category: Heavy, Damage: 18, StaminaCost: 20},
	BlockHigh:  {Action: BlockHigh, Category: Block, StaminaCost: 3},
	BlockLow:   {Action: BlockLow, Category: Block, StaminaCost: 3},
	DodgeStep:  {Action: DodgeStep, Category: Dodge, StaminaCost: 10},
	Uppercut:   {Action: Uppercut, Category: Special, Damage: 25, StaminaCost: 30},
	Taunt:      {Action: Taunt, Category: Rest, BonusRegen: 10},
}

// Lookup returns the move for an action name.
func Lookup(a Action) (Move, error) {
	m, ok := catalogue[a]
	if !ok {
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidAction, string(a))
	}
	return m, nil
}

// Valid reports whether a is in the catalogue.
func (a Action) Valid() bool {
	_, ok := catalogue[a]
	return ok
}

func (a Action) String() string {
	return string(a)
}

// Actions lists every action name in a stable order.
func Actions() []Action {
	out := make([]Action, 0, len(catalogue))
	for a := range catalogue {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
