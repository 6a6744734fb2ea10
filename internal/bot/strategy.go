// Package bot contains demo fighters that play over the WebSocket API.
package bot

import (
	"fmt"
	rand "math/rand/v2"
	"sort"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/randutil"
)

// Strategy chooses the next action from both fighters' current stats.
type Strategy interface {
	Name() string
	Decide(self, opponent combat.Fighter) combat.Action
}

// affordable lists actions self can pay for without dipping into exhaustion.
func affordable(self combat.Fighter) []combat.Action {
	var out []combat.Action
	for _, a := range combat.Actions() {
		m, _ := combat.Lookup(a)
		if m.StaminaCost == 0 || self.Stamina-m.StaminaCost >= combat.LowStamina {
			out = append(out, a)
		}
	}
	return out
}

// Random picks uniformly among affordable actions.
type Random struct {
	rng *rand.Rand
}

func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Decide(self, _ combat.Fighter) combat.Action {
	return randutil.Pick(r.rng, affordable(self))
}

// Brawler attacks whenever it can, saves the uppercut for a finish and
// taunts to recover when it runs dry.
type Brawler struct {
	rng *rand.Rand
}

func NewBrawler(rng *rand.Rand) *Brawler {
	return &Brawler{rng: rng}
}

func (b *Brawler) Name() string { return "brawler" }

func (b *Brawler) Decide(self, opponent combat.Fighter) combat.Action {
	options := affordable(self)
	has := func(a combat.Action) bool {
		for _, o := range options {
			if o == a {
				return true
			}
		}
		return false
	}

	switch {
	case opponent.HP <= 25 && has(combat.Uppercut):
		return combat.Uppercut
	case has(combat.HeavyKick) && randutil.Chance(b.rng, 0.5):
		return combat.HeavyKick
	case has(combat.HeavyPunch):
		return combat.HeavyPunch
	case self.Stamina < 2*combat.LowStamina:
		return combat.Taunt
	case has(combat.LightKick):
		return combat.LightKick
	default:
		return combat.LightPunch
	}
}

// Counter blocks and dodges while the opponent is fresh and strikes back
// once it tires.
type Counter struct {
	rng *rand.Rand
}

func NewCounter(rng *rand.Rand) *Counter {
	return &Counter{rng: rng}
}

func (c *Counter) Name() string { return "counter" }

func (c *Counter) Decide(self, opponent combat.Fighter) combat.Action {
	if opponent.Stamina >= 2*combat.LowStamina {
		guards := []combat.Action{combat.BlockHigh, combat.BlockLow}
		if self.Stamina-10 >= combat.LowStamina {
			guards = append(guards, combat.DodgeStep)
		}
		return randutil.Pick(c.rng, guards)
	}
	if self.Stamina-30 >= combat.LowStamina {
		return combat.Uppercut
	}
	return combat.LightKick
}

// Strategies lists the built-in strategy names.
func Strategies() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var constructors = map[string]func(*rand.Rand) Strategy{
	"random":  func(r *rand.Rand) Strategy { return NewRandom(r) },
	"brawler": func(r *rand.Rand) Strategy { return NewBrawler(r) },
	"counter": func(r *rand.Rand) Strategy { return NewCounter(r) },
}

// NewStrategy builds a strategy by name.
func NewStrategy(name string, rng *rand.Rand) (Strategy, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Strategies())
	}
	return ctor(rng), nil
}
