package pit

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lox/pitfight/internal/gameid"
)

// CreateCallout challenges the member named by target, which is either a
// participant id or a username held by exactly one member.
func (p *Pit) CreateCallout(fromID, target string, wager decimal.Decimal, message string) (Callout, error) {
	p.mu.Lock()
	from, ok := p.members[fromID]
	if !ok {
		p.mu.Unlock()
		return Callout{}, fmt.Errorf("%w: %s", ErrNotMember, fromID)
	}
	now := p.clock.Now()
	if !from.lastCallout.IsZero() && now.Sub(from.lastCallout) < p.cfg.CalloutCooldown {
		p.mu.Unlock()
		return Callout{}, fmt.Errorf("%w: callout", ErrRateLimited)
	}
	to, err := p.targetLocked(target)
	if err != nil {
		p.mu.Unlock()
		return Callout{}, err
	}
	if to.ID == fromID {
		p.mu.Unlock()
		return Callout{}, ErrSelfCallout
	}
	if wager.IsNegative() {
		wager = decimal.Zero
	}

	c := Callout{
		ID:        p.ids.New(gameid.Callout),
		FromID:    fromID,
		TargetID:  to.ID,
		Wager:     wager,
		Message:   truncate(message, p.cfg.ChatMaxLen),
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.CalloutTTL),
	}
	p.callouts[c.ID] = c
	from.lastCallout = now
	p.mu.Unlock()

	p.logger.Info("Callout created", "callout", c.ID, "from", fromID, "target", c.TargetID, "wager", wager)
	p.publish(CalloutReceived, c.TargetID, c)
	p.publish(CalloutCreated, "", c)
	return c, nil
}

// AcceptCallout consumes a callout addressed to accepterID and returns the
// pairing it authorizes.
func (p *Pit) AcceptCallout(calloutID, accepterID string) (Pairing, error) {
	c, err := p.take(calloutID, accepterID)
	if err != nil {
		return Pairing{}, err
	}
	p.logger.Info("Callout accepted", "callout", c.ID, "from", c.FromID, "target", c.TargetID)
	p.publish(CalloutAccepted, "", c)
	return Pairing{P1: c.FromID, P2: c.TargetID, Wager: c.Wager, Source: "callout"}, nil
}

// DeclineCallout consumes a callout addressed to declinerID.
func (p *Pit) DeclineCallout(calloutID, declinerID string) error {
	c, err := p.take(calloutID, declinerID)
	if err != nil {
		return err
	}
	p.logger.Info("Callout declined", "callout", c.ID, "target", c.TargetID)
	p.publish(CalloutDeclined, c.FromID, c)
	return nil
}

// take removes and returns a live callout addressed to id.
func (p *Pit) take(calloutID, id string) (Callout, error) {
	p.mu.Lock()
	c, ok := p.callouts[calloutID]
	if !ok {
		p.mu.Unlock()
		return Callout{}, fmt.Errorf("%w: %s", ErrNotFound, calloutID)
	}
	if c.TargetID != id {
		p.mu.Unlock()
		return Callout{}, fmt.Errorf("%w: %s", ErrNotYours, calloutID)
	}
	delete(p.callouts, calloutID)
	expired := !p.clock.Now().Before(c.ExpiresAt)
	p.mu.Unlock()

	if expired {
		p.publish(CalloutExpired, "", c)
		return Callout{}, fmt.Errorf("%w: %s", ErrExpired, calloutID)
	}
	return c, nil
}

// Callouts lists live callouts involving id, or all of them for an empty id.
func (p *Pit) Callouts(id string) []Callout {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Callout
	for _, c := range p.callouts {
		if id == "" || c.FromID == id || c.TargetID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CleanExpired removes callouts past their TTL and returns how many were
// removed. Calling it again without time passing removes nothing.
func (p *Pit) CleanExpired() int {
	now := p.clock.Now()

	p.mu.Lock()
	var expired []Callout
	for id, c := range p.callouts {
		if !now.Before(c.ExpiresAt) {
			delete(p.callouts, id)
			expired = append(expired, c)
		}
	}
	p.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	for _, c := range expired {
		p.publish(CalloutExpired, "", c)
	}
	if len(expired) > 0 {
		p.logger.Debug("Swept expired callouts", "count", len(expired))
	}
	return len(expired)
}

func (p *Pit) targetLocked(target string) (*Member, error) {
	if m, ok := p.members[target]; ok {
		return m, nil
	}
	var found *Member
	for _, m := range p.members {
		if m.Username != target {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousTarget, target)
		}
		found = m
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetAbsent, target)
	}
	return found, nil
}
