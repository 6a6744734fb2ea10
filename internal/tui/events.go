package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/protocol"
)

// apply folds a server message into the model and returns the log line for
// it, or "" when there is nothing worth showing.
func (m *Model) apply(msg *protocol.Message) string {
	switch msg.Type {
	case protocol.MessageTypeMatchCreated:
		var data protocol.MatchCreatedData
		if msg.Decode(&data) != nil {
			return ""
		}
		st := data.State
		if m.isFighter(st) {
			m.fight = &st
		}
		line := fmt.Sprintf("Match %s: %s vs %s", st.MatchID, m.name(st.Fighters[0].ParticipantID), m.name(st.Fighters[1].ParticipantID))
		if data.Wager.IsPositive() {
			line += " for " + MoneyStyle.Render(data.Wager.StringFixed(2))
		}
		return FightStyle.Render(line)

	case protocol.MessageTypeMatchUpdate:
		var data protocol.MatchUpdateData
		if msg.Decode(&data) != nil {
			return ""
		}
		m.track(data.State)
		if data.Exchange == nil {
			return InfoStyle.Render(fmt.Sprintf("Round %d begins in %s", data.State.Round, data.State.MatchID))
		}
		return fmt.Sprintf("%s  %s", data.Exchange.Narrative, InfoStyle.Render(m.scoreline(data.State)))

	case protocol.MessageTypeExchangeRequest:
		var data protocol.ExchangeRequestData
		if msg.Decode(&data) != nil {
			return ""
		}
		m.track(data.State)
		m.actions = data.Actions
		return WarningStyle.Render(fmt.Sprintf("Your move (exchange %d, round %d): /act <action>", data.State.Exchange, data.State.Round))

	case protocol.MessageTypeRoundEnd:
		var data protocol.RoundEndData
		if msg.Decode(&data) != nil {
			return ""
		}
		m.track(data.State)
		if data.Result.Winner == "" {
			return FightStyle.Render(fmt.Sprintf("Round %d drawn", data.Result.Round))
		}
		how := "on points"
		if data.Result.KO {
			how = "by knockout"
		}
		return FightStyle.Render(fmt.Sprintf("Round %d to %s %s", data.Result.Round, m.name(data.Result.Winner), how))

	case protocol.MessageTypeMatchEnd:
		var data protocol.MatchEndData
		if msg.Decode(&data) != nil {
			return ""
		}
		if m.fight != nil && m.fight.MatchID == data.State.MatchID {
			m.fight = nil
			m.actions = nil
		}
		switch {
		case data.Draw:
			return FightStyle.Render(fmt.Sprintf("Match %s is a draw", data.State.MatchID))
		case data.State.Forfeit != "":
			return FightStyle.Render(fmt.Sprintf("Match %s: %s wins, %s forfeited", data.State.MatchID, m.name(data.WinnerID), m.name(data.State.Forfeit)))
		default:
			return FightStyle.Render(fmt.Sprintf("Match %s: %s wins", data.State.MatchID, m.name(data.WinnerID)))
		}

	case protocol.MessageTypePitEvent:
		return m.applyPit(msg)

	case protocol.MessageTypeBetPlaced:
		var data protocol.BetPlacedData
		if msg.Decode(&data) != nil {
			return ""
		}
		return fmt.Sprintf("%s backs %s with %s (pool %s)", m.name(data.Bet.BettorID), m.name(data.Bet.BackedID),
			MoneyStyle.Render(data.Bet.Amount.StringFixed(2)), data.Pool.TotalPool.StringFixed(2))

	case protocol.MessageTypeBetSettled:
		var data protocol.BetSettledData
		if msg.Decode(&data) != nil {
			return ""
		}
		var mine []string
		for _, p := range data.Result.Payouts {
			if p.BettorID == m.self {
				mine = append(mine, fmt.Sprintf("%s %s", p.Outcome, p.Amount.StringFixed(2)))
			}
		}
		line := fmt.Sprintf("Pool %s settled: %s paid out", data.Result.MatchID, data.Result.NetPool.StringFixed(2))
		if len(mine) > 0 {
			line += ", you: " + MoneyStyle.Render(strings.Join(mine, ", "))
		}
		return line

	case protocol.MessageTypePoolVoided:
		var data protocol.PoolVoidedData
		if msg.Decode(&data) != nil {
			return ""
		}
		return fmt.Sprintf("Pool %s voided, %d bets refunded", data.MatchID, len(data.Refunded))

	case protocol.MessageTypeError:
		var data protocol.ErrorData
		if msg.Decode(&data) != nil {
			return ""
		}
		return ErrorStyle.Render(data.Message)
	}
	return ""
}

func (m *Model) applyPit(msg *protocol.Message) string {
	var ev struct {
		Kind    pit.EventKind   `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if msg.Decode(&ev) != nil {
		return ""
	}

	switch ev.Kind {
	case pit.Joined, pit.Left:
		var mem pit.Member
		if json.Unmarshal(ev.Payload, &mem) != nil {
			return ""
		}
		if ev.Kind == pit.Joined {
			m.members[mem.ID] = mem.Username
			return InfoStyle.Render(mem.Username + " entered the pit")
		}
		delete(m.members, mem.ID)
		return InfoStyle.Render(mem.Username + " left the pit")

	case pit.Chatted:
		var c pit.ChatMessage
		if json.Unmarshal(ev.Payload, &c) != nil {
			return ""
		}
		return NameStyle.Render(c.Username+":") + " " + ChatStyle.Render(c.Text)

	case pit.CalloutReceived:
		var c pit.Callout
		if json.Unmarshal(ev.Payload, &c) != nil {
			return ""
		}
		m.callouts[c.ID] = c
		line := fmt.Sprintf("%s calls you out", m.name(c.FromID))
		if c.Message != "" {
			line += fmt.Sprintf(": %q", c.Message)
		}
		return WarningStyle.Render(line + fmt.Sprintf(" (/accept %s or /decline %s)", c.ID, c.ID))

	case pit.CalloutCreated:
		var c pit.Callout
		if json.Unmarshal(ev.Payload, &c) != nil || c.TargetID == m.self {
			return ""
		}
		return fmt.Sprintf("%s calls out %s", m.name(c.FromID), m.name(c.TargetID))

	case pit.CalloutAccepted, pit.CalloutDeclined, pit.CalloutExpired, pit.CalloutWithdrawn:
		var c pit.Callout
		if json.Unmarshal(ev.Payload, &c) != nil {
			return ""
		}
		delete(m.callouts, c.ID)
		verb := strings.TrimPrefix(string(ev.Kind), "callout_")
		return InfoStyle.Render(fmt.Sprintf("Callout %s from %s %s", c.ID, m.name(c.FromID), verb))

	case pit.Queued:
		return InfoStyle.Render("Waiting for an opponent")

	case pit.MatchFound:
		var p pit.Pairing
		if json.Unmarshal(ev.Payload, &p) != nil {
			return ""
		}
		return InfoStyle.Render(fmt.Sprintf("Matchmaking paired %s with %s", m.name(p.P1), m.name(p.P2)))
	}
	return ""
}

func (m *Model) track(st match.State) {
	if m.isFighter(st) {
		m.fight = &st
	}
}

func (m *Model) isFighter(st match.State) bool {
	return st.Fighters[0].ParticipantID == m.self || st.Fighters[1].ParticipantID == m.self
}

func (m *Model) scoreline(st match.State) string {
	f := st.Fighters
	return fmt.Sprintf("[%s %s | %s %s]", m.name(f[0].ParticipantID), vitals(f[0]), m.name(f[1].ParticipantID), vitals(f[1]))
}

// name prefers the username seen in the pit.
func (m *Model) name(id string) string {
	if n, ok := m.members[id]; ok {
		return n
	}
	return id
}

func vitals(f combat.Fighter) string {
	return fmt.Sprintf("%dhp %dst", f.HP, f.Stamina)
}
