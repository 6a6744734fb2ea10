package server

import (
	"errors"

	"github.com/lox/pitfight/internal/arena"
	"github.com/lox/pitfight/internal/auth"
	"github.com/lox/pitfight/internal/combat"
	"github.com/lox/pitfight/internal/match"
	"github.com/lox/pitfight/internal/pit"
	"github.com/lox/pitfight/internal/wager"
)

var (
	ErrNotAuthenticated     = errors.New("server: not authenticated")
	ErrAlreadyAuthenticated = errors.New("server: connection already authenticated")
)

const internalError = "internal_error"

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotAuthenticated, "not_authenticated"},
	{ErrAlreadyAuthenticated, "already_authenticated"},
	{auth.ErrInvalidToken, "invalid_token"},
	{auth.ErrUnavailable, "auth_unavailable"},
	{combat.ErrInvalidAction, "invalid_action"},
	{match.ErrInvalidState, "invalid_state"},
	{match.ErrDuplicateAction, "duplicate_action"},
	{match.ErrNotAParticipant, "not_a_participant"},
	{arena.ErrMatchNotFound, "match_not_found"},
	{arena.ErrMatchExists, "match_exists"},
	{arena.ErrParticipantBusy, "participant_busy"},
	{pit.ErrRateLimited, "rate_limited"},
	{pit.ErrNotFound, "not_found"},
	{pit.ErrExpired, "expired"},
	{pit.ErrNotYours, "not_yours"},
	{pit.ErrTargetAbsent, "target_absent"},
	{pit.ErrAmbiguousTarget, "ambiguous_target"},
	{pit.ErrSelfCallout, "self_callout"},
	{pit.ErrNotMember, "not_in_pit"},
	{pit.ErrEmptyMessage, "empty_message"},
	{wager.ErrMatchNotFound, "match_not_found"},
	{wager.ErrMatchNotOpen, "match_not_open"},
	{wager.ErrAlreadySettled, "match_not_open"},
	{wager.ErrNotAParticipant, "not_a_participant"},
	{wager.ErrInsufficientFunds, "insufficient_funds"},
	{wager.ErrOutOfRange, "out_of_range"},
	{wager.ErrSettlementFailed, "settlement_failed"},
}

// errorCode maps err to a stable wire code.
func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return internalError
}
