package server

import (
	"errors"
)

// Error kinds surfaced to clients. Messages are fixed and non-sensitive; the
// interesting detail stays in the server log.
var (
	ErrGameNotFound   = errors.New("Game not found")
	ErrPlayerNotFound = errors.New("Player not found")
	ErrNotAuthorized  = errors.New("Not authorized")
	ErrInvalidPayload = errors.New("Invalid request")
	ErrInvalidToken   = errors.New("Invalid token")
	ErrTokenExpired   = errors.New("Token expired")
	ErrAlreadyClaimed = errors.New("Player already claimed")
	ErrRateLimited    = errors.New("Rate limit exceeded")
	ErrTooBusy        = errors.New("Server busy, try again")
	ErrLockTimeout    = errors.New("Operation timed out, try again")
	ErrNotInGame      = errors.New("Join a game first")
	ErrIDExhausted    = errors.New("Could not allocate game id")
	ErrDraining       = errors.New("Server shutting down")
)

// errorKind buckets an error for metrics. Bounded label values only.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrGameNotFound), errors.Is(err, ErrPlayerNotFound):
		return "not_found"
	case errors.Is(err, ErrNotAuthorized):
		return "auth_denied"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrAlreadyClaimed):
		return "conflict"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTooBusy):
		return "busy"
	case errors.Is(err, ErrLockTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidPayload):
		return "validation"
	default:
		return "other"
	}
}
