package domain

import (
	"payment-gateway/internal/errors"
)

// allowedTransitions defines the legal forward moves of the lifecycle.
// SUCCEEDED and FAILED are terminal: no outgoing transitions, not even
// to themselves.
var allowedTransitions = map[Status][]Status{
	StatusCreated:           {StatusAwaitingChallenge, StatusSucceeded, StatusFailed},
	StatusAwaitingChallenge: {StatusSucceeded, StatusFailed},
	StatusSucceeded:         {},
	StatusFailed:            {},
}

// IsTransitionLegal reports whether a transaction may move from one
// status to another. Unknown statuses and self-transitions are illegal.
func IsTransitionLegal(from, to Status) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// RequireTransition returns an InvalidTransition error when the move is
// not allowed by the transition table.
func RequireTransition(from, to Status) error {
	if !IsTransitionLegal(from, to) {
		return errors.NewAppErrorf(errors.InvalidTransition, "illegal transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return s == StatusSucceeded || s == StatusFailed
}
