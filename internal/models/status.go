package models

import "fmt"

// Status is the canonical payment status every provider vocabulary maps to.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusDeclined   Status = "declined"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the intent still waits on a provider outcome.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusProcessing
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusDeclined, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// StaleTransitionError is returned when a signal tries to move an intent
// backwards or out of a terminal status.
type StaleTransitionError struct {
	From Status
	To   Status
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether the orchestrator may move an intent from
// one status to the next.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to != StatusPending
	case StatusProcessing:
		return to != StatusProcessing
	case StatusFailed:
		// A failed intent can start a new round, or be confirmed late by a
		// provider that captured an earlier attempt.
		return to == StatusProcessing || to == StatusApproved || to == StatusDeclined
	}
	return false
}

// CanApplyProviderStatus reports whether a status reported asynchronously by
// a provider (webhook or poll) may be applied. Providers never move an intent
// back into processing and only confirm pending for a processing intent.
func CanApplyProviderStatus(from, to Status) bool {
	switch to {
	case StatusProcessing:
		return false
	case StatusPending:
		return from == StatusProcessing
	case StatusFailed:
		return from.IsOpen()
	}
	return CanTransition(from, to)
}

// ConfirmationFailurePolicy decides what a provider-side failure means for
// an intent the provider had already accepted.
type ConfirmationFailurePolicy string

const (
	// PolicyReopen marks the intent failed so a later request starts a new round.
	PolicyReopen ConfirmationFailurePolicy = "reopen"
	// PolicyTerminal closes the intent as declined.
	PolicyTerminal ConfirmationFailurePolicy = "terminal"
)

// Resolve maps a provider-reported status for an open intent under the policy.
func (p ConfirmationFailurePolicy) Resolve(reported Status) Status {
	if reported == StatusFailed && p == PolicyTerminal {
		return StatusDeclined
	}
	return reported
}

// AttemptOutcome classifies one gateway call.
type AttemptOutcome string

const (
	OutcomeSuccess       AttemptOutcome = "success"
	OutcomeDeclined      AttemptOutcome = "declined"
	OutcomeProviderError AttemptOutcome = "provider_error"
	OutcomeTimeout       AttemptOutcome = "timeout"
)
