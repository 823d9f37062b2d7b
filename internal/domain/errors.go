package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Open validation errors, in the order PositionManager.Open checks them.
var (
	// ErrPositionAlreadyActive is returned when a position is opened while
	// another one is still running.
	ErrPositionAlreadyActive = errors.New("a position is already active")

	// ErrRoomNotFound is returned when the requested room id is not in the catalog.
	ErrRoomNotFound = errors.New("room not found")

	// ErrBelowMinimum is returned when the stake is missing, not a number, or
	// below the room minimum.
	ErrBelowMinimum = errors.New("amount is below the room minimum")

	// ErrAboveMaximum is returned when the stake exceeds the room maximum.
	ErrAboveMaximum = errors.New("amount is above the room maximum")

	// ErrInsufficientBalance is returned when the stake exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Query errors
var (
	// ErrNoActivePosition is returned by lookups when nothing is running.
	ErrNoActivePosition = errors.New("no active position")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for stake validation failures. None of them are
// retryable: they are deterministic for a given state and input.
func IsValidation(err error) bool {
	return isAny(err, ErrBelowMinimum, ErrAboveMaximum, ErrInsufficientBalance)
}

// IsConflict returns true when the request clashes with the current state.
func IsConflict(err error) bool {
	return isAny(err, ErrPositionAlreadyActive)
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	return isAny(err, ErrRoomNotFound, ErrNoActivePosition)
}
