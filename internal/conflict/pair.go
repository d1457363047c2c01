// Package conflict detects likely duplicates between manually entered and
// bank-imported transactions and coordinates their resolution.
package conflict

import (
	"errors"

	"github.com/jask/bankmatch/internal/database/repository"
	"github.com/jask/bankmatch/internal/match"
)

// Status of a conflict pair.
type Status string

const (
	StatusUnresolved Status = "unresolved"
	StatusResolving  Status = "resolving"
	StatusResolved   Status = "resolved"
)

// Action is the user's chosen resolution.
type Action string

const (
	ActionKeepBoth   Action = "keep-both"
	ActionKeepManual Action = "keep-manual"
	ActionKeepBank   Action = "keep-bank"
)

var (
	// ErrPairNotFound means the pair id is not in the active set.
	ErrPairNotFound = errors.New("conflict: pair not found")
	// ErrPairResolving rejects a second resolve of a pair already in flight.
	ErrPairResolving = errors.New("conflict: pair resolution already in progress")
)

// Pair is the hypothesis that one manual and one bank-imported transaction
// record the same real-world event. Both sides always share an account.
type Pair struct {
	ID             string
	Manual         repository.Transaction
	Imported       repository.Transaction
	Score          float64
	Classification match.Classification
	Status         Status
	Action         Action
}

// ValidAction reports whether a is one of the three resolution actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionKeepBoth, ActionKeepManual, ActionKeepBank:
		return true
	}
	return false
}
