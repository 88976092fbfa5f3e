package idempotency

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConflictRace matches any *ConflictRaceError through errors.Is.
var ErrConflictRace = errors.New("a request with the same idempotency key is still in progress")

// ValidationError reports a malformed idempotency key.
type ValidationError struct {
	Raw    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid idempotency key: %s", e.Reason)
}

// ConflictRaceError is returned by TryProcessing when the key is already
// recorded but its response has not been saved yet. Callers may retry later.
type ConflictRaceError struct {
	ActorID uuid.UUID
	Key     Key
}

func (e *ConflictRaceError) Error() string {
	return fmt.Sprintf("idempotency key %q for actor %s: %v", e.Key, e.ActorID, ErrConflictRace)
}

func (e *ConflictRaceError) Is(target error) bool { return target == ErrConflictRace }

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }
