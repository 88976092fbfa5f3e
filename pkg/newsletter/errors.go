package newsletter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSubscriberNotFound is returned when a subscriber id does not exist.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// ErrSubscriptionTokenNotFound is returned when a confirmation token was never issued.
var ErrSubscriptionTokenNotFound = errors.New("subscription token not found")

// PayloadError reports missing or malformed request fields.
type PayloadError struct {
	Fields []string
	Err    error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid request fields [%s]: %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }
