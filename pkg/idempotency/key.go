package idempotency

import "fmt"

// MaxKeyLength is the longest accepted idempotency key, in bytes.
const MaxKeyLength = 48

// Key is a validated, caller supplied idempotency key.
type Key string

// ParseKey validates raw. Keys must be between 1 and MaxKeyLength bytes long;
// no other normalisation is applied.
func ParseKey(raw string) (Key, error) {
	if raw == "" {
		return "", &ValidationError{Raw: raw, Reason: "the idempotency key cannot be empty"}
	}
	if len(raw) > MaxKeyLength {
		return "", &ValidationError{
			Raw:    raw,
			Reason: fmt.Sprintf("the idempotency key must be shorter than %d bytes", MaxKeyLength+1),
		}
	}
	return Key(raw), nil
}

func (k Key) String() string {
	return string(k)
}
