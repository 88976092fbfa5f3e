package newsletter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
)

// MaxSubscriberNameLength is the longest accepted name, in grapheme clusters.
const MaxSubscriberNameLength = 256

const forbiddenNameChars = `/()"<>\{}`

var (
	errNameEmpty     = errors.New("name is required")
	errNameForbidden = fmt.Errorf("name must not contain any of %s", forbiddenNameChars)
)

// ParseSubscriberName trims raw and checks it is a name we are willing to
// store and render in emails.
func ParseSubscriberName(raw string) (string, error) {
	name := strings.TrimSpace(raw)

	switch {
	case name == "":
		return "", &PayloadError{Fields: []string{"Name"}, Err: errNameEmpty}
	case uniseg.GraphemeClusterCount(name) > MaxSubscriberNameLength:
		return "", &PayloadError{
			Fields: []string{"Name"},
			Err:    fmt.Errorf("name is longer than %d characters", MaxSubscriberNameLength),
		}
	case strings.ContainsAny(name, forbiddenNameChars):
		return "", &PayloadError{Fields: []string{"Name"}, Err: errNameForbidden}
	}
	return name, nil
}
