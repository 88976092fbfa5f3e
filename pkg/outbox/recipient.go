package outbox

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRecipient checks that addr is a syntactically valid email address.
func ValidateRecipient(addr string) error {
	return validate.Var(addr, "required,email")
}
