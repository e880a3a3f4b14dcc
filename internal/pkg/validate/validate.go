package validate

import (
	"fmt"
	"strings"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/identifier"
	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. Custom tags are registered in
// init() before the first call to Struct.
var v = validator.New()

func init() {
	// identifier: an email or phone number that normalises to a valid form.
	// The country code only affects local phone formats, which any code accepts.
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifier.Valid(identifier.NewNormalizer("").Normalize(fl.Field().String()))
	})
	_ = v.RegisterValidation("purpose", func(fl validator.FieldLevel) bool {
		_, err := domain.ParsePurpose(fl.Field().String())
		return err == nil
	})
}

// Struct validates the given struct using its validate tags. Failures are
// wrapped in domain.ErrValidation with a human-readable message.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), domain.ErrValidation)
	}
	return nil
}
