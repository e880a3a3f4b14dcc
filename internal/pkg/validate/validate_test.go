package validate

import (
	"testing"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
)

type otpRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Purpose    string `json:"purpose" validate:"required,purpose"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(otpRequest{Identifier: "User@Example.com", Purpose: "register"}))
	assert.NoError(t, Struct(otpRequest{Identifier: "0912345678", Purpose: "LOGIN"}))

	err := Struct(otpRequest{Identifier: "not an identifier", Purpose: "REGISTER"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorContains(t, err, "field 'Identifier' failed 'identifier'")

	err = Struct(otpRequest{Identifier: "a@b.com", Purpose: "DANCE"})
	assert.ErrorContains(t, err, "failed 'purpose'")

	err = Struct(otpRequest{})
	assert.ErrorContains(t, err, "failed 'required'")
}
