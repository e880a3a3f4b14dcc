package identifier

import (
	"testing"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer("84")
	cases := map[string]string{
		"  User@Example.COM ": "user@example.com",
		"0912345678":          "+84912345678",
		"84912345678":         "+84912345678",
		"+84 912-345-678":     "+84912345678",
		"0084912345678":       "+84912345678",
		"912345678":           "+84912345678",
		"+1 (415) 555-0100":   "+14155550100",
	}
	for in, want := range cases {
		assert.Equal(t, want, n.Normalize(in), "input %q", in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer("84")
	inputs := []string{
		"User@Example.com", "0912345678", "84912345678", "+84912345678",
		"0084912345678", "912 345 678", "+44 20 7946 0958", "abc", "",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		assert.Equal(t, once, n.Normalize(once), "input %q", in)
	}
}

func TestNewNormalizer_StripsPlusAndDefaults(t *testing.T) {
	assert.Equal(t, "44", NewNormalizer("+44").CountryCode)
	assert.Equal(t, "84", NewNormalizer("").CountryCode)
}

func TestCanonical(t *testing.T) {
	n := NewNormalizer("84")

	got, err := n.Canonical("User@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got)

	got, err = n.Canonical("0912345678")
	require.NoError(t, err)
	assert.Equal(t, "+84912345678", got)

	for _, bad := range []string{"", "   ", "not-an-email@", "12", "a@b"} {
		_, err := n.Canonical(bad)
		assert.ErrorIs(t, err, domain.ErrValidation, "input %q", bad)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "al***@example.com", Mask("alice@example.com"))
	assert.Equal(t, "**@example.com", Mask("al@example.com"))
	assert.Equal(t, "+84******678", Mask("+84912345678"))
	assert.Equal(t, "****", Mask("1234"))
}
