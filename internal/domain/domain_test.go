package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePurpose(t *testing.T) {
	p, err := ParsePurpose(" register ")
	require.NoError(t, err)
	assert.Equal(t, PurposeRegister, p)

	_, err = ParsePurpose("TELEPORT")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestToIdentity_DropsPasswordHash(t *testing.T) {
	u := &User{
		UserID:        "u1",
		Identifier:    "a@b.com",
		PasswordHash:  "$2a$10$secret",
		Roles:         []string{RoleCustomer},
		Provider:      ProviderLocal,
		EmailVerified: true,
	}
	id := ToIdentity(u)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.Verified)
	assert.NotContains(t, fmt.Sprintf("%+v", *id), "secret")

	// Roles are copied, not shared.
	id.Roles[0] = RoleAdmin
	assert.Equal(t, RoleCustomer, u.Roles[0])
}

func TestToIdentity_Nil(t *testing.T) {
	assert.Nil(t, ToIdentity(nil))
}

func TestRetryAfter_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("send otp: %w", Retry(ErrCooldown, 42*time.Second))
	d, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, d)
	assert.True(t, errors.Is(err, ErrCooldown))

	_, ok = RetryAfter(ErrNotFound)
	assert.False(t, ok)
}

func TestRetry_ClampsNegative(t *testing.T) {
	d, _ := RetryAfter(Retry(ErrRateLimited, -time.Second))
	assert.Zero(t, d)
}

func TestRefreshRecord_Active(t *testing.T) {
	now := time.Now()
	r := &RefreshRecord{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, r.Active(now))
	assert.False(t, r.Active(now.Add(2*time.Minute)))
	r.Revoked = true
	assert.False(t, r.Active(now))
}

func TestIdentity_HasRole(t *testing.T) {
	id := &Identity{Roles: []string{RoleCustomer}}
	assert.True(t, id.HasRole(RoleAdmin, RoleCustomer))
	assert.False(t, id.HasRole(RoleAdmin))
}

func TestCheckPassword(t *testing.T) {
	assert.NoError(t, CheckPassword("12345678"))
	assert.ErrorIs(t, CheckPassword("1234567"), ErrValidation)
	assert.NoError(t, CheckPassword(string(make([]byte, MaxPasswordLen))))
	assert.ErrorIs(t, CheckPassword(string(make([]byte, MaxPasswordLen+1))), ErrValidation)
}

func TestToProfile_DropsSecrets(t *testing.T) {
	assert.Nil(t, ToProfile(nil))

	u := &User{
		UserID:          "u1",
		Identifier:      "a@b.com",
		Email:           "a@b.com",
		PasswordHash:    "$2a$10$secret",
		ProviderSubject: "google-sub",
		Roles:           []string{RoleCustomer},
		Provider:        ProviderLocal,
		EmailVerified:   true,
		Status:          UserStatusActive,
	}
	p := ToProfile(u)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "a@b.com", p.Email)
	assert.True(t, p.EmailVerified)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.NotContains(t, string(b), "google-sub")

	p.Roles[0] = RoleAdmin
	assert.Equal(t, RoleCustomer, u.Roles[0])
}
