package user

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	redisinfra "github.com/go-auth-nosql/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	return m.Called(ctx, userID, hash).Error(0)
}

type mockOTP struct{ mock.Mock }

func (m *mockOTP) Verify(ctx context.Context, ident, code string, purpose domain.Purpose) (bool, error) {
	args := m.Called(ident, code, purpose)
	return args.Bool(0), args.Error(1)
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) RevokeAllSessions(ctx context.Context, userID string) error {
	return m.Called(userID).Error(0)
}

// --- builder ---

func newService(t *testing.T, us *mockUserStore, o *mockOTP, ss *mockSessions) Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewService(ServiceDeps{
		UserRepo:   us,
		OTP:        o,
		Sessions:   ss,
		Limiter:    ratelimit.NewLimiter(redisinfra.NewStore(rdb, time.Second), nil),
		Limit:      config.Limit{Max: 3, Window: 15 * time.Minute},
		BcryptCost: bcrypt.MinCost,
	})
}

func userWithPassword(t *testing.T, pw string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return &domain.User{UserID: "u1", Identifier: "a@b.com", PasswordHash: string(hash)}
}

// --- ChangePassword ---

func TestChangePassword_Success(t *testing.T) {
	us, o, ss := &mockUserStore{}, &mockOTP{}, &mockSessions{}
	us.On("Get", mock.Anything, "u1").Return(userWithPassword(t, "old-password"), nil)
	o.On("Verify", "a@b.com", "123456", domain.PurposeChangePassword).Return(true, nil)
	us.On("UpdatePassword", mock.Anything, "u1", mock.MatchedBy(func(h string) bool {
		return bcrypt.CompareHashAndPassword([]byte(h), []byte("new-password")) == nil
	})).Return(nil)
	ss.On("RevokeAllSessions", "u1").Return(nil)

	err := newService(t, us, o, ss).ChangePassword(context.Background(), "u1", ChangePasswordRequest{
		CurrentPassword: "old-password", NewPassword: "new-password", Code: "123456",
	})
	require.NoError(t, err)
	us.AssertExpectations(t)
	ss.AssertExpectations(t)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	us, o, ss := &mockUserStore{}, &mockOTP{}, &mockSessions{}
	us.On("Get", mock.Anything, "u1").Return(userWithPassword(t, "old-password"), nil)

	err := newService(t, us, o, ss).ChangePassword(context.Background(), "u1", ChangePasswordRequest{
		CurrentPassword: "guess-password", NewPassword: "new-password", Code: "123456",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	o.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangePassword_BadCode(t *testing.T) {
	us, o, ss := &mockUserStore{}, &mockOTP{}, &mockSessions{}
	us.On("Get", mock.Anything, "u1").Return(userWithPassword(t, "old-password"), nil)
	o.On("Verify", "a@b.com", "000000", domain.PurposeChangePassword).Return(false, nil)

	err := newService(t, us, o, ss).ChangePassword(context.Background(), "u1", ChangePasswordRequest{
		CurrentPassword: "old-password", NewPassword: "new-password", Code: "000000",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	us.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	ss.AssertNotCalled(t, "RevokeAllSessions", mock.Anything)
}

func TestChangePassword_GoogleAccount(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Identifier: "g@gmail.com"}, nil)

	err := newService(t, us, &mockOTP{}, &mockSessions{}).ChangePassword(context.Background(), "u1", ChangePasswordRequest{
		CurrentPassword: "whatever1", NewPassword: "new-password",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestChangePassword_Validation(t *testing.T) {
	err := newService(t, &mockUserStore{}, &mockOTP{}, &mockSessions{}).ChangePassword(context.Background(), "u1", ChangePasswordRequest{
		NewPassword: "short",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestChangePassword_CurrentPasswordThrottled(t *testing.T) {
	us, o, ss := &mockUserStore{}, &mockOTP{}, &mockSessions{}
	us.On("Get", mock.Anything, "u1").Return(userWithPassword(t, "old-password"), nil)
	svc := newService(t, us, o, ss)
	ctx := context.Background()
	guess := ChangePasswordRequest{CurrentPassword: "guess-password", NewPassword: "new-password", Code: "123456"}

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, svc.ChangePassword(ctx, "u1", guess), domain.ErrInvalidCredentials)
	}
	err := svc.ChangePassword(ctx, "u1", guess)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	d, ok := domain.RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 15*time.Minute, d)

	// The right password is refused too until the window passes.
	err = svc.ChangePassword(ctx, "u1", ChangePasswordRequest{
		CurrentPassword: "old-password", NewPassword: "new-password", Code: "123456",
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	o.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestGet(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "missing").Return(nil, domain.ErrNotFound)
	_, err := newService(t, us, &mockOTP{}, &mockSessions{}).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
