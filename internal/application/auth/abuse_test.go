package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-auth-nosql/internal/application/otp"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	redisinfra "github.com/go-auth-nosql/internal/infrastructure/redis"
	"github.com/go-auth-nosql/internal/pkg/identifier"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbuseInspector_Status(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisinfra.NewStore(rdb, time.Second)
	n := identifier.NewNormalizer("84")
	disp := &captureDispatcher{}
	engine := otp.NewEngine(otp.Deps{
		Store:      store,
		Dispatcher: disp,
		Normalizer: n,
		Config: config.OTP{
			Expiration:   5 * time.Minute,
			MaxAttempts:  2,
			BlockFor:     15 * time.Minute,
			ResendLimit:  5,
			ResendWindow: time.Hour,
			Cooldown:     time.Minute,
			AuditGrace:   5 * time.Second,
		},
	})
	limiter := ratelimit.NewLimiter(store, nil)
	insp := NewAbuseInspector(engine, limiter, n, config.RateLimit{
		Login:         config.Limit{Max: 3, Window: 15 * time.Minute},
		OTPSend:       config.Limit{Max: 10, Window: time.Hour},
		PasswordReset: config.Limit{Max: 5, Window: time.Hour},
	})
	ctx := context.Background()

	st, err := insp.Status(ctx, "Someone@B.com", domain.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, &AbuseStatus{
		Identifier:             "so***@b.com",
		Purpose:                domain.PurposeLogin,
		LoginRemaining:         3,
		OTPSendRemaining:       10,
		PasswordResetRemaining: 5,
	}, st)

	_, err = engine.Send(ctx, "someone@b.com", domain.PurposeLogin)
	require.NoError(t, err)
	wrong := "000000"
	if disp.code("someone@b.com", domain.PurposeLogin) == wrong {
		wrong = "111111"
	}
	for i := 0; i < 2; i++ {
		ok, err := engine.Verify(ctx, "someone@b.com", wrong, domain.PurposeLogin)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	require.NoError(t, limiter.CheckAndIncrement(ctx, ratelimit.ScopeLogin, "someone@b.com", 3, 15*time.Minute))

	st, err = insp.Status(ctx, "someone@b.com", domain.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 900, st.BlockedForSeconds)
	assert.Equal(t, 2, st.LoginRemaining)

	// Blocks are per purpose.
	st, err = insp.Status(ctx, "someone@b.com", domain.PurposeRegister)
	require.NoError(t, err)
	assert.Zero(t, st.BlockedForSeconds)
}

func TestAbuseInspector_Validation(t *testing.T) {
	insp := NewAbuseInspector(nil, nil, identifier.NewNormalizer("84"), config.RateLimit{})
	_, err := insp.Status(context.Background(), "nonsense", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = insp.Status(context.Background(), "a@b.com", domain.Purpose("DANCE"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
