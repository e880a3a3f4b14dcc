package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/identifier"
	"github.com/go-auth-nosql/internal/pkg/kv"
)

const codeDigits = 6

const (
	blockWriteAttempts = 3
	blockRetryDelay    = 25 * time.Millisecond
)

var codeRe = regexp.MustCompile(`^\d{6}$`)

// Dispatcher delivers a code to an email address or phone number. It must not
// block the caller; delivery is best effort.
type Dispatcher interface {
	SendOtp(destination, code string, purpose domain.Purpose)
}

// Metrics is the subset of counters the engine reports.
type Metrics interface {
	OtpSent(purpose string)
	OtpVerified(purpose, outcome string)
}

// Verification outcomes reported to Metrics.
const (
	OutcomeVerified = "verified"
	OutcomeMismatch = "mismatch"
	OutcomeBlocked  = "blocked"
	OutcomeMissing  = "missing"
	OutcomeExpired  = "expired"
	OutcomeReused   = "reused"
)

// Receipt describes a challenge that was just issued.
type Receipt struct {
	Identifier     string         `json:"identifier"`
	Purpose        domain.Purpose `json:"purpose"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ResendAfter    time.Time      `json:"resend_after"`
	RemainingSends int            `json:"remaining_sends"`
}

type Deps struct {
	Store      kv.Store
	Dispatcher Dispatcher
	Normalizer identifier.Normalizer
	Metrics    Metrics
	Config     config.OTP
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine issues and checks one-time codes. State per (identifier, purpose):
//
//	OTP:{id}:{purpose}        the active challenge, TTL = expiration
//	OTP_RESEND:{id}:{purpose} send counter, TTL = resend window
//	OTP_BLOCK:{id}:{purpose}  presence-only lock, TTL = block duration
type Engine struct {
	challenges *kv.Namespace[domain.OtpChallenge]
	resends    *kv.Namespace[domain.ResendTracker]
	blocks     *kv.Namespace[string]
	dispatcher Dispatcher
	normalizer identifier.Normalizer
	metrics    Metrics
	cfg        config.OTP
	now        func() time.Time
}

func NewEngine(d Deps) *Engine {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		challenges: kv.NewNamespace[domain.OtpChallenge](d.Store, "OTP", kv.JSON[domain.OtpChallenge]{}),
		resends:    kv.NewNamespace[domain.ResendTracker](d.Store, "OTP_RESEND", kv.JSON[domain.ResendTracker]{}),
		blocks:     kv.NewNamespace[string](d.Store, "OTP_BLOCK", kv.String{}),
		dispatcher: d.Dispatcher,
		normalizer: d.Normalizer,
		metrics:    d.Metrics,
		cfg:        d.Config,
		now:        now,
	}
}

// Send issues a fresh code for (identifier, purpose) and hands it to the
// dispatcher. Any previous challenge for the pair is replaced.
func (e *Engine) Send(ctx context.Context, rawIdentifier string, purpose domain.Purpose) (*Receipt, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrValidation)
	}
	id, err := e.normalizer.Canonical(rawIdentifier)
	if err != nil {
		return nil, err
	}
	if err := e.checkBlock(ctx, id, purpose); err != nil {
		return nil, err
	}

	now := e.now()
	var tracker domain.ResendTracker
	// Reserve the send slot before writing the challenge so concurrent
	// senders cannot both pass the limit and cooldown checks.
	err = e.resends.Mutate(ctx, e.resends.Key(id, string(purpose)), func(cur kv.Entry[domain.ResendTracker]) (kv.Change[domain.ResendTracker], error) {
		if !cur.Exists {
			tracker = domain.ResendTracker{Count: 1, FirstSentAt: now, LastSentAt: now}
			return kv.Change[domain.ResendTracker]{Value: tracker, TTL: e.cfg.ResendWindow}, nil
		}
		t := cur.Value
		if t.Count >= e.cfg.ResendLimit {
			return kv.Change[domain.ResendTracker]{}, domain.Retry(
				fmt.Errorf("otp resend limit of %d reached: %w", e.cfg.ResendLimit, domain.ErrRateLimited), cur.TTL)
		}
		if next := t.LastSentAt.Add(e.cfg.Cooldown); now.Before(next) {
			return kv.Change[domain.ResendTracker]{}, domain.Retry(
				fmt.Errorf("otp requested too soon: %w", domain.ErrCooldown), next.Sub(now))
		}
		t.Count++
		t.LastSentAt = now
		tracker = t
		return kv.Change[domain.ResendTracker]{Value: t}, nil
	})
	if err != nil {
		return nil, err
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	ch := domain.OtpChallenge{
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.Expiration),
	}
	if err := e.challenges.Set(ctx, e.challenges.Key(id, string(purpose)), ch, e.cfg.Expiration); err != nil {
		return nil, err
	}

	e.dispatcher.SendOtp(id, code, purpose)
	if e.metrics != nil {
		e.metrics.OtpSent(string(purpose))
	}
	slog.Info("otp issued", "identifier", identifier.Mask(id), "purpose", purpose, "send_count", tracker.Count)

	return &Receipt{
		Identifier:     id,
		Purpose:        purpose,
		ExpiresAt:      ch.ExpiresAt,
		ResendAfter:    now.Add(e.cfg.Cooldown),
		RemainingSends: max(e.cfg.ResendLimit-tracker.Count, 0),
	}, nil
}

// Verify checks code against the active challenge. A wrong, missing, expired
// or already-used code yields (false, nil); errors are reserved for invalid
// input, an active block and store failures. Attempt accounting, rewrite and
// deletion happen in one atomic step per call.
func (e *Engine) Verify(ctx context.Context, rawIdentifier, code string, purpose domain.Purpose) (bool, error) {
	if !purpose.Valid() {
		return false, fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrValidation)
	}
	if !codeRe.MatchString(code) {
		return false, fmt.Errorf("otp must be %d digits: %w", codeDigits, domain.ErrValidation)
	}
	id, err := e.normalizer.Canonical(rawIdentifier)
	if err != nil {
		return false, err
	}
	if err := e.checkBlock(ctx, id, purpose); err != nil {
		return false, err
	}

	now := e.now()
	var outcome string
	var attempts int
	key := e.challenges.Key(id, string(purpose))
	err = e.challenges.Mutate(ctx, key, func(cur kv.Entry[domain.OtpChallenge]) (kv.Change[domain.OtpChallenge], error) {
		switch {
		case !cur.Exists:
			outcome = OutcomeMissing
			return kv.Change[domain.OtpChallenge]{Skip: true}, nil
		case !now.Before(cur.Value.ExpiresAt):
			outcome = OutcomeExpired
			return kv.Change[domain.OtpChallenge]{Delete: true}, nil
		case cur.Value.Used:
			outcome = OutcomeReused
			return kv.Change[domain.OtpChallenge]{Skip: true}, nil
		}

		ch := cur.Value
		ch.Attempts++
		attempts = ch.Attempts
		if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) == 1 {
			outcome = OutcomeVerified
			ch.Used = true
			// Keep the used record briefly for auditing; it can no longer verify.
			return kv.Change[domain.OtpChallenge]{Value: ch, TTL: e.cfg.AuditGrace}, nil
		}
		if ch.Attempts >= e.cfg.MaxAttempts {
			outcome = OutcomeBlocked
			return kv.Change[domain.OtpChallenge]{Delete: true}, nil
		}
		outcome = OutcomeMismatch
		return kv.Change[domain.OtpChallenge]{Value: ch}, nil
	})
	if err != nil {
		return false, err
	}
	if e.metrics != nil {
		e.metrics.OtpVerified(string(purpose), outcome)
	}

	switch outcome {
	case OutcomeVerified:
		if err := e.resends.Delete(ctx, e.resends.Key(id, string(purpose))); err != nil {
			slog.Warn("failed to clear otp resend tracker", "identifier", identifier.Mask(id), "purpose", purpose, "err", err)
		}
		slog.Info("otp verified", "identifier", identifier.Mask(id), "purpose", purpose)
		return true, nil
	case OutcomeBlocked:
		// The challenge is already gone; without the marker the identifier
		// would be neither challenged nor blocked.
		if err := e.writeBlock(ctx, id, purpose); err != nil {
			slog.Error("security: otp attempts exhausted but block not recorded",
				"identifier", identifier.Mask(id), "purpose", purpose, "attempts", attempts, "err", err)
			return false, err
		}
		slog.Warn("otp attempts exhausted, identifier blocked",
			"identifier", identifier.Mask(id), "purpose", purpose, "attempts", attempts, "block_for", e.cfg.BlockFor)
	case OutcomeMismatch:
		slog.Info("otp mismatch", "identifier", identifier.Mask(id), "purpose", purpose, "attempts", attempts)
	}
	return false, nil
}

func (e *Engine) writeBlock(ctx context.Context, id string, purpose domain.Purpose) error {
	key := e.blocks.Key(id, string(purpose))
	var err error
	for attempt := 1; attempt <= blockWriteAttempts; attempt++ {
		if err = e.blocks.Set(ctx, key, "1", e.cfg.BlockFor); err == nil {
			return nil
		}
		if attempt == blockWriteAttempts {
			break
		}
		slog.Warn("retrying otp block write", "identifier", identifier.Mask(id), "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * blockRetryDelay):
		}
	}
	return err
}

// Blocked reports the remaining block time for (identifier, purpose), or 0.
func (e *Engine) Blocked(ctx context.Context, rawIdentifier string, purpose domain.Purpose) (time.Duration, error) {
	id, err := e.normalizer.Canonical(rawIdentifier)
	if err != nil {
		return 0, err
	}
	key := e.blocks.Key(id, string(purpose))
	ok, err := e.blocks.Exists(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return e.blocks.TTL(ctx, key)
}

func (e *Engine) checkBlock(ctx context.Context, id string, purpose domain.Purpose) error {
	key := e.blocks.Key(id, string(purpose))
	ok, err := e.blocks.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ttl, err := e.blocks.TTL(ctx, key)
	if err != nil {
		return err
	}
	return domain.Retry(fmt.Errorf("otp for %s: %w", purpose, domain.ErrBlocked), ttl)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
