package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshRepo implements domain.RefreshRepository on refresh_tokens.
type RefreshRepo struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ domain.RefreshRepository = (*RefreshRepo)(nil)

func NewRefreshRepo(pool *pgxpool.Pool, timeout time.Duration) *RefreshRepo {
	return &RefreshRepo{pool: pool, timeout: timeout}
}

func (r *RefreshRepo) FindBySession(ctx context.Context, sessionID string) (*domain.RefreshRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	rec, err := scanRecord(r.pool.QueryRow(ctx, `
		SELECT session_id, user_id, token_hash, ip, issued_at, expires_at, revoked, revoked_at
		FROM refresh_tokens
		WHERE session_id = $1
	`, sessionID))
	if err != nil {
		return nil, mapErr("find refresh token", err)
	}
	return rec, nil
}

func (r *RefreshRepo) Save(ctx context.Context, rec *domain.RefreshRecord) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			session_id, user_id, token_hash, ip, issued_at, expires_at, revoked, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.SessionID, rec.UserID, rec.TokenHash, nullIfEmpty(rec.IP), rec.IssuedAt, rec.ExpiresAt, rec.Revoked, rec.RevokedAt)
	return mapErr("save refresh token", err)
}

// SetRevoked only matches a non-revoked row, so concurrent callers serialise
// on the row lock and the loser sees zero affected rows.
func (r *RefreshRepo) SetRevoked(ctx context.Context, sessionID string, at time.Time) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = $2
		WHERE session_id = $1 AND revoked = false
	`, sessionID, at.UTC())
	if err != nil {
		return mapErr("revoke refresh token", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE session_id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return mapErr("revoke refresh token", err)
	}
	if !exists {
		return fmt.Errorf("refresh record not found: %w", domain.ErrNotFound)
	}
	return domain.ErrAlreadyRevoked
}

func (r *RefreshRepo) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = $2
		WHERE user_id = $1 AND revoked = false
	`, userID, at.UTC())
	if err != nil {
		return 0, mapErr("revoke user refresh tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RefreshRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, mapErr("delete expired refresh tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*domain.RefreshRecord, error) {
	var (
		rec domain.RefreshRecord
		ip  *string
	)
	if err := row.Scan(
		&rec.SessionID,
		&rec.UserID,
		&rec.TokenHash,
		&ip,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
		&rec.RevokedAt,
	); err != nil {
		return nil, err
	}
	rec.IP = deref(ip)
	rec.ExpiresAtUnix = rec.ExpiresAt.Unix()
	return &rec, nil
}
