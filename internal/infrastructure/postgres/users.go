package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/identifier"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `
	u.user_id, u.identifier, u.email, u.phone, u.password_hash, u.roles,
	u.provider, u.provider_subject, u.email_verified, u.phone_verified,
	u.status, u.last_login_at, u.created_at, u.updated_at`

// UserRepo implements domain.UserRepository on the users and
// user_identifiers tables.
type UserRepo struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepo(pool *pgxpool.Pool, timeout time.Duration) *UserRepo {
	return &UserRepo{pool: pool, timeout: timeout}
}

func (r *UserRepo) FindByIdentifier(ctx context.Context, ident string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		SELECT`+userColumns+`
		FROM user_identifiers i
		JOIN users u ON u.user_id = i.user_id
		WHERE i.identifier = $1
	`, ident)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapErr("find user", err)
	}
	return u, nil
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		SELECT`+userColumns+`
		FROM users u
		WHERE u.user_id = $1
	`, userID)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapErr("get user", err)
	}
	return u, nil
}

// Create inserts the user and its identifier rows in one transaction. The
// identifier primary key turns a duplicate email or phone into ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (
				user_id, identifier, email, phone, password_hash, roles,
				provider, provider_subject, email_verified, phone_verified,
				status, last_login_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, u.UserID, u.Identifier, nullIfEmpty(u.Email), nullIfEmpty(u.Phone), nullIfEmpty(u.PasswordHash),
			u.Roles, u.Provider, nullIfEmpty(u.ProviderSubject), u.EmailVerified, u.PhoneVerified,
			u.Status, u.LastLoginAt, u.CreatedAt, u.UpdatedAt)
		if err != nil {
			return err
		}
		for _, ident := range identifierKeys(u) {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_identifiers (identifier, user_id) VALUES ($1, $2)`, ident, u.UserID); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr("create user", err)
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.exec(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE user_id = $1`, userID, passwordHash)
}

func (r *UserRepo) MarkVerified(ctx context.Context, userID, ident string) error {
	q := `UPDATE users SET phone_verified = true, updated_at = now() WHERE user_id = $1`
	if identifier.IsEmail(ident) {
		q = `UPDATE users SET email_verified = true, updated_at = now() WHERE user_id = $1`
	}
	return r.exec(ctx, "mark verified", q, userID)
}

func (r *UserRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, "touch last login",
		`UPDATE users SET last_login_at = $2, updated_at = now() WHERE user_id = $1`, userID, at.UTC())
}

func (r *UserRepo) exec(ctx context.Context, op, q string, args ...any) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: user not found: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var email, phone, passwordHash, providerSubject *string
	err := row.Scan(
		&u.UserID,
		&u.Identifier,
		&email,
		&phone,
		&passwordHash,
		&u.Roles,
		&u.Provider,
		&providerSubject,
		&u.EmailVerified,
		&u.PhoneVerified,
		&u.Status,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = deref(email)
	u.Phone = deref(phone)
	u.PasswordHash = deref(passwordHash)
	u.ProviderSubject = deref(providerSubject)
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// identifierKeys lists every identifier the user can be found by.
func identifierKeys(u *domain.User) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range []string{u.Identifier, u.Email, u.Phone} {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
