package domain

import (
	"context"
	"time"
)

// UserRepository is the durable store of accounts. Implementations must wrap
// transport and timeout failures in ErrDependencyUnavailable and report a
// plain miss as ErrNotFound.
type UserRepository interface {
	// FindByIdentifier looks up a user by canonical email or phone.
	// The identifier must already be normalised by the caller.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	Get(ctx context.Context, userID string) (*User, error)
	// Create inserts u. Returns ErrConflict if the identifier is taken.
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	// MarkVerified sets the verification flag of the channel the identifier
	// belongs to (email or phone).
	MarkVerified(ctx context.Context, userID, identifier string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RefreshRepository stores refresh records. All revocation methods are
// conditional so that concurrent rotations of one token serialise here.
type RefreshRepository interface {
	// FindBySession reads the record keyed by sessionID with read-your-writes
	// consistency, whatever its revocation state. A miss is ErrNotFound.
	// Callers check Active and compare TokenHash themselves.
	FindBySession(ctx context.Context, sessionID string) (*RefreshRecord, error)
	Save(ctx context.Context, r *RefreshRecord) error
	// SetRevoked flips revoked from false to true. If the record is already
	// revoked it returns ErrAlreadyRevoked and changes nothing.
	SetRevoked(ctx context.Context, sessionID string, at time.Time) error
	// RevokeAllForUser revokes every non-revoked record of the user and
	// returns how many were changed.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
	// DeleteExpired removes records whose expiry is before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}
