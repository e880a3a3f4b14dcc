// Package memory holds process-local credential stores for development and tests.
// They honour the same contracts as the DynamoDB and Postgres stores.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-auth-nosql/internal/domain"
)

type UserRepo struct {
	mu           sync.RWMutex
	byID         map[string]*domain.User
	byIdentifier map[string]string
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[string]*domain.User{}, byIdentifier: map[string]string{}}
}

func (r *UserRepo) FindByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentifier[identifier]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return cloneUser(r.byID[id]), nil
}

func (r *UserRepo) Get(_ context.Context, userID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := identifierKeys(u)
	for _, k := range keys {
		if _, taken := r.byIdentifier[k]; taken {
			return fmt.Errorf("identifier already registered: %w", domain.ErrConflict)
		}
	}
	if _, taken := r.byID[u.UserID]; taken {
		return fmt.Errorf("user id already exists: %w", domain.ErrConflict)
	}
	r.byID[u.UserID] = cloneUser(u)
	for _, k := range keys {
		r.byIdentifier[k] = u.UserID
	}
	return nil
}

func (r *UserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return r.update(userID, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (r *UserRepo) MarkVerified(_ context.Context, userID, identifier string) error {
	return r.update(userID, func(u *domain.User) {
		if strings.Contains(identifier, "@") {
			u.EmailVerified = true
		} else {
			u.PhoneVerified = true
		}
	})
}

func (r *UserRepo) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	return r.update(userID, func(u *domain.User) { t := at; u.LastLoginAt = &t })
}

func (r *UserRepo) update(userID string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
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

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
