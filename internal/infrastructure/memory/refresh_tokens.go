package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-auth-nosql/internal/domain"
)

type RefreshRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.RefreshRecord
}

var _ domain.RefreshRepository = (*RefreshRepo)(nil)

func NewRefreshRepo() *RefreshRepo {
	return &RefreshRepo{byID: map[string]*domain.RefreshRecord{}}
}

func (r *RefreshRepo) FindBySession(_ context.Context, sessionID string) (*domain.RefreshRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("refresh record not found: %w", domain.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (r *RefreshRepo) Save(_ context.Context, rec *domain.RefreshRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[rec.SessionID]; exists {
		return fmt.Errorf("refresh record %s exists: %w", rec.SessionID, domain.ErrConflict)
	}
	r.byID[rec.SessionID] = cloneRecord(rec)
	return nil
}

func (r *RefreshRepo) SetRevoked(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[sessionID]
	if !ok {
		return fmt.Errorf("refresh record not found: %w", domain.ErrNotFound)
	}
	if rec.Revoked {
		return domain.ErrAlreadyRevoked
	}
	rec.Revoked = true
	t := at
	rec.RevokedAt = &t
	return nil
}

func (r *RefreshRepo) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.byID {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *RefreshRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.byID {
		if rec.ExpiresAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func cloneRecord(rec *domain.RefreshRecord) *domain.RefreshRecord {
	c := *rec
	if rec.RevokedAt != nil {
		t := *rec.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
