package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
)

type fakeStage struct {
	name  string
	err   error
	calls *[]string
}

func (f fakeStage) Name() string { return f.name }

func (f fakeStage) Apply(r *http.Request) (*http.Request, error) {
	*f.calls = append(*f.calls, f.name)
	if f.err != nil {
		return nil, f.err
	}
	return r, nil
}

func TestPipeline_RunsInOrderAndStopsAtFirstRejection(t *testing.T) {
	var calls []string
	p := Pipeline(
		fakeStage{name: "a", calls: &calls},
		fakeStage{name: "b", err: domain.ErrForbidden, calls: &calls},
		fakeStage{name: "c", calls: &calls},
	)
	reached := false
	rr := serve(p, func(w http.ResponseWriter, _ *http.Request) { reached = true }, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.False(t, reached)
}

func TestPipeline_AllPass(t *testing.T) {
	var calls []string
	p := Pipeline(fakeStage{name: "a", calls: &calls}, fakeStage{name: "b", calls: &calls})
	rr := serve(p, okHandler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestWriteStageError(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		retryAfter string
	}{
		{domain.Retry(domain.ErrRateLimited, 1500*time.Millisecond), http.StatusTooManyRequests, "2"},
		{domain.Retry(domain.ErrCooldown, 0), http.StatusTooManyRequests, "1"},
		{domain.Retry(domain.ErrBlocked, 15*time.Minute), http.StatusTooManyRequests, "900"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, ""},
		{domain.ErrReplayDetected, http.StatusUnauthorized, ""},
		{domain.ErrForbidden, http.StatusForbidden, ""},
		{domain.ErrDependencyUnavailable, http.StatusServiceUnavailable, ""},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, c := range cases {
		t.Run(c.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeStageError(rr, c.err)
			assert.Equal(t, c.status, rr.Code)
			assert.Equal(t, c.retryAfter, rr.Header().Get("Retry-After"))
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}
}
