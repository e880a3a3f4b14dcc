package middleware

import (
	"log/slog"
	"net/http"
)

// Stage is one gate in front of a handler. Apply either returns the request
// to hand to the next stage (possibly with an enriched context) or an error
// that stops the pipeline.
type Stage interface {
	Name() string
	Apply(r *http.Request) (*http.Request, error)
}

// Pipeline runs the stages in order and writes the mapped error response for
// the first one that rejects the request.
func Pipeline(stages ...Stage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range stages {
				out, err := s.Apply(r)
				if err != nil {
					slog.Debug("request rejected", "stage", s.Name(), "path", r.URL.Path, "err", err)
					writeStageError(w, err)
					return
				}
				r = out
			}
			next.ServeHTTP(w, r)
		})
	}
}
