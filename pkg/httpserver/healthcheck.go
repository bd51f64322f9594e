package httpserver

import (
	"context"
	"net/http"
	"time"
)

// Probe checks one dependency and returns an error when it is unhealthy.
type Probe func(ctx context.Context) error

// HealthHandler runs the given probes and reports 200 when all pass or 503
// when any fails. Probes run sequentially with a shared 10s budget.
func HealthHandler(probes ...Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		for _, probe := range probes {
			if probe == nil {
				continue
			}
			if err := probe(ctx); err != nil {
				http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
