// Package admin serves the operator surface: Prometheus metrics, an HTTP
// readiness check, the sync history and the gRPC health service.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/signalsfoundry/ephemeris-server/internal/dataset"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Readiness reports whether the dataset is loaded and requests are served.
type Readiness interface {
	Ready() bool
}

// History lists recent sync cycles, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]dataset.Entry, error)
}

// NewMux wires the HTTP endpoints. metrics, ready and history may each be
// nil, which disables /metrics, reports ready, or serves an empty history.
func NewMux(metrics http.Handler, ready Readiness, history History, log logging.Logger) *http.ServeMux {
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/sync/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		entries := []dataset.Entry{}
		if history != nil {
			got, err := history.Recent(r.Context(), limit)
			if err != nil {
				log.Warn(r.Context(), "sync history query failed", logging.Err(err))
				http.Error(w, "history unavailable", http.StatusInternalServerError)
				return
			}
			entries = append(entries, got...)
		}
		writeJSON(w, http.StatusOK, entries)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
