package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// StatusFunc reports the node's current progress. It must be safe to call
// from any goroutine.
type StatusFunc func() Status

// Status is the body of GET /status.
type Status struct {
	HostID        string `json:"host_id"`
	TxnID         int64  `json:"txn_id,omitempty"`
	InProgress    bool   `json:"in_progress"`
	ActiveSites   int    `json:"active_sites"`
	Priority      int    `json:"priority"`
	StreamedBytes int64  `json:"streamed_bytes"`
}

// RouterConfig holds the dependencies of the router.
type RouterConfig struct {
	// Metrics serves GET /metrics. Nil disables the route.
	Metrics http.Handler

	// Status backs GET /status and GET /ready. Nil reports an idle node.
	Status StatusFunc

	Logger *slog.Logger
}

// NewRouter builds the handler for the operational endpoints.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	status := cfg.Status
	if status == nil {
		status = func() Status { return Status{} }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if st := status(); st.TxnID == 0 {
			writeError(w, http.StatusServiceUnavailable, "no snapshot session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status())
	})
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return Chain(mux, RequestID(), Access(logger), Recover(logger))
}
