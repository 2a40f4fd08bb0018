package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware wraps a handler; the rate limiter provides one for /run.
type Middleware func(http.HandlerFunc) http.HandlerFunc

func (h *Handler) Routes(runLimit Middleware) *http.ServeMux {
	if runLimit == nil {
		runLimit = func(next http.HandlerFunc) http.HandlerFunc { return next }
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /run", runLimit(h.Run))
	mux.HandleFunc("POST /submissions/{id}/grade", h.Grade)
	mux.HandleFunc("GET /runtimes", h.Runtimes)
	mux.HandleFunc("GET /runtimes/health", h.RuntimeHealth)

	return mux
}
