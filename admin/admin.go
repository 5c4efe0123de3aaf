// Package admin serves the HTTP health and stats endpoints.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/stats"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StateFunc reports the lifecycle state name and whether the server is
// accepting connections.
type StateFunc func() (state string, running bool)

type healthResponse struct {
	State string `json:"state"`
}

// NewRouter returns the admin routes:
//
//	GET /healthz  200 while running, 503 otherwise, {"state": "..."}
//	GET /stats    JSON stats snapshot
func NewRouter(state StateFunc, st *stats.Stats, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		name, running := state()
		code := http.StatusOK
		if !running {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, healthResponse{State: name})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, st.Snapshot())
	})

	return r
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Debug("admin request",
				logger.Field{Key: "method", Value: r.Method},
				logger.Field{Key: "path", Value: r.URL.Path},
				logger.Field{Key: "status", Value: ww.Status()},
				logger.Field{Key: "elapsed_ms", Value: time.Since(start).Milliseconds()},
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
