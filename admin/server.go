package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/originpool/httpclient/observability"
	"github.com/originpool/httpclient/pool"
)

// NewRouter returns the admin HTTP surface: health, Prometheus metrics,
// and a debug view/drain control over every pool the manager knows
// about. Middleware chain mirrors the teacher's router: request id,
// panic recovery, then structured request logging.
func NewRouter(appLogger zerolog.Logger, manager *pool.Manager, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(appLogger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"httpclient-poold"}`))
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	r.Route("/debug/pools", func(r chi.Router) {
		r.Get("/", listPools(manager))
		r.Get("/{origin}", getPool(manager))
		r.Post("/{origin}/drain", drainPool(manager))
	})

	return r
}

func listPools(manager *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Stats())
	}
}

func getPool(manager *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := chi.URLParam(r, "origin")
		stats, ok := manager.Stats()[origin]
		if !ok {
			http.Error(w, `{"error":"unknown_origin"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func drainPool(manager *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := chi.URLParam(r, "origin")
		if !manager.Drain(origin) {
			http.Error(w, `{"error":"unknown_origin"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("admin request completed")
		})
	}
}
