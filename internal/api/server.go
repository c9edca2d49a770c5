// Package api serves committed reserving results over HTTP and accepts
// recalculation requests.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/jobs"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/reserve"
	"github.com/sells-group/ibnr-engine/internal/store"
)

// Reader is the read side of the store the API exposes.
type Reader interface {
	GetReserveEstimates(ctx context.Context, asOf model.Period, category string) ([]model.ReserveEstimate, error)
	GetFundingStatus(ctx context.Context, asOf model.Period, category string) ([]model.FundingStatus, error)
	GetTriangle(ctx context.Context, category string) (*model.LossTriangle, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Recalculator runs a reserving run in-process.
type Recalculator interface {
	Recalculate(ctx context.Context, req reserve.RunRequest) (*reserve.RunResult, error)
}

// Enqueuer starts recalculations asynchronously.
type Enqueuer interface {
	EnqueueRecalculate(ctx context.Context, req reserve.RunRequest) (*jobs.Enqueued, error)
}

// Notifier sends alerts for a finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run *model.Run) int
}

// Deps are the collaborators behind the routes. Engine, Queue and Notifier
// are optional; a recalculation path without its collaborator answers 503.
type Deps struct {
	Store    Reader
	Engine   Recalculator
	Queue    Enqueuer
	Notifier Notifier
}

// Server holds the handler dependencies.
type Server struct {
	store    Reader
	engine   Recalculator
	queue    Enqueuer
	notifier Notifier
	grain    model.Grain
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, cfg config.ServerConfig, grain model.Grain) http.Handler {
	s := &Server{
		store:    deps.Store,
		engine:   deps.Engine,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		grain:    grain,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(newIPRateLimiter(cfg.RateLimit, cfg.RateBurst).middleware)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/estimates", s.estimates)
			r.Get("/funding", s.funding)
			r.Get("/triangles/{category}", s.triangle)
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{id}", s.getRun)
		})
		r.Post("/recalculate", s.recalculate)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNoCommittedRun):
		writeError(w, http.StatusNotFound, "no committed run for the requested period")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		zap.L().Error("api: store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
