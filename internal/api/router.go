// Package api – panel administracyjny po HTTP: status, ręczne synchronizacje, podgląd zmian i logu.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/bartek5186/stocksync/internal/reconcile"
	"github.com/bartek5186/stocksync/internal/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Runner – wejścia synchronizacji (reconcile.Runner)
type Runner interface {
	Active() bool
	Start(ctx context.Context, categoryID int64) (string, error)
	RunBatch(ctx context.Context, req reconcile.BatchRequest) (reconcile.BatchProgress, error)
	RunSingleSKU(ctx context.Context, sku string) (*changelog.Entry, error)
	LastResult(ctx context.Context) (reconcile.Result, bool)
	Current() (reconcile.Live, bool)
	Pending() *changelog.Pending
	Budget() (remaining int, resetIn time.Duration, ok bool)
}

// ChangeLog – trwały log zmian (changelog.Log)
type ChangeLog interface {
	Recent(ctx context.Context) ([]changelog.Entry, error)
	All(ctx context.Context) ([]changelog.Entry, error)
	Clear(ctx context.Context) error
}

// Scheduler – harmonogram (syncer.Syncer); może go nie być
type Scheduler interface {
	Status() syncer.Status
}

type Options struct {
	Token        string
	TriggerRPS   float64 // <= 0 = bez limitu
	TriggerBurst int
	BatchSize    int // domyślny rozmiar batcha, gdy klient nie poda
	// BaseContext – życie przebiegów w tle (nie kończą się razem z żądaniem)
	BaseContext context.Context
}

type Server struct {
	log     zerolog.Logger
	runner  Runner
	changes ChangeLog
	sched   Scheduler
	opts    Options
	limiter *rate.Limiter
}

func New(log zerolog.Logger, runner Runner, changes ChangeLog, sched Scheduler, opts Options) *Server {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	s := &Server{
		log:     log.With().Str("component", "api").Logger(),
		runner:  runner,
		changes: changes,
		sched:   sched,
		opts:    opts,
	}
	if opts.TriggerRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.TriggerRPS), max(opts.TriggerBurst, 1))
	}
	return s
}

// Router – wszystkie trasy panelu
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithLogging(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(WithToken(s.opts.Token))
		r.Get("/status", s.status)
		r.Get("/changes", s.pendingChanges)
		r.Get("/logs", s.logs)
		r.Delete("/logs", s.clearLogs)

		r.Route("/sync", func(r chi.Router) {
			r.Use(WithThrottle(s.limiter))
			r.Post("/full", s.syncFull)
			r.Post("/batch", s.syncBatch)
			r.Post("/sku", s.syncSKU)
			r.Post("/category", s.syncCategory)
		})
	})
	return r
}

// ListenAndServe – serwer do zamknięcia ctx
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("API: nasłuchuję")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.log.Info().Msg("API: zatrzymane")
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError – błąd w formacie {"error": ..., "details": ...}
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
