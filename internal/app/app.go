// Package app składa całą aplikację z configu: baza, katalog, limiter, upstream, runner, harmonogram, API.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bartek5186/stocksync/internal/api"
	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/changelog"
	conf "github.com/bartek5186/stocksync/internal/config"
	"github.com/bartek5186/stocksync/internal/db"
	"github.com/bartek5186/stocksync/internal/integrations"
	_ "github.com/bartek5186/stocksync/internal/integrations/local"
	_ "github.com/bartek5186/stocksync/internal/integrations/woocommerce"
	"github.com/bartek5186/stocksync/internal/logs"
	"github.com/bartek5186/stocksync/internal/ratelimit"
	"github.com/bartek5186/stocksync/internal/reconcile"
	"github.com/bartek5186/stocksync/internal/syncer"
	"github.com/bartek5186/stocksync/internal/upstream"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const Name = "stocksync"

// Options – skąd brać config i dane
type Options struct {
	Dir        string // katalog danych; pusty = <UserConfigDir>/stocksync
	ConfigPath string // pusty = <Dir>/config.json
	// Logger – gotowy logger (testy); zero = z configu (plik + konsola)
	Logger *zerolog.Logger
	// HTTPClient – klient dla upstreamu i backendów katalogu; nil = z timeoutem z configu
	HTTPClient *http.Client
}

type App struct {
	Log     zerolog.Logger
	Dir     string
	CfgPath string

	DB       *db.Handle
	Catalog  catalog.Store
	Limiter  *ratelimit.Limiter
	Upstream *upstream.Client
	Changes  *changelog.Log
	Pending  *changelog.Pending
	Runner   *reconcile.Runner
	Syncer   *syncer.Syncer

	mu      sync.Mutex // cfg
	cfg     *conf.Config
	closers []io.Closer
}

// DefaultDir – katalog danych aplikacji (logi, config, baza)
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	p := filepath.Join(base, Name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

// Open wczytuje (albo tworzy) config i buduje wszystkie komponenty
func Open(opts Options) (*App, error) {
	dir := opts.Dir
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("katalog aplikacji: %w", err)
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("katalog aplikacji: %w", err)
	}
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, "config.json")
	}

	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &App{Dir: dir, CfgPath: cfgPath, cfg: cfg}
	if opts.Logger != nil {
		a.Log = *opts.Logger
	} else {
		l, closer, err := logs.New(logs.Options{File: a.LogPath(), Console: cfg.Log.Console, Level: cfg.Log.Level})
		if err != nil {
			return nil, err
		}
		a.Log = l
		a.closers = append(a.closers, closer)
	}
	if firstRun {
		a.Log.Info().Msgf("Utworzono domyślną konfigurację: %s", cfgPath)
	}

	if err := a.build(cfg, opts.HTTPClient); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *conf.Config, hc *http.Client) error {
	h, err := openDB(cfg.DB, a.Dir)
	if err != nil {
		return err
	}
	a.DB = h
	a.closers = append(a.closers, h)
	if err := h.Migrate(); err != nil {
		return fmt.Errorf("DB migrate: %w", err)
	}
	a.Log.Info().Str("driver", h.Driver).Msg("DB ready")

	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(cfg.Upstream.TimeoutSec) * time.Second}
	}
	deps := integrations.Deps{DB: h, HTTP: hc}

	store, err := integrations.OpenCatalog(a.Log, cfg.Catalog.Backend, cfg.Catalog.Options, deps)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	a.Catalog = store

	a.Limiter = ratelimit.New(cfg.Limiter())
	a.Upstream = upstream.New(cfg.UpstreamClient(), cfg.Credentials(), a.Limiter, a.Log, upstream.WithHTTPClient(hc))
	a.Changes = changelog.NewLog(h,
		changelog.WithMaxEntries(cfg.ChangeLog.MaxEntries),
		changelog.WithRetention(time.Duration(cfg.ChangeLog.RetentionDays)*24*time.Hour),
	)
	a.Pending = changelog.NewPending(time.Duration(cfg.ChangeLog.PendingTTLMinutes) * time.Minute)

	coord := reconcile.NewCoordinator(a.Log, store, a.Upstream, a.Limiter, a.Changes, a.Pending,
		reconcile.CoordinatorOptions{MaxWait: cfg.MaxWait()})
	a.Runner = reconcile.NewRunner(a.Log, coord, h, reconcile.RunnerOptions{PageSize: cfg.Sync.PageSize})
	a.Syncer = syncer.New(a.Log, cfg, deps, a.Runner)
	return nil
}

func openDB(c conf.DBConfig, dir string) (*db.Handle, error) {
	if strings.TrimSpace(c.DSN) != "" {
		return db.Open(c.Driver, c.DSN)
	}
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "sqlite", "sqlite3":
		return db.OpenAt(dir)
	case "sqlite-pure", "glebarez":
		return db.Open("sqlite-pure", filepath.Join(dir, "stocksync.db"))
	default:
		return nil, fmt.Errorf("db: driver %q wymaga dsn", c.Driver)
	}
}

// LogPath – plik logów (log.file albo <Dir>/app.log)
func (a *App) LogPath() string {
	if p := a.Config().Log.File; p != "" {
		return p
	}
	return filepath.Join(a.Dir, "app.log")
}

// Config – bieżąca konfiguracja
func (a *App) Config() *conf.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Reload – ponowne wczytanie config.json. Harmonogram bierze nowy interwał od razu,
// zmiany bazy, katalogu i limitera wymagają restartu.
func (a *App) Reload() error {
	cfg, _, err := conf.LoadOrCreate(a.CfgPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.Syncer.UpdateConfig(cfg)
	a.Log.Info().Msg("Konfiguracja przeładowana")
	return nil
}

// StartScheduler – harmonogram tylko gdy auto sync włączony w configu
func (a *App) StartScheduler(ctx context.Context) error {
	if !a.Config().Sync.AutoEnabled {
		a.Log.Info().Msg("auto sync wyłączony – harmonogram nie startuje")
		return nil
	}
	return a.Syncer.Start(ctx)
}

// API – serwer panelu; przebiegi w tle żyją tyle co ctx
func (a *App) API(ctx context.Context) *api.Server {
	cfg := a.Config()
	return api.New(a.Log, a.Runner, a.Changes, a.Syncer, api.Options{
		Token:        cfg.HTTP.Token,
		TriggerRPS:   cfg.HTTP.TriggerRPS,
		TriggerBurst: cfg.HTTP.TriggerBurst,
		BatchSize:    cfg.Sync.BatchSize,
		BaseContext:  ctx,
	})
}

// Serve – API + harmonogram do zamknięcia ctx
func (a *App) Serve(ctx context.Context) error {
	if err := a.StartScheduler(ctx); err != nil {
		return err
	}
	defer a.Syncer.Stop()
	err := a.API(ctx).ListenAndServe(ctx, a.Config().HTTP.Addr)
	a.Runner.Wait()
	return err
}

// Close – zatrzymuje harmonogram i zamyka bazę oraz plik logów
func (a *App) Close() error {
	if a.Syncer != nil {
		a.Syncer.Stop()
	}
	if a.Runner != nil {
		a.Runner.Wait()
	}
	var merr *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	a.closers = nil
	return merr.ErrorOrNil()
}
