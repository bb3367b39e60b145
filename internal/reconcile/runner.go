// internal/reconcile/runner.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

var (
	ErrRunActive = errors.New("reconcile: a run is already in progress")
	ErrNotLeaf   = errors.New("reconcile: record is a variant group, sync its variants")
)

const (
	DefaultPageSize = 50
	LastRunKey      = "last_run"
)

type Scope string

const (
	ScopeFull     Scope = "full"
	ScopeCategory Scope = "category"
)

// SummaryStore – gdzie zapisać podsumowanie ostatniego przebiegu (db.Handle)
type SummaryStore interface {
	PutJSON(ctx context.Context, k string, v any) error
	GetJSON(ctx context.Context, k string, out any) (bool, error)
}

// Result – podsumowanie pełnego przebiegu
type Result struct {
	RunID      string            `json:"run_id"`
	Scope      Scope             `json:"scope"`
	CategoryID int64             `json:"category_id,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Processed  int               `json:"processed"`
	Changes    int               `json:"changes"`
	Failures   int               `json:"failures"`
	Total      int               `json:"total"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Entries    []changelog.Entry `json:"-"`
	Warnings   *multierror.Error `json:"-"`
}

// Live – stan trwającego przebiegu dla panelu (HTTP, REPL, tray)
type Live struct {
	RunID      string    `json:"run_id"`
	Scope      Scope     `json:"scope"`
	CategoryID int64     `json:"category_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Progress
	Percent int    `json:"percent"`
	Status  string `json:"status"`
}

type RunnerOptions struct {
	PageSize int
	Now      func() time.Time
}

// Runner – punkt wejścia: pełny przebieg, przebieg po kategorii, batch, pojedynczy SKU.
// Na raz może trwać tylko jeden przebieg.
type Runner struct {
	log      zerolog.Logger
	coord    *Coordinator
	store    catalog.Store
	changes  ChangeRecorder
	pending  *changelog.Pending
	summary  SummaryStore
	pageSize int
	now      func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.Mutex // last, live
	last *Result
	live *Live
}

func NewRunner(log zerolog.Logger, coord *Coordinator, summary SummaryStore, opts RunnerOptions) *Runner {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = coord.now
	}
	return &Runner{
		log:      log.With().Str("component", "runner").Logger(),
		coord:    coord,
		store:    coord.store,
		changes:  coord.changes,
		pending:  coord.pending,
		summary:  summary,
		pageSize: opts.PageSize,
		now:      opts.Now,
	}
}

func (r *Runner) acquire() error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	return nil
}

func (r *Runner) release() { r.running.Store(false) }

// Active – czy trwa jakiś przebieg
func (r *Runner) Active() bool { return r.running.Load() }

// FullRun – synchronicznie przechodzi cały widoczny katalog stronami po PageSize
func (r *Runner) FullRun(ctx context.Context, progress ProgressFunc) (Result, error) {
	if err := r.acquire(); err != nil {
		return Result{}, err
	}
	defer r.release()
	return r.run(ctx, uuid.NewString(), ScopeFull, 0, progress)
}

// RunCategory – jak FullRun, zawężony do jednej kategorii
func (r *Runner) RunCategory(ctx context.Context, categoryID int64, progress ProgressFunc) (Result, error) {
	if categoryID <= 0 {
		return Result{}, fmt.Errorf("%w: category id %d", ErrInvalidBatch, categoryID)
	}
	if err := r.acquire(); err != nil {
		return Result{}, err
	}
	defer r.release()
	return r.run(ctx, uuid.NewString(), ScopeCategory, categoryID, progress)
}

// Start – pełny przebieg w tle (HTTP, scheduler). Blokadę bierzemy od razu,
// więc drugi Start dostanie ErrRunActive zanim pierwszy zdąży ruszyć.
func (r *Runner) Start(ctx context.Context, categoryID int64) (string, error) {
	if err := r.acquire(); err != nil {
		return "", err
	}
	scope := ScopeFull
	if categoryID > 0 {
		scope = ScopeCategory
	}
	runID := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		if _, err := r.run(ctx, runID, scope, categoryID, nil); err != nil {
			r.log.Error().Err(err).Str("run_id", runID).Msg("background run failed")
		}
	}()
	return runID, nil
}

// Wait czeka na przebiegi uruchomione przez Start
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) run(ctx context.Context, runID string, scope Scope, categoryID int64, progress ProgressFunc) (Result, error) {
	res := Result{RunID: runID, Scope: scope, CategoryID: categoryID, StartedAt: r.now()}
	f := batchFilter(categoryID)
	log := r.log.With().Str("run_id", runID).Str("scope", string(scope)).Logger()
	log.Info().Int64("category_id", categoryID).Msg("sync start")

	var prog Progress
	var runErr error
	defer r.clearLive()

	total, err := r.store.CountLeaves(ctx, f)
	if err != nil {
		runErr = fmt.Errorf("%w: count: %v", ErrListing, err)
	}
	prog.Total = total
	r.setLive(res, prog)

	for index := 0; runErr == nil; index++ {
		page, err := r.coord.processPage(ctx, f, cursor{offset: index * r.pageSize, size: r.pageSize}, Unbounded, runID)
		res.Entries = append(res.Entries, page.entries...)
		for _, w := range page.warnings {
			res.Warnings = multierror.Append(res.Warnings, w)
		}
		prog.Batch = index
		prog.Processed += page.processed
		prog.Changes += page.changes
		prog.Failures += page.failures
		recordBatch(ctx, page)
		r.setLive(res, prog)
		if progress != nil {
			progress(prog)
		}
		if err != nil {
			runErr = err
			break
		}
		if page.rawLen < r.pageSize {
			break
		}
	}

	res.FinishedAt = r.now()
	res.Processed, res.Changes, res.Failures, res.Total = prog.Processed, prog.Changes, prog.Failures, prog.Total
	res.Status = prog.Final()
	if runErr != nil {
		res.Error = runErr.Error()
		res.Status = "Synchronization failed: " + runErr.Error()
	}

	// jeden zapis do logu na koniec przebiegu; bufor nadpisany wynikiem
	if r.changes != nil && len(res.Entries) > 0 {
		if err := r.changes.Append(context.WithoutCancel(ctx), res.Entries...); err != nil {
			log.Error().Err(err).Msg("change log append failed")
		}
	}
	if r.pending != nil {
		r.pending.Replace(changelog.SlotRun, changelog.PendingRun{RunID: runID, StartedAt: res.StartedAt, Entries: res.Entries})
	}
	r.remember(context.WithoutCancel(ctx), res)

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Int("processed", res.Processed).
		Int("changes", res.Changes).
		Int("failures", res.Failures).
		Int("total", res.Total).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("sync done")
	return res, runErr
}

// RunBatch – protokół przyrostowy, pod tą samą blokadą co pełny przebieg
func (r *Runner) RunBatch(ctx context.Context, req BatchRequest) (BatchProgress, error) {
	if err := r.acquire(); err != nil {
		return BatchProgress{}, err
	}
	defer r.release()
	return r.coord.RunBatch(ctx, req)
}

// RunSingleSKU – synchronizacja jednego rekordu. nil bez błędu = brak zmian.
func (r *Runner) RunSingleSKU(ctx context.Context, sku string) (*changelog.Entry, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, fmt.Errorf("%w: empty sku", catalog.ErrNotFound)
	}
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.release()

	key, ok, err := r.store.FindBySKU(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("find sku %q: %w", sku, err)
	}
	if !ok {
		return nil, fmt.Errorf("sku %q: %w", sku, catalog.ErrNotFound)
	}
	rec, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get sku %q: %w", sku, err)
	}
	if rec.IsGroup() {
		return nil, fmt.Errorf("sku %q: %w", sku, ErrNotLeaf)
	}

	runID := uuid.NewString()
	var page pageResult
	if err := r.coord.reconcileLeaf(ctx, rec, Unbounded, runID, &page); err != nil {
		return nil, err
	}
	if len(page.warnings) > 0 {
		return nil, page.warnings[0]
	}

	if r.pending != nil {
		r.pending.Replace(changelog.SlotSKU, changelog.PendingRun{RunID: runID, StartedAt: r.now(), Entries: page.entries})
	}
	if len(page.entries) == 0 {
		r.log.Info().Str("sku", sku).Msg("no changes needed")
		return nil, nil
	}
	if r.changes != nil {
		if err := r.changes.Append(ctx, page.entries...); err != nil {
			r.log.Error().Err(err).Msg("change log append failed")
		}
	}
	e := page.entries[0]
	return &e, nil
}

func (r *Runner) setLive(res Result, p Progress) {
	r.mu.Lock()
	r.live = &Live{
		RunID:      res.RunID,
		Scope:      res.Scope,
		CategoryID: res.CategoryID,
		StartedAt:  res.StartedAt,
		Progress:   p,
		Percent:    p.Percent(),
		Status:     p.Status(),
	}
	r.mu.Unlock()
}

func (r *Runner) clearLive() {
	r.mu.Lock()
	r.live = nil
	r.mu.Unlock()
}

// Current – postęp trwającego przebiegu (FullRun, RunCategory, Start)
func (r *Runner) Current() (Live, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		return Live{}, false
	}
	return *r.live, true
}

func (r *Runner) remember(ctx context.Context, res Result) {
	r.mu.Lock()
	cp := res
	r.last = &cp
	r.mu.Unlock()
	if r.summary == nil {
		return
	}
	if err := r.summary.PutJSON(ctx, LastRunKey, res); err != nil {
		r.log.Warn().Err(err).Msg("nie zapisano podsumowania przebiegu")
	}
}

// LastResult – ostatni zakończony przebieg (z pamięci albo z kv po restarcie)
func (r *Runner) LastResult(ctx context.Context) (Result, bool) {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last != nil {
		return *last, true
	}
	if r.summary == nil {
		return Result{}, false
	}
	var res Result
	ok, err := r.summary.GetJSON(ctx, LastRunKey, &res)
	if err != nil || !ok {
		return Result{}, false
	}
	return res, true
}

// Pending – bufor wyników dla panelu
func (r *Runner) Pending() *changelog.Pending { return r.pending }

// Limiter budget do statusu
func (r *Runner) Budget() (remaining int, resetIn time.Duration, ok bool) {
	if r.coord.limiter == nil {
		return 0, 0, false
	}
	remaining, resetIn = r.coord.limiter.Budget()
	return remaining, resetIn, true
}
