// internal/reconcile/coordinator.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/bartek5186/stocksync/internal/ratelimit"
	"github.com/bartek5186/stocksync/internal/upstream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Unbounded – bez limitu czekania na budżet (pełny przebieg czeka kooperacyjnie)
const Unbounded time.Duration = -1

const DefaultBatchSize = 10

var (
	ErrListing      = errors.New("reconcile: catalog listing failed")
	ErrInvalidBatch = errors.New("reconcile: invalid batch request")
)

// Fetcher – źródło prawdy (upstream.Client)
type Fetcher interface {
	Fetch(ctx context.Context, sku string) (upstream.Record, error)
}

// ChangeRecorder – trwały log zmian (changelog.Log)
type ChangeRecorder interface {
	Append(ctx context.Context, entries ...changelog.Entry) error
}

// BatchRequest – jedno wywołanie protokołu przyrostowego.
// Skip pomija początek strony przy wznowieniu odroczonego batcha,
// SkipLeaves – warianty rekordu Skip, które już przeszły.
type BatchRequest struct {
	Index      int    `json:"batch"`
	Size       int    `json:"batch_size"`
	Skip       int    `json:"skip"`
	SkipLeaves int    `json:"skip_leaves,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	CategoryID int64  `json:"category_id,omitempty"`
}

// BatchProgress – wynik jednego batcha. Total tylko dla pierwszego batcha.
type BatchProgress struct {
	RunID      string            `json:"run_id"`
	BatchIndex int               `json:"batch"`
	Processed  int               `json:"processed"`
	Changes    int               `json:"changes_count"`
	Failures   int               `json:"failures"`
	Total      *int              `json:"total,omitempty"`
	More       bool              `json:"more"`
	NextBatch  *int              `json:"next_batch"`
	NextSkip   int               `json:"next_skip,omitempty"`
	NextLeaves int               `json:"next_skip_leaves,omitempty"`
	Deferred   bool              `json:"deferred,omitempty"`
	RetryAfter time.Duration     `json:"-"`
	Entries    []changelog.Entry `json:"changes"`
}

// RetryAfterSeconds – dla klienta HTTP (zaokrąglone w górę)
func (p BatchProgress) RetryAfterSeconds() int {
	if p.RetryAfter <= 0 {
		return 0
	}
	return int((p.RetryAfter + time.Second - 1) / time.Second)
}

type CoordinatorOptions struct {
	// MaxWait – ile batch może czekać na budżet limitera zanim się odroczy
	MaxWait time.Duration
	Now     func() time.Time
}

type Coordinator struct {
	log     zerolog.Logger
	store   catalog.Store
	fetch   Fetcher
	limiter *ratelimit.Limiter // nil = bez planowania budżetu
	writer  *Writer
	changes ChangeRecorder
	pending *changelog.Pending
	maxWait time.Duration
	now     func() time.Time
	tracer  trace.Tracer
}

func NewCoordinator(
	log zerolog.Logger,
	store catalog.Store,
	fetch Fetcher,
	limiter *ratelimit.Limiter,
	changes ChangeRecorder,
	pending *changelog.Pending,
	opts CoordinatorOptions,
) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		log:     log.With().Str("component", "coordinator").Logger(),
		store:   store,
		fetch:   fetch,
		limiter: limiter,
		writer:  NewWriter(store),
		changes: changes,
		pending: pending,
		maxWait: opts.MaxWait,
		now:     opts.Now,
		tracer:  otel.Tracer("github.com/bartek5186/stocksync/internal/reconcile"),
	}
}

func batchFilter(categoryID int64) catalog.Filter {
	f := catalog.VisibleFilter()
	f.CategoryID = categoryID
	return f
}

// RunBatch przetwarza jedną stronę katalogu (offset Index*Size).
// Serwer nie trzyma stanu między wywołaniami – cały stan wraca w BatchProgress.
func (c *Coordinator) RunBatch(ctx context.Context, req BatchRequest) (BatchProgress, error) {
	if req.Size <= 0 {
		req.Size = DefaultBatchSize
	}
	if req.Index < 0 || req.Skip < 0 || req.Skip > req.Size || req.SkipLeaves < 0 {
		return BatchProgress{}, fmt.Errorf("%w: batch %d skip %d", ErrInvalidBatch, req.Index, req.Skip)
	}
	// RunID w żądaniu = kontynuacja przebiegu, nawet gdy wznawiamy od rekordu 0 batcha 0
	first := req.RunID == "" && req.Index == 0 && req.Skip == 0 && req.SkipLeaves == 0
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	ctx, span := c.tracer.Start(ctx, "reconcile.batch", trace.WithAttributes(
		attribute.Int("batch.index", req.Index),
		attribute.Int("batch.size", req.Size),
		attribute.Int("batch.skip", req.Skip),
	))
	defer span.End()

	f := batchFilter(req.CategoryID)
	out := BatchProgress{RunID: req.RunID, BatchIndex: req.Index}

	if first {
		if c.pending != nil {
			c.pending.Reset(changelog.SlotRun, req.RunID, c.now())
		}
		total, err := c.store.CountLeaves(ctx, f)
		if err != nil {
			return out, fmt.Errorf("%w: count: %v", ErrListing, err)
		}
		out.Total = &total
	}

	cur := cursor{offset: req.Index * req.Size, size: req.Size, skip: req.Skip, skipLeaves: req.SkipLeaves}
	res, err := c.processPage(ctx, f, cur, c.maxWait, req.RunID)
	out.Processed = res.processed
	out.Changes = res.changes
	out.Failures = res.failures
	out.Entries = res.entries

	c.record(ctx, changelog.SlotRun, res.entries)
	recordBatch(ctx, res)

	if err != nil {
		span.RecordError(err)
		return out, err
	}

	switch {
	case res.deferred:
		out.Deferred = true
		out.RetryAfter = res.retryAfter
		out.More = true
		next := req.Index
		out.NextBatch = &next
		out.NextSkip = res.resumeAt
		out.NextLeaves = res.resumeLeaf
	case res.rawLen >= req.Size:
		out.More = true
		next := req.Index + 1
		out.NextBatch = &next
	}

	span.SetAttributes(
		attribute.Int("batch.processed", out.Processed),
		attribute.Int("batch.changes", out.Changes),
		attribute.Bool("batch.deferred", out.Deferred),
	)
	c.log.Info().
		Str("run_id", req.RunID).
		Int("batch", req.Index).
		Int("processed", out.Processed).
		Int("changes", out.Changes).
		Int("failures", out.Failures).
		Bool("more", out.More).
		Bool("deferred", out.Deferred).
		Msg("batch done")
	return out, nil
}

// record – zmiany z batcha do logu i do bufora przebiegu
func (c *Coordinator) record(ctx context.Context, slot changelog.Slot, entries []changelog.Entry) {
	if len(entries) == 0 {
		return
	}
	if c.changes != nil {
		if err := c.changes.Append(ctx, entries...); err != nil {
			c.log.Error().Err(err).Int("entries", len(entries)).Msg("change log append failed")
		}
	}
	if c.pending != nil {
		c.pending.Add(slot, entries...)
	}
}

type pageResult struct {
	rawLen     int
	processed  int
	changes    int
	failures   int
	entries    []changelog.Entry
	warnings   []error
	deferred   bool
	retryAfter time.Duration
	resumeAt   int
	resumeLeaf int
}

// cursor – pozycja w katalogu: strona (offset/size) i miejsce wznowienia w niej
type cursor struct {
	offset     int
	size       int
	skip       int
	skipLeaves int
}

// deferral – batch musi oddać sterowanie, rekord do powtórki
type deferral struct {
	retryAfter time.Duration
}

func (d *deferral) Error() string { return fmt.Sprintf("deferred for %s", d.retryAfter) }

// processPage – wspólne jądro batcha i pełnego przebiegu
func (c *Coordinator) processPage(ctx context.Context, f catalog.Filter, cur cursor, maxWait time.Duration, runID string) (pageResult, error) {
	var res pageResult

	page, err := c.store.List(ctx, f, cur.offset, cur.size)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrListing, err)
	}
	res.rawLen = len(page)

	for i := cur.skip; i < len(page); i++ {
		rec := page[i]
		// backend mógł zwrócić rekordy spoza filtra – liczą się tylko do paginacji
		if !f.Allows(rec.Status) {
			continue
		}

		leaves := []catalog.Record{rec}
		if rec.IsGroup() {
			kids, err := c.store.Children(ctx, rec, f)
			if err != nil {
				c.log.Warn().Err(err).Int64("id", rec.ID).Msg("nie mogę pobrać wariantów – pomijam")
				continue
			}
			leaves = leaves[:0]
			for _, k := range kids {
				if f.Allows(k.Status) {
					leaves = append(leaves, k)
				}
			}
		}

		done := 0
		if i == cur.skip && cur.skipLeaves > 0 {
			done = min(cur.skipLeaves, len(leaves))
		}

		if wait, short := c.budgetShort(countSKUs(leaves[done:]), maxWait); short {
			res.deferred, res.retryAfter, res.resumeAt, res.resumeLeaf = true, wait, i, done
			return res, nil
		}

		for ; done < len(leaves); done++ {
			err := c.reconcileLeaf(ctx, leaves[done], maxWait, runID, &res)
			var df *deferral
			if errors.As(err, &df) {
				// wznowienie od tego wariantu
				res.deferred, res.retryAfter, res.resumeAt, res.resumeLeaf = true, df.retryAfter, i, done
				return res, nil
			}
			if err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func countSKUs(recs []catalog.Record) int {
	n := 0
	for _, r := range recs {
		if strings.TrimSpace(r.SKU) != "" {
			n++
		}
	}
	return n
}

// budgetShort – czy brakuje budżetu na need wywołań, a reset okna jest dalej niż maxWait
func (c *Coordinator) budgetShort(need int, maxWait time.Duration) (time.Duration, bool) {
	if c.limiter == nil || maxWait < 0 || need == 0 {
		return 0, false
	}
	// grupa większa niż całe okno i tak przejdzie w kilku podejściach
	need = min(need, c.limiter.Max())
	remaining, resetIn := c.limiter.Budget()
	if remaining >= need || resetIn <= maxWait {
		return 0, false
	}
	return resetIn, true
}

// reconcileLeaf – fetch → decide → apply → entry dla jednego rekordu.
// Błędy per rekord są tu pochłaniane; na zewnątrz wychodzi tylko konfiguracja,
// anulowanie kontekstu albo odroczenie.
func (c *Coordinator) reconcileLeaf(ctx context.Context, rec catalog.Record, maxWait time.Duration, runID string, res *pageResult) error {
	sku := strings.TrimSpace(rec.SKU)
	if sku == "" {
		res.processed++
		return nil
	}

	if wait, short := c.budgetShort(1, maxWait); short {
		return &deferral{retryAfter: wait}
	}

	up, err := c.fetch.Fetch(ctx, sku)
	var rl *upstream.RateLimitError
	if errors.As(err, &rl) {
		if maxWait >= 0 && rl.RetryAfter > maxWait {
			return &deferral{retryAfter: rl.RetryAfter}
		}
		c.log.Warn().Str("sku", sku).Dur("wait", rl.RetryAfter).Msg("upstream rate limit – czekam pełne okno")
		if err := c.sleep(ctx, rl.RetryAfter); err != nil {
			return err
		}
		up, err = c.fetch.Fetch(ctx, sku)
	}
	if err != nil {
		switch {
		case errors.Is(err, upstream.ErrNotConfigured):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, upstream.ErrNotFound):
			c.log.Debug().Str("sku", sku).Msg("brak produktu w upstreamie")
		default:
			c.log.Warn().Err(err).Str("sku", sku).Msg("fetch failed – pomijam")
		}
		res.processed++
		return nil
	}

	d := Decide(rec, up)
	if !d.Update {
		res.processed++
		return nil
	}

	applied, err := c.writer.Apply(ctx, rec, d)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Error().Err(err).Str("sku", sku).Msg("zapis do sklepu nieudany")
		res.failures++
		res.warnings = append(res.warnings, err)
		res.processed++
		return nil
	}

	res.entries = append(res.entries, changelog.Entry{
		Time:          c.now(),
		RunID:         runID,
		ProductID:     rec.ID,
		SKU:           sku,
		Name:          rec.Name,
		OldQty:        copyQty(rec.Quantity),
		NewQty:        d.Quantity,
		OldPrice:      rec.Price,
		NewPrice:      d.Price,
		ReloadedQty:   copyQty(applied.Quantity),
		ReloadedPrice: applied.Price,
	})
	res.changes++
	res.processed++
	c.log.Info().
		Str("sku", sku).
		Bool("qty_changed", d.QtyChanged).
		Bool("price_changed", d.PriceChanged).
		Int64("new_qty", d.Quantity).
		Str("new_price", d.Price.String()).
		Msg("zaktualizowano")
	return nil
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if c.limiter != nil {
		return c.limiter.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func copyQty(q *int64) *int64 {
	if q == nil {
		return nil
	}
	v := *q
	return &v
}
