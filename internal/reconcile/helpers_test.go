package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/catalog/catalogtest"
	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/bartek5186/stocksync/internal/ratelimit"
	"github.com/bartek5186/stocksync/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func qty(v int64) *int64 { return &v }

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func upRec(q int64, p string) upstream.Record {
	return upstream.Record{
		Quantity: upstream.NewNumber(decimal.NewFromInt(q)),
		Price:    upstream.NewNumber(price(p)),
	}
}

// fakeUpstream odpowiada z mapy; errs mają pierwszeństwo i mogą być jednorazowe
type fakeUpstream struct {
	mu      sync.Mutex
	records map[string]upstream.Record
	errs    map[string]error
	once    map[string]bool
	calls   []string
	limiter *ratelimit.Limiter
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		records: map[string]upstream.Record{},
		errs:    map[string]error{},
		once:    map[string]bool{},
	}
}

func (f *fakeUpstream) set(sku string, q int64, p string) { f.records[sku] = upRec(q, p) }

func (f *fakeUpstream) Fetch(ctx context.Context, sku string) (upstream.Record, error) {
	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx); err != nil {
			return upstream.Record{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sku)
	if err, ok := f.errs[sku]; ok {
		if f.once[sku] {
			delete(f.errs, sku)
		}
		return upstream.Record{}, err
	}
	rec, ok := f.records[sku]
	if !ok {
		return upstream.Record{}, upstream.ErrNotFound
	}
	rec.SKU = sku
	return rec, nil
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memLog struct {
	mu      sync.Mutex
	appends int
	entries []changelog.Entry
}

func (m *memLog) Append(_ context.Context, entries ...changelog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	m.entries = append(m.entries, entries...)
	return nil
}

type memSummary struct {
	mu   sync.Mutex
	vals map[string]any
}

func (m *memSummary) PutJSON(_ context.Context, k string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals == nil {
		m.vals = map[string]any{}
	}
	m.vals[k] = v
	return nil
}

func (m *memSummary) GetJSON(_ context.Context, k string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[k]
	if !ok {
		return false, nil
	}
	if p, ok := out.(*Result); ok {
		*p = v.(Result)
	}
	return true, nil
}

type fixture struct {
	store   *catalogtest.Store
	up      *fakeUpstream
	log     *memLog
	pending *changelog.Pending
	coord   *Coordinator
	runner  *Runner
	summary *memSummary
}

type fixtureOpts struct {
	limiter  *ratelimit.Limiter
	maxWait  time.Duration
	pageSize int
}

func newFixture(t *testing.T, opts fixtureOpts, records ...catalog.Record) *fixture {
	t.Helper()
	fx := &fixture{
		store:   catalogtest.New(records...),
		up:      newFakeUpstream(),
		log:     &memLog{},
		pending: changelog.NewPending(time.Hour),
		summary: &memSummary{},
	}
	fx.up.limiter = opts.limiter
	fx.coord = NewCoordinator(zerolog.Nop(), fx.store, fx.up, opts.limiter, fx.log, fx.pending,
		CoordinatorOptions{MaxWait: opts.maxWait})
	fx.runner = NewRunner(zerolog.Nop(), fx.coord, fx.summary, RunnerOptions{PageSize: opts.pageSize})
	return fx
}

// simpleRecords – n prostych produktów z SKU P-001.., stan 1, cena 10
func simpleRecords(n int) []catalog.Record {
	out := make([]catalog.Record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, catalog.Record{
			ID:          int64(i),
			SKU:         fmt.Sprintf("P-%03d", i),
			Name:        fmt.Sprintf("Product %d", i),
			Quantity:    qty(1),
			Price:       price("10"),
			ManageStock: true,
		})
	}
	return out
}
