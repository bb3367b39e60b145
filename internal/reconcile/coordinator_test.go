package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/bartek5186/stocksync/internal/ratelimit"
	"github.com/bartek5186/stocksync/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatchContinuationOverPages(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(25)...)
	ctx := context.Background()

	var (
		sum   int
		mores []bool
		req   = BatchRequest{Size: 10}
	)
	for {
		p, err := fx.coord.RunBatch(ctx, req)
		require.NoError(t, err)
		if req.Index == 0 {
			require.NotNil(t, p.Total)
			assert.Equal(t, 25, *p.Total)
		} else {
			assert.Nil(t, p.Total, "total is resolved only on the first batch")
		}
		sum += p.Processed
		mores = append(mores, p.More)
		if !p.More {
			assert.Nil(t, p.NextBatch)
			break
		}
		require.NotNil(t, p.NextBatch)
		assert.Equal(t, req.Index+1, *p.NextBatch)
		req = BatchRequest{Index: *p.NextBatch, Size: 10, RunID: p.RunID}
	}
	assert.Equal(t, []bool{true, true, false}, mores)
	assert.Equal(t, 25, sum)
}

func TestRunBatchExactMultipleEndsWithEmptyPage(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(20)...)
	ctx := context.Background()

	p, err := fx.coord.RunBatch(ctx, BatchRequest{Index: 1, Size: 10})
	require.NoError(t, err)
	assert.True(t, p.More)

	p, err = fx.coord.RunBatch(ctx, BatchRequest{Index: 2, Size: 10})
	require.NoError(t, err)
	assert.False(t, p.More)
	assert.Zero(t, p.Processed)
}

func TestRunBatchAppliesChangesAndRecords(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(3)...)
	fx.up.set("P-001", 1, "10")   // bez zmian
	fx.up.set("P-002", 7, "10")   // stan
	fx.up.set("P-003", 1, "12.5") // cena

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Processed)
	assert.Equal(t, 2, p.Changes)
	require.Len(t, p.Entries, 2)

	e := p.Entries[0]
	assert.Equal(t, "P-002", e.SKU)
	assert.Equal(t, int64(1), *e.OldQty)
	assert.Equal(t, int64(7), e.NewQty)
	assert.Equal(t, int64(7), *e.ReloadedQty)
	assert.Equal(t, p.RunID, e.RunID)
	assert.Equal(t, int64(7), *fx.store.Record(2).Quantity)
	assert.True(t, fx.store.Record(3).Price.Equal(price("12.5")))

	assert.Len(t, fx.log.entries, 2)
	pend, ok := fx.pending.Get(changelog.SlotRun)
	require.True(t, ok)
	assert.Equal(t, p.RunID, pend.RunID)
	assert.Len(t, pend.Entries, 2)
}

func TestRunBatchPendingResetOnFirstBatchOnly(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(4)...)
	for i := 1; i <= 4; i++ {
		fx.up.set(fmt.Sprintf("P-%03d", i), 2, "10")
	}
	ctx := context.Background()

	p0, err := fx.coord.RunBatch(ctx, BatchRequest{Index: 0, Size: 2})
	require.NoError(t, err)
	_, err = fx.coord.RunBatch(ctx, BatchRequest{Index: 1, Size: 2, RunID: p0.RunID})
	require.NoError(t, err)

	pend, _ := fx.pending.Get(changelog.SlotRun)
	assert.Len(t, pend.Entries, 4)

	// nowy przebieg czyści bufor
	_, err = fx.coord.RunBatch(ctx, BatchRequest{Index: 0, Size: 2})
	require.NoError(t, err)
	pend, _ = fx.pending.Get(changelog.SlotRun)
	assert.Empty(t, pend.Entries, "values already applied, nothing new")
}

func TestRunBatchExpandsVariantGroups(t *testing.T) {
	fx := newFixture(t, fixtureOpts{},
		catalog.Record{ID: 1, Name: "Shirt", Kind: catalog.KindVariable},
		catalog.Record{ID: 2, ParentID: 1, SKU: "S", Quantity: qty(1), Price: price("5"), ManageStock: true},
		catalog.Record{ID: 3, ParentID: 1, SKU: "M", Quantity: qty(1), Price: price("5"), ManageStock: true},
		catalog.Record{ID: 4, ParentID: 1, SKU: "L", Quantity: qty(1), Price: price("5"), ManageStock: true},
	)
	fx.up.set("S", 1, "5")
	fx.up.set("M", 3, "5")
	fx.up.set("L", 1, "6")

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Processed, "parent is not counted")
	assert.Equal(t, 2, p.Changes)
	assert.Equal(t, 3, *p.Total)
	assert.ElementsMatch(t, []string{"S", "M", "L"}, fx.up.calls)
}

func TestRunBatchRecordWithoutSKU(t *testing.T) {
	fx := newFixture(t, fixtureOpts{},
		catalog.Record{ID: 1, SKU: "", Quantity: qty(1)},
		catalog.Record{ID: 2, SKU: "   ", Quantity: qty(1)},
		catalog.Record{ID: 3, SKU: "X", Quantity: qty(1), Price: price("1")},
	)
	fx.up.set("X", 1, "1")

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Processed)
	assert.Zero(t, p.Changes)
	assert.Equal(t, []string{"X"}, fx.up.calls)
	assert.Equal(t, 3, *p.Total, "denominator counts the same records")
}

func TestRunBatchSkipsHiddenStatuses(t *testing.T) {
	recs := simpleRecords(3)
	recs[1].Status = catalog.StatusTrash
	fx := newFixture(t, fixtureOpts{}, recs...)

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Processed)
	assert.NotContains(t, fx.up.calls, "P-002")
}

func TestRunBatchAbsorbsPerRecordFailures(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(4)...)
	fx.up.errs["P-001"] = fmt.Errorf("%w: boom", upstream.ErrTransport)
	// P-002 brak w upstreamie
	fx.up.set("P-003", 9, "10")
	fx.up.set("P-004", 9, "10")
	fx.store.FailSave[3] = true

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Processed)
	assert.Equal(t, 1, p.Changes)
	assert.Equal(t, 1, p.Failures)
	require.Len(t, fx.log.entries, 1)
	assert.Equal(t, "P-004", fx.log.entries[0].SKU, "failed write is not logged")
}

func TestRunBatchListingFailurePropagates(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(2)...)
	fx.store.ListErr = errors.New("db down")

	_, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	assert.ErrorIs(t, err, ErrListing)
	assert.Zero(t, fx.up.callCount())
}

func TestRunBatchNotConfiguredAborts(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(3)...)
	for i := 1; i <= 3; i++ {
		fx.up.errs[fmt.Sprintf("P-%03d", i)] = upstream.ErrNotConfigured
	}

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	assert.ErrorIs(t, err, upstream.ErrNotConfigured)
	assert.Zero(t, p.Changes)
	assert.Equal(t, 1, fx.up.callCount())
}

func TestRunBatchInvalidRequest(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	_, err := fx.coord.RunBatch(context.Background(), BatchRequest{Index: -1, Size: 10})
	assert.ErrorIs(t, err, ErrInvalidBatch)
	_, err = fx.coord.RunBatch(context.Background(), BatchRequest{Index: 0, Size: 5, Skip: 6})
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestRunBatchDefaultSize(t *testing.T) {
	fx := newFixture(t, fixtureOpts{}, simpleRecords(12)...)
	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, p.Processed)
	assert.True(t, p.More)
}

func TestRunBatchDefersWhenBudgetExhausted(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{MaxCalls: 3, Window: time.Hour})
	fx := newFixture(t, fixtureOpts{limiter: lim, maxWait: 0}, simpleRecords(5)...)
	for i := 1; i <= 5; i++ {
		fx.up.set(fmt.Sprintf("P-%03d", i), 2, "10")
	}
	ctx := context.Background()

	p, err := fx.coord.RunBatch(ctx, BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.True(t, p.Deferred)
	assert.True(t, p.More)
	require.NotNil(t, p.NextBatch)
	assert.Equal(t, 0, *p.NextBatch)
	assert.Equal(t, 3, p.NextSkip)
	assert.Equal(t, 3, p.Processed)
	assert.Greater(t, p.RetryAfter, 59*time.Minute)
	assert.Greater(t, p.RetryAfterSeconds(), 59*60)
	assert.Equal(t, 3, fx.up.callCount())

	lim.ForceReset() // okno minęło

	p2, err := fx.coord.RunBatch(ctx, BatchRequest{Index: *p.NextBatch, Size: 10, Skip: p.NextSkip, RunID: p.RunID})
	require.NoError(t, err)
	assert.False(t, p2.Deferred)
	assert.False(t, p2.More)
	assert.Nil(t, p2.Total)
	assert.Equal(t, 2, p2.Processed)
	assert.Equal(t, 5, p.Processed+p2.Processed)

	pend, _ := fx.pending.Get(changelog.SlotRun)
	assert.Len(t, pend.Entries, 5, "resumed batch keeps the run buffer")
}

func TestRunBatchResumesInsideVariantGroup(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{MaxCalls: 2, Window: time.Hour})
	fx := newFixture(t, fixtureOpts{limiter: lim},
		catalog.Record{ID: 1, Name: "Group", Kind: catalog.KindVariable},
		catalog.Record{ID: 2, ParentID: 1, SKU: "A", Quantity: qty(1), ManageStock: true},
		catalog.Record{ID: 3, ParentID: 1, SKU: "B", Quantity: qty(1), ManageStock: true},
		catalog.Record{ID: 4, ParentID: 1, SKU: "C", Quantity: qty(1), ManageStock: true},
		catalog.Record{ID: 5, SKU: "D", Quantity: qty(1), ManageStock: true},
	)
	fx.up.set("A", 5, "0")
	fx.up.set("B", 1, "0")
	fx.up.set("C", 8, "0")
	fx.up.set("D", 1, "0")
	ctx := context.Background()

	p, err := fx.coord.RunBatch(ctx, BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.True(t, p.Deferred)
	assert.Equal(t, 0, p.NextSkip)
	assert.Equal(t, 2, p.NextLeaves)
	assert.Equal(t, 2, p.Processed)
	assert.Equal(t, 1, p.Changes)

	lim.ForceReset()
	p2, err := fx.coord.RunBatch(ctx, BatchRequest{Size: 10, Skip: p.NextSkip, SkipLeaves: p.NextLeaves, RunID: p.RunID})
	require.NoError(t, err)
	assert.False(t, p2.Deferred)
	assert.False(t, p2.More)
	assert.Nil(t, p2.Total)
	assert.Equal(t, 2, p2.Processed)
	assert.Equal(t, 1, p2.Changes)
	assert.Equal(t, 4, *p.Total)
	assert.Equal(t, *p.Total, p.Processed+p2.Processed)
	assert.Equal(t, []string{"A", "B", "C", "D"}, fx.up.calls)
}

func TestRunBatchUpstreamRejection(t *testing.T) {
	t.Run("defers when retry is too far", func(t *testing.T) {
		fx := newFixture(t, fixtureOpts{maxWait: time.Second}, simpleRecords(3)...)
		fx.up.set("P-001", 1, "10")
		fx.up.errs["P-002"] = &upstream.RateLimitError{RetryAfter: 5 * time.Minute}

		p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
		require.NoError(t, err)
		assert.True(t, p.Deferred)
		assert.Equal(t, 1, p.NextSkip)
		assert.Equal(t, 5*time.Minute, p.RetryAfter)
		assert.Equal(t, 1, p.Processed)
	})

	t.Run("waits once and retries when allowed", func(t *testing.T) {
		fx := newFixture(t, fixtureOpts{maxWait: time.Second}, simpleRecords(2)...)
		fx.up.set("P-001", 4, "10")
		fx.up.errs["P-001"] = &upstream.RateLimitError{RetryAfter: 10 * time.Millisecond}
		fx.up.once["P-001"] = true

		p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
		require.NoError(t, err)
		assert.False(t, p.Deferred)
		assert.Equal(t, 2, p.Processed)
		assert.Equal(t, 1, p.Changes)
		assert.Equal(t, []string{"P-001", "P-001", "P-002"}, fx.up.calls)
	})
}

func TestRunBatchWritesOnlyChangedFields(t *testing.T) {
	fx := newFixture(t, fixtureOpts{},
		catalog.Record{ID: 1, SKU: "A", Price: price("10"), ManageStock: true},
		catalog.Record{ID: 2, SKU: "B", Quantity: qty(1), Price: price("10.00"), ManageStock: true},
	)
	fx.up.records["A"] = upstream.Record{Price: upstream.NewNumber(price("12"))}
	fx.up.set("B", 5, "10.00009")

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Changes)
	assert.Zero(t, p.Failures)

	a := fx.store.Record(1)
	assert.Nil(t, a.Quantity, "untracked quantity stays nil on a price-only change")
	assert.True(t, a.Price.Equal(price("12")))

	b := fx.store.Record(2)
	assert.Equal(t, int64(5), *b.Quantity)
	assert.True(t, b.Price.Equal(price("10")), "price noise is not written, got %s", b.Price)
}

func TestRunBatchTrackingDisabledEntry(t *testing.T) {
	fx := newFixture(t, fixtureOpts{},
		catalog.Record{ID: 1, SKU: "A", Quantity: qty(5), Price: price("10"), ManageStock: false},
	)
	fx.up.set("A", 9, "10")

	p, err := fx.coord.RunBatch(context.Background(), BatchRequest{Size: 10})
	require.NoError(t, err)
	require.Len(t, p.Entries, 1)

	e := p.Entries[0]
	require.NotNil(t, e.OldQty)
	require.NotNil(t, e.ReloadedQty)
	assert.Equal(t, int64(5), *e.OldQty)
	assert.Equal(t, int64(9), e.NewQty, "entry keeps the intended quantity")
	assert.Equal(t, int64(5), *e.ReloadedQty, "store was not touched")
	assert.Equal(t, int64(5), *fx.store.Record(1).Quantity)
	require.Len(t, fx.log.entries, 1)
	assert.Equal(t, int64(9), fx.log.entries[0].NewQty)
}

func TestRunBatchResumeAtFirstRecordKeepsRun(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{MaxCalls: 1, Window: time.Hour})
	require.Zero(t, lim.Reserve())
	fx := newFixture(t, fixtureOpts{limiter: lim}, simpleRecords(3)...)
	for i := 1; i <= 3; i++ {
		fx.up.set(fmt.Sprintf("P-%03d", i), 2, "10")
	}
	ctx := context.Background()

	p, err := fx.coord.RunBatch(ctx, BatchRequest{Size: 10})
	require.NoError(t, err)
	require.True(t, p.Deferred)
	require.NotNil(t, p.Total)
	assert.Equal(t, 0, *p.NextBatch)
	assert.Equal(t, 0, p.NextSkip)
	assert.Zero(t, p.Processed)

	fx.pending.Add(changelog.SlotRun, changelog.Entry{SKU: "marker"})
	lim.ForceReset()
	resume := BatchRequest{Index: *p.NextBatch, Size: 10, Skip: p.NextSkip, SkipLeaves: p.NextLeaves, RunID: p.RunID}
	p2, err := fx.coord.RunBatch(ctx, resume)
	require.NoError(t, err)
	assert.Nil(t, p2.Total, "continuation does not recount")
	assert.Equal(t, p.RunID, p2.RunID)

	pend, ok := fx.pending.Get(changelog.SlotRun)
	require.True(t, ok)
	assert.Equal(t, p.RunID, pend.RunID)
	assert.Equal(t, "marker", pend.Entries[0].SKU, "run buffer is not reset on resume")
}
