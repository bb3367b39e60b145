package db_test

import (
	"context"
	"testing"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/db"
	"github.com/bartek5186/stocksync/internal/db/dbtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qty(v int64) *int64 { return &v }

func seed(t *testing.T) *db.CatalogStore {
	t.Helper()
	s := db.NewCatalogStore(dbtest.New(t))
	require.NoError(t, s.Upsert(context.Background(),
		catalog.Record{ID: 1, SKU: "A-1", Name: "Alpha", Quantity: qty(5), Price: decimal.RequireFromString("10.50"), ManageStock: true, CategoryID: 7},
		catalog.Record{ID: 2, SKU: "B-1", Name: "Beta", Status: catalog.StatusDraft, Price: decimal.RequireFromString("3")},
		catalog.Record{ID: 3, SKU: "T-1", Name: "Trashed", Status: catalog.StatusTrash},
		catalog.Record{ID: 4, Name: "Shirt", Kind: catalog.KindVariable, CategoryID: 7},
		catalog.Record{ID: 5, ParentID: 4, SKU: "S-S", Name: "Shirt S", Quantity: qty(1), ManageStock: true},
		catalog.Record{ID: 6, ParentID: 4, SKU: "S-M", Name: "Shirt M", Quantity: qty(2), ManageStock: true},
		catalog.Record{ID: 7, ParentID: 4, SKU: "S-L", Name: "Shirt L", Status: catalog.StatusPrivate},
		catalog.Record{ID: 8, SKU: "", Name: "No sku"},
	))
	return s
}

func TestCatalogStoreListFiltersAndPages(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	page, err := s.List(ctx, catalog.VisibleFilter(), 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].ID)
	assert.Equal(t, int64(2), page[1].ID)

	page, err = s.List(ctx, catalog.VisibleFilter(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].ID, "trashed record and variations are not listed")
	assert.Equal(t, int64(8), page[1].ID)

	page, err = s.List(ctx, catalog.VisibleFilter(), 4, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	f := catalog.VisibleFilter()
	f.CategoryID = 7
	page, err = s.List(ctx, f, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[1].IsGroup())
}

func TestCatalogStoreChildrenAndCount(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	kids, err := s.Children(ctx, catalog.Record{ID: 4}, catalog.VisibleFilter())
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "S-S", kids[0].SKU)
	assert.Equal(t, catalog.KindVariation, kids[0].Kind)

	n, err := s.CountLeaves(ctx, catalog.VisibleFilter())
	require.NoError(t, err)
	assert.Equal(t, 5, n) // 1, 2, 8 + two visible variations

	f := catalog.VisibleFilter()
	f.CategoryID = 7
	n, err = s.CountLeaves(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCatalogStoreFindBySKU(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	key, ok, err := s.FindBySKU(ctx, " S-M ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, catalog.Key{ID: 6, ParentID: 4}, key)

	_, ok, err = s.FindBySKU(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, ok, "trashed records are not matched")

	_, ok, err = s.FindBySKU(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogStoreSaveAndGet(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	price := decimal.RequireFromString("12.3400")
	require.NoError(t, s.Save(ctx, catalog.Key{ID: 1}, catalog.Update{Quantity: qty(9), Price: &price}))

	rec, err := s.Get(ctx, catalog.Key{ID: 1})
	require.NoError(t, err)
	require.NotNil(t, rec.Quantity)
	assert.Equal(t, int64(9), *rec.Quantity)
	assert.True(t, rec.Price.Equal(price))

	// price only: quantity untouched
	price = decimal.RequireFromString("1")
	require.NoError(t, s.Save(ctx, catalog.Key{ID: 2}, catalog.Update{Price: &price}))
	rec, err = s.Get(ctx, catalog.Key{ID: 2})
	require.NoError(t, err)
	assert.Nil(t, rec.Quantity)
	assert.True(t, rec.Price.Equal(price))

	assert.ErrorIs(t, s.Save(ctx, catalog.Key{ID: 99}, catalog.Update{Price: &price}), catalog.ErrNotFound)
	_, err = s.Get(ctx, catalog.Key{ID: 99})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestKV(t *testing.T) {
	h := dbtest.New(t)
	ctx := context.Background()

	_, ok, err := h.GetKV(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.SetKV(ctx, "a", "1"))
	require.NoError(t, h.SetKV(ctx, "a", "2"))
	v, ok, err := h.GetKV(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	type summary struct{ Changes int }
	require.NoError(t, h.PutJSON(ctx, "s", summary{Changes: 3}))
	var got summary
	ok, err = h.GetJSON(ctx, "s", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, got.Changes)
}
