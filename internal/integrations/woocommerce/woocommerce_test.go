package woocommerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShop – minimalny /wp-json/wc/v3 z produktami i wariantami w pamięci
type fakeShop struct {
	mu         sync.Mutex
	products   []map[string]any
	variations map[int64][]map[string]any
	puts       []string
	lastBody   map[string]any
}

func (f *fakeShop) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != "ck" || pass != "cs" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/wp-json/wc/v3")
		parts := strings.Split(strings.Trim(path, "/"), "/")
		q := r.URL.Query()

		switch {
		case r.Method == http.MethodGet && path == "/products":
			items := f.filter(q)
			w.Header().Set("X-WP-Total", strconv.Itoa(len(items)))
			items = paginate(items, q)
			_ = json.NewEncoder(w).Encode(items)
		case len(parts) == 3 && parts[2] == "variations":
			id, _ := strconv.ParseInt(parts[1], 10, 64)
			items := paginate(f.variations[id], q)
			_ = json.NewEncoder(w).Encode(items)
		case r.Method == http.MethodGet:
			if p := f.lookup(parts); p != nil {
				_ = json.NewEncoder(w).Encode(p)
				return
			}
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"woocommerce_rest_product_invalid_id"}`))
		case r.Method == http.MethodPut:
			p := f.lookup(parts)
			if p == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.puts = append(f.puts, path)
			f.lastBody = body
			for k, v := range body {
				p[k] = v
			}
			_ = json.NewEncoder(w).Encode(p)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (f *fakeShop) filter(q map[string][]string) []map[string]any {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	var out []map[string]any
	for _, p := range f.products {
		if st := get("status"); st != "" && st != "any" && p["status"] != st {
			continue
		}
		if typ := get("type"); typ != "" && p["type"] != typ {
			continue
		}
		if sku := get("sku"); sku != "" && p["sku"] != sku {
			continue
		}
		if cat := get("category"); cat != "" {
			cats, _ := p["categories"].([]map[string]any)
			if len(cats) == 0 || strconv.FormatInt(cats[0]["id"].(int64), 10) != cat {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func (f *fakeShop) writes() ([]string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...), f.lastBody
}

func paginate(items []map[string]any, q map[string][]string) []map[string]any {
	per := 10
	if v := q["per_page"]; len(v) > 0 {
		per, _ = strconv.Atoi(v[0])
	}
	start := 0
	if v := q["offset"]; len(v) > 0 {
		start, _ = strconv.Atoi(v[0])
	} else if v := q["page"]; len(v) > 0 {
		page, _ := strconv.Atoi(v[0])
		start = (page - 1) * per
	}
	if start >= len(items) {
		return []map[string]any{}
	}
	return items[start:min(start+per, len(items))]
}

func (f *fakeShop) lookup(parts []string) map[string]any {
	id, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if len(parts) == 4 {
		parent, _ := strconv.ParseInt(parts[1], 10, 64)
		for _, v := range f.variations[parent] {
			if v["id"] == id {
				return v
			}
		}
		return nil
	}
	for _, p := range f.products {
		if p["id"] == id {
			return p
		}
	}
	return nil
}

func newShop(t *testing.T) (*fakeShop, *Store) {
	t.Helper()
	shop := &fakeShop{
		products: []map[string]any{
			{"id": int64(10), "sku": "A", "name": "Alpha", "type": "simple", "status": "publish",
				"regular_price": "10.50", "stock_quantity": 5, "manage_stock": true,
				"categories": []map[string]any{{"id": int64(7)}}},
			{"id": int64(11), "sku": "B", "name": "Beta", "type": "simple", "status": "draft",
				"regular_price": "", "stock_quantity": nil, "manage_stock": false},
			{"id": int64(12), "sku": "C", "name": "Gone", "type": "simple", "status": "trash", "regular_price": "1"},
			{"id": int64(13), "sku": "", "name": "Shirt", "type": "variable", "status": "publish", "regular_price": "",
				"categories": []map[string]any{{"id": int64(7)}}},
		},
		variations: map[int64][]map[string]any{
			13: {
				{"id": int64(21), "parent_id": int64(13), "sku": "S-S", "status": "publish", "regular_price": "20", "stock_quantity": 1, "manage_stock": true},
				{"id": int64(22), "parent_id": int64(13), "sku": "S-M", "status": "publish", "regular_price": "20", "stock_quantity": 2, "manage_stock": "parent"},
				{"id": int64(23), "parent_id": int64(13), "sku": "S-L", "status": "private", "regular_price": "20"},
			},
		},
	}
	srv := httptest.NewServer(shop.handler())
	t.Cleanup(srv.Close)

	st, err := New(zerolog.Nop(), Config{BaseURL: srv.URL + "/", ConsumerKey: "ck", ConsumerSec: "cs"}, srv.Client())
	require.NoError(t, err)
	return shop, st
}

func TestListFiltersClientSide(t *testing.T) {
	_, st := newShop(t)
	ctx := context.Background()

	page, err := st.List(ctx, catalog.VisibleFilter(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 4, "status=any returns everything, caller filters")
	assert.Equal(t, catalog.StatusTrash, page[2].Status)

	a := page[0]
	assert.Equal(t, "A", a.SKU)
	assert.Equal(t, int64(7), a.CategoryID)
	require.NotNil(t, a.Quantity)
	assert.Equal(t, int64(5), *a.Quantity)
	assert.True(t, a.Price.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, a.ManageStock)

	b := page[1]
	assert.Nil(t, b.Quantity)
	assert.True(t, b.Price.IsZero())
	assert.True(t, page[3].IsGroup())

	page, err = st.List(ctx, catalog.VisibleFilter(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(12), page[0].ID)

	page, err = st.List(ctx, catalog.Filter{Statuses: []catalog.Status{catalog.StatusDraft}}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].SKU)
}

func TestChildrenAndCount(t *testing.T) {
	_, st := newShop(t)
	ctx := context.Background()

	kids, err := st.Children(ctx, catalog.Record{ID: 13}, catalog.VisibleFilter())
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, catalog.KindVariation, kids[0].Kind)
	assert.Equal(t, int64(13), kids[0].ParentID)
	assert.True(t, kids[0].ManageStock)
	assert.False(t, kids[1].ManageStock, "manage_stock=parent")

	n, err := st.CountLeaves(ctx, catalog.VisibleFilter())
	require.NoError(t, err)
	assert.Equal(t, 4, n, "A, B, S-S, S-M")

	f := catalog.VisibleFilter()
	f.CategoryID = 7
	n, err = st.CountLeaves(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGetFindAndSave(t *testing.T) {
	shop, st := newShop(t)
	ctx := context.Background()

	key, ok, err := st.FindBySKU(ctx, " A ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, catalog.Key{ID: 10}, key)

	_, ok, err = st.FindBySKU(ctx, "C")
	require.NoError(t, err)
	assert.False(t, ok, "trashed")

	q := int64(9)
	p := decimal.RequireFromString("12.345")
	require.NoError(t, st.Save(ctx, key, catalog.Update{Quantity: &q, Price: &p}))
	puts, body := shop.writes()
	assert.Equal(t, []string{"/products/10"}, puts)
	assert.Equal(t, "12.345", body["regular_price"])
	assert.EqualValues(t, 9, body["stock_quantity"])

	rec, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(9), *rec.Quantity)
	assert.True(t, rec.Price.Equal(p))

	// wariant zapisujemy przez zasób rodzica, bez stanu
	require.NoError(t, st.Save(ctx, catalog.Key{ID: 22, ParentID: 13}, catalog.Update{Price: &p}))
	puts, body = shop.writes()
	assert.Equal(t, "/products/13/variations/22", puts[1])
	_, hasQty := body["stock_quantity"]
	assert.False(t, hasQty)

	v, err := st.Get(ctx, catalog.Key{ID: 22, ParentID: 13})
	require.NoError(t, err)
	assert.Equal(t, catalog.KindVariation, v.Kind)

	_, err = st.Get(ctx, catalog.Key{ID: 999})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(zerolog.Nop(), Config{BaseURL: "shop", ConsumerKey: "ck", ConsumerSec: "cs"}, nil)
	assert.Error(t, err)
	_, err = New(zerolog.Nop(), Config{BaseURL: "https://shop.example.com"}, nil)
	assert.Error(t, err)
}

func TestBadCredentialsSurfaceHTTPError(t *testing.T) {
	shop := &fakeShop{}
	srv := httptest.NewServer(shop.handler())
	defer srv.Close()
	st, err := New(zerolog.Nop(), Config{BaseURL: srv.URL, ConsumerKey: "x", ConsumerSec: "y"}, srv.Client())
	require.NoError(t, err)

	_, err = st.List(context.Background(), catalog.VisibleFilter(), 0, 5)
	var he *httpError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Status)
}
