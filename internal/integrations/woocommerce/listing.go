// internal/integrations/woocommerce/listing.go
package woocommerce

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bartek5186/stocksync/internal/catalog"
)

const (
	listFields   = "id,parent_id,sku,name,type,status,regular_price,stock_quantity,manage_stock,categories"
	maxPerPage   = 100 // limit Woo REST
	variationsPP = 100
)

// statusQuery – Woo filtruje po jednym statusie; dla kilku bierzemy "any"
// i odsiewamy po stronie klienta (długość strony i tak liczy się do paginacji)
func statusQuery(f catalog.Filter) string {
	if len(f.Statuses) == 1 {
		return string(f.Statuses[0])
	}
	return "any"
}

func listQuery(f catalog.Filter) url.Values {
	q := url.Values{}
	q.Set("status", statusQuery(f))
	q.Set("orderby", "id")
	q.Set("order", "asc")
	q.Set("_fields", listFields)
	if f.CategoryID > 0 {
		q.Set("category", strconv.FormatInt(f.CategoryID, 10))
	}
	return q
}

// List – strona produktów najwyższego poziomu (warianty są osobnym zasobem)
func (s *Store) List(ctx context.Context, f catalog.Filter, offset, limit int) ([]catalog.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []catalog.Record
	// Woo ogranicza per_page do 100 – większą stronę składamy z kilku żądań
	for len(out) < limit {
		n := min(limit-len(out), maxPerPage)
		q := listQuery(f)
		q.Set("per_page", strconv.Itoa(n))
		q.Set("offset", strconv.Itoa(offset+len(out)))

		var items []wcProduct
		if _, err := s.do(ctx, http.MethodGet, "/products", q, nil, &items); err != nil {
			return nil, err
		}
		for _, p := range items {
			out = append(out, p.record(0))
		}
		if len(items) < n {
			break
		}
	}
	return out, nil
}

// Children – wszystkie warianty grupy, stronami po 100
func (s *Store) Children(ctx context.Context, parent catalog.Record, f catalog.Filter) ([]catalog.Record, error) {
	var out []catalog.Record
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(variationsPP))
		q.Set("page", strconv.Itoa(page))
		q.Set("orderby", "id")
		q.Set("order", "asc")

		var items []wcProduct
		if _, err := s.do(ctx, http.MethodGet, "/products/"+strconv.FormatInt(parent.ID, 10)+"/variations", q, nil, &items); err != nil {
			return nil, err
		}
		for _, p := range items {
			r := p.record(parent.ID)
			if f.Allows(r.Status) {
				out = append(out, r)
			}
		}
		if len(items) < variationsPP {
			return out, nil
		}
	}
}

// CountLeaves – produkty proste z nagłówka X-WP-Total, dla grup liczymy warianty
func (s *Store) CountLeaves(ctx context.Context, f catalog.Filter) (int, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []catalog.Status{"any"}
	}
	n := 0
	for _, st := range statuses {
		one := f
		one.Statuses = []catalog.Status{st}
		if st == "any" {
			one.Statuses = nil
		}

		all, err := s.count(ctx, one, "")
		if err != nil {
			return 0, err
		}
		groups, err := s.count(ctx, one, string(catalog.KindVariable))
		if err != nil {
			return 0, err
		}
		n += all - groups

		for page := 1; groups > 0; page++ {
			q := listQuery(one)
			q.Set("type", string(catalog.KindVariable))
			q.Set("per_page", strconv.Itoa(maxPerPage))
			q.Set("page", strconv.Itoa(page))
			q.Set("_fields", "id,status")
			var items []wcProduct
			if _, err := s.do(ctx, http.MethodGet, "/products", q, nil, &items); err != nil {
				return 0, err
			}
			for _, p := range items {
				kids, err := s.Children(ctx, catalog.Record{ID: p.ID}, f)
				if err != nil {
					return 0, err
				}
				n += len(kids)
			}
			if len(items) < maxPerPage {
				break
			}
		}
	}
	return n, nil
}

func (s *Store) count(ctx context.Context, f catalog.Filter, typ string) (int, error) {
	q := listQuery(f)
	q.Set("per_page", "1")
	q.Set("_fields", "id")
	if typ != "" {
		q.Set("type", typ)
	}
	h, err := s.do(ctx, http.MethodGet, "/products", q, nil, nil)
	if err != nil {
		return 0, err
	}
	return total(h), nil
}
