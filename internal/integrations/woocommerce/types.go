// internal/integrations/woocommerce/types.go
package woocommerce

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/shopspring/decimal"
)

type wcCategory struct {
	ID int64 `json:"id"`
}

type wcProduct struct {
	ID           int64        `json:"id"`
	ParentID     int64        `json:"parent_id"`
	Name         string       `json:"name"`
	SKU          string       `json:"sku"`
	Status       string       `json:"status"`        // "publish","draft","trash"
	RegularPrice string       `json:"regular_price"` // string w Woo
	ManageStock  manageStock  `json:"manage_stock"`  // true / false / "parent" (warianty)
	StockQty     *float64     `json:"stock_quantity"`
	Type         string       `json:"type"` // "simple","variable", warianty bywają bez typu
	Categories   []wcCategory `json:"categories"`
}

// manageStock – Woo zwraca bool, a dla wariantu "parent" (stan trzyma rodzic)
type manageStock bool

func (m *manageStock) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("true")):
		*m = true
	case bytes.Equal(b, []byte("false")), bytes.Equal(b, []byte("null")):
		*m = false
	default:
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = manageStock(strings.EqualFold(s, "true") || s == "1")
	}
	return nil
}

// wcUpdate – body PUT; pomijamy pola, których nie zapisujemy
type wcUpdate struct {
	RegularPrice  *string `json:"regular_price,omitempty"`
	StockQuantity *int64  `json:"stock_quantity,omitempty"`
}

func (p wcProduct) record(parentID int64) catalog.Record {
	if parentID == 0 {
		parentID = p.ParentID
	}
	kind := catalog.Kind(p.Type)
	switch {
	case parentID != 0:
		kind = catalog.KindVariation
	case kind != catalog.KindVariable:
		kind = catalog.KindSimple
	}
	r := catalog.Record{
		ID:          p.ID,
		ParentID:    parentID,
		SKU:         strings.TrimSpace(p.SKU),
		Name:        p.Name,
		Kind:        kind,
		Status:      catalog.Status(p.Status),
		Price:       parsePrice(p.RegularPrice),
		ManageStock: bool(p.ManageStock),
	}
	if len(p.Categories) > 0 {
		r.CategoryID = p.Categories[0].ID
	}
	if p.StockQty != nil {
		q := int64(*p.StockQty)
		r.Quantity = &q
	}
	return r
}

// pomocniczo: Woo trzyma ceny jako string, bywa z przecinkiem
func parsePrice(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
