// internal/changelog/entry.go
package changelog

import (
	"time"

	"github.com/bartek5186/stocksync/internal/db"
	"github.com/shopspring/decimal"
)

// Entry – jedna zastosowana zmiana. NewQty to wartość zamierzona (z upstreamu),
// Reloaded* to stan po ponownym odczycie ze sklepu – przy wyłączonym
// zarządzaniu stanem mogą się różnić.
type Entry struct {
	Time          time.Time       `json:"time"`
	RunID         string          `json:"run_id,omitempty"`
	ProductID     int64           `json:"product_id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	OldQty        *int64          `json:"old_qty"`
	NewQty        int64           `json:"new_qty"`
	OldPrice      decimal.Decimal `json:"old_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	ReloadedQty   *int64          `json:"reloaded_qty"`
	ReloadedPrice decimal.Decimal `json:"reloaded_price"`
}

// OldQtyValue – stary stan, nil jako 0 (do wyświetlania)
func (e Entry) OldQtyValue() int64 {
	if e.OldQty == nil {
		return 0
	}
	return *e.OldQty
}

func cloneQty(q *int64) *int64 {
	if q == nil {
		return nil
	}
	v := *q
	return &v
}

func (e Entry) row() db.ChangeLogRow {
	return db.ChangeLogRow{
		At:            e.Time.UTC(),
		RunID:         e.RunID,
		ProductID:     e.ProductID,
		SKU:           e.SKU,
		Name:          e.Name,
		OldQty:        cloneQty(e.OldQty),
		NewQty:        e.NewQty,
		OldPrice:      e.OldPrice,
		NewPrice:      e.NewPrice,
		ReloadedQty:   cloneQty(e.ReloadedQty),
		ReloadedPrice: e.ReloadedPrice,
	}
}

func fromRow(r db.ChangeLogRow) Entry {
	return Entry{
		Time:          r.At,
		RunID:         r.RunID,
		ProductID:     r.ProductID,
		SKU:           r.SKU,
		Name:          r.Name,
		OldQty:        r.OldQty,
		NewQty:        r.NewQty,
		OldPrice:      r.OldPrice,
		NewPrice:      r.NewPrice,
		ReloadedQty:   r.ReloadedQty,
		ReloadedPrice: r.ReloadedPrice,
	}
}
