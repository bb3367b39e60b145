// internal/reconcile/writer.go
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/shopspring/decimal"
)

// ErrNotPersisted – zapis przeszedł, ale ponowny odczyt nie pokazuje zapisanych wartości
var ErrNotPersisted = errors.New("reconcile: write not persisted")

// Applied – stan rekordu po zapisie, odczytany ponownie ze sklepu
type Applied struct {
	Quantity *int64
	Price    decimal.Decimal
}

// Writer zapisuje decyzję do sklepu i potwierdza ją ponownym odczytem
type Writer struct {
	store catalog.Store
}

func NewWriter(store catalog.Store) *Writer {
	return &Writer{store: store}
}

// Apply – zapisujemy tylko to, co się zmieniło: cena bez zmian idzie z obecną wartością,
// stan tylko przy włączonym zarządzaniu stanem i realnej zmianie (nil w sklepie zostaje nil).
// Wynik pochodzi z ponownego odczytu, nie z wartości w pamięci.
func (w *Writer) Apply(ctx context.Context, rec catalog.Record, d Decision) (Applied, error) {
	price := rec.Price
	if d.PriceChanged {
		price = d.Price
	}
	u := catalog.Update{Price: &price}
	if rec.ManageStock && d.QtyChanged {
		q := d.Quantity
		u.Quantity = &q
	}

	key := rec.Key()
	if err := w.store.Save(ctx, key, u); err != nil {
		return Applied{}, fmt.Errorf("save %q (id %d): %w", rec.SKU, rec.ID, err)
	}

	got, err := w.store.Get(ctx, key)
	if err != nil {
		return Applied{}, fmt.Errorf("reload %q (id %d): %w", rec.SKU, rec.ID, err)
	}
	applied := Applied{Quantity: got.Quantity, Price: got.Price}

	if d.PriceChanged && PriceDiffers(got.Price, price) {
		return applied, fmt.Errorf("%w: %q price %s, want %s", ErrNotPersisted, rec.SKU, got.Price, price)
	}
	if u.Quantity != nil && (got.Quantity == nil || *got.Quantity != *u.Quantity) {
		return applied, fmt.Errorf("%w: %q quantity", ErrNotPersisted, rec.SKU)
	}
	return applied, nil
}
