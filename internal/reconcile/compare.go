// internal/reconcile/compare.go
package reconcile

import (
	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/upstream"
	"github.com/shopspring/decimal"
)

// PriceEpsilon – różnice cen do 0.0001 włącznie traktujemy jak brak zmiany
var PriceEpsilon = decimal.New(1, -4)

// Decision – wynik porównania rekordu ze sklepu z upstreamem.
// Przy Update niesiemy oba cele, także ten, który się nie zmienił.
type Decision struct {
	Update       bool
	QtyChanged   bool
	PriceChanged bool
	Quantity     int64
	Price        decimal.Decimal
}

// Decide porównuje stan i cenę. Brak / śmieci z upstreamu = 0,
// brak stanu w sklepie (nil) = 0 tylko na potrzeby porównania.
func Decide(rec catalog.Record, up upstream.Record) Decision {
	d := Decision{
		Quantity: up.Quantity.Int(),
		Price:    up.Price.Decimal(),
	}
	var cur int64
	if rec.Quantity != nil {
		cur = *rec.Quantity
	}
	d.QtyChanged = cur != d.Quantity
	d.PriceChanged = PriceDiffers(rec.Price, d.Price)
	d.Update = d.QtyChanged || d.PriceChanged
	return d
}

func PriceDiffers(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(PriceEpsilon)
}
