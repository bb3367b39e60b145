// internal/catalog/catalog.go
package catalog

import (
	"context"
	"errors"
	"slices"

	"github.com/shopspring/decimal"
)

// Status – status publikacji rekordu w sklepie
type Status string

const (
	StatusPublish Status = "publish"
	StatusDraft   Status = "draft"
	StatusPending Status = "pending"
	StatusPrivate Status = "private"
	StatusTrash   Status = "trash"
)

// Visible to zestaw statusów, które synchronizujemy (bez kosza / archiwum)
var Visible = []Status{StatusPublish, StatusDraft}

// Kind – typ rekordu: zwykły produkt, grupa wariantów albo wariant
type Kind string

const (
	KindSimple    Kind = "simple"
	KindVariable  Kind = "variable"
	KindVariation Kind = "variation"
)

var ErrNotFound = errors.New("catalog: record not found")

// Key identyfikuje rekord w sklepie. ParentID != 0 tylko dla wariantów
// (niektóre backendy, np. Woo REST, potrzebują rodzica do zapisu wariantu).
type Key struct {
	ID       int64 `json:"id"`
	ParentID int64 `json:"parent_id,omitempty"`
}

// Record – stan rekordu w katalogu
type Record struct {
	ID          int64           `json:"id"`
	ParentID    int64           `json:"parent_id,omitempty"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Kind        Kind            `json:"type"`
	Status      Status          `json:"status"`
	CategoryID  int64           `json:"category_id,omitempty"`
	Quantity    *int64          `json:"stock_quantity"` // nil = stan nieśledzony
	Price       decimal.Decimal `json:"regular_price"`
	ManageStock bool            `json:"manage_stock"`
}

func (r Record) Key() Key { return Key{ID: r.ID, ParentID: r.ParentID} }

// IsGroup – grupa wariantów; sama nie jest synchronizowana, tylko jej warianty
func (r Record) IsGroup() bool { return r.Kind == KindVariable }

// Filter zawęża listowanie i liczenie rekordów
type Filter struct {
	Statuses   []Status
	CategoryID int64 // 0 = wszystkie kategorie
}

// VisibleFilter zwraca domyślny filtr (publish + draft)
func VisibleFilter() Filter {
	return Filter{Statuses: slices.Clone(Visible)}
}

// Allows sprawdza, czy status rekordu mieści się w filtrze (pusty filtr = wszystko)
func (f Filter) Allows(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	return slices.Contains(f.Statuses, s)
}

// Update – docelowe wartości do zapisu; nil = pole pomijamy
type Update struct {
	Quantity *int64
	Price    *decimal.Decimal
}

// Store to kontrakt sklepu, którego potrzebuje rekoncyliacja.
// List zwraca stronę rekordów najwyższego poziomu (bez wariantów) w stabilnej
// kolejności (id rosnąco). Backend może zwrócić rekordy spoza filtra statusów,
// jeżeli nie umie filtrować dokładnie – długość strony liczy się wtedy do paginacji.
// Save zapisuje i commituje zmianę atomowo (albo read-modify-write, jeśli backend
// nie ma nic lepszego).
type Store interface {
	List(ctx context.Context, f Filter, offset, limit int) ([]Record, error)
	Children(ctx context.Context, parent Record, f Filter) ([]Record, error)
	Get(ctx context.Context, key Key) (Record, error)
	FindBySKU(ctx context.Context, sku string) (Key, bool, error)
	CountLeaves(ctx context.Context, f Filter) (int, error)
	Save(ctx context.Context, key Key, u Update) error
}
