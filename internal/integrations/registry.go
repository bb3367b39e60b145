// internal/integrations/registry.go
package integrations

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/rs/zerolog"
)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
	catalogs = map[string]CatalogFactory{}
)

func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func Get(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

func All() map[string]Factory {
	regMu.RLock()
	defer regMu.RUnlock()
	return maps.Clone(registry)
}

// RegisterCatalog – rejestracja backendu katalogu (w init() pakietu backendu)
func RegisterCatalog(name string, f CatalogFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	catalogs[name] = f
}

func GetCatalog(name string) (CatalogFactory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := catalogs[name]
	return f, ok
}

// CatalogNames – posortowane nazwy backendów (do komunikatów i `config show`)
func CatalogNames() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	return slices.Sorted(maps.Keys(catalogs))
}

// ErrUnknownCatalog gdy w configu jest backend, którego nikt nie zarejestrował
type ErrUnknownCatalog struct{ Name string }

func (e ErrUnknownCatalog) Error() string {
	return fmt.Sprintf("integrations: unknown catalog backend %q (known: %v)", e.Name, CatalogNames())
}

// OpenCatalog – backend katalogu po nazwie z configu
func OpenCatalog(log zerolog.Logger, name string, raw json.RawMessage, deps Deps) (catalog.Store, error) {
	f, ok := GetCatalog(name)
	if !ok {
		return nil, ErrUnknownCatalog{Name: name}
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return f(log.With().Str("catalog", name).Logger(), raw, deps)
}
