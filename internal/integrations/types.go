// internal/integrations/types.go
package integrations

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/db"
	"github.com/rs/zerolog"
)

// Integration – zadanie w tle uruchamiane przez syncer (np. importer)
type Integration interface {
	Name() string
	Start(ctx context.Context) error // blokuje do ctx.Done (long-running) lub odpala własną pętlę
	Stop()                           // idempotent
}

// Deps – wspólne zależności przekazywane fabrykom (zamiast ctx.Value)
type Deps struct {
	DB   *db.Handle
	HTTP *http.Client
}

type Factory func(log zerolog.Logger, raw json.RawMessage, deps Deps) (Integration, error)

// CatalogFactory buduje backend katalogu (local, woocommerce) z surowego JSON-a
type CatalogFactory func(log zerolog.Logger, raw json.RawMessage, deps Deps) (catalog.Store, error)
