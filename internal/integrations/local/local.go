// Package local registers the gorm-backed catalog (catalog_products table).
package local

import (
	"encoding/json"
	"errors"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/db"
	"github.com/bartek5186/stocksync/internal/integrations"
	"github.com/rs/zerolog"
)

const Name = "local"

func factory(log zerolog.Logger, _ json.RawMessage, deps integrations.Deps) (catalog.Store, error) {
	if deps.DB == nil {
		return nil, errors.New("local catalog: brak bazy")
	}
	log.Debug().Str("driver", deps.DB.Driver).Msg("local catalog ready")
	return db.NewCatalogStore(deps.DB), nil
}

func init() {
	integrations.RegisterCatalog(Name, factory)
}
