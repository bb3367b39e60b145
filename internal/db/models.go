// internal/db/models.go
package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// import_files – rejestr przetworzonych eksportów katalogu (dedup po sha/nazwie/export_id)
type ImportFile struct {
	ImportID    uint   `gorm:"primaryKey;column:import_id"`
	Filename    string `gorm:"uniqueIndex"`
	FileTimeUTC string
	ExportID    string `gorm:"index"`
	SHA256      string `gorm:"uniqueIndex"`
	SizeBytes   int64
	Records     int
	Status      int       `gorm:"index"` // 0=pending, 1=done, 2=error
	LastError   string    `gorm:"type:text"`
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
}

const (
	ImportPending = 0
	ImportDone    = 1
	ImportError   = 2
)

// catalog_products – lokalny katalog (backend "local")
type CatalogProduct struct {
	ID           int64  `gorm:"primaryKey;autoIncrement:false"`
	ParentID     int64  `gorm:"index;index:idx_catalog_listing,priority:1"`
	SKU          string `gorm:"column:sku;index"`
	Name         string
	Type         string `gorm:"index"` // simple / variable / variation
	Status       string `gorm:"index:idx_catalog_listing,priority:2"`
	CategoryID   int64  `gorm:"index"`
	StockQty     *int64 // nil = stan nieśledzony
	StockManaged bool
	Price        decimal.Decimal `gorm:"type:decimal(20,4)"`
	UpdatedAt    time.Time
}

// change_log_rows – historia zmian; kolejność = id (insertion order)
type ChangeLogRow struct {
	ID            uint      `gorm:"primaryKey"`
	At            time.Time `gorm:"index"`
	RunID         string    `gorm:"index"`
	ProductID     int64
	SKU           string `gorm:"column:sku;index"`
	Name          string
	OldQty        *int64
	NewQty        int64
	OldPrice      decimal.Decimal `gorm:"type:decimal(20,4)"`
	NewPrice      decimal.Decimal `gorm:"type:decimal(20,4)"`
	ReloadedQty   *int64
	ReloadedPrice decimal.Decimal `gorm:"type:decimal(20,4)"`
}

// kv – drobny stan aplikacji (np. podsumowanie ostatniego przebiegu)
type KV struct {
	K string `gorm:"primaryKey"`
	V string `gorm:"type:text"`
}
