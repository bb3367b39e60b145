package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogStore – catalog.Store na tabeli catalog_products
type CatalogStore struct {
	db *gorm.DB
}

func NewCatalogStore(h *Handle) *CatalogStore {
	return &CatalogStore{db: h.DB}
}

var _ catalog.Store = (*CatalogStore)(nil)

func statuses(f catalog.Filter) []string {
	out := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		out = append(out, string(s))
	}
	return out
}

func scoped(q *gorm.DB, f catalog.Filter, alias string) *gorm.DB {
	col := func(c string) string {
		if alias == "" {
			return c
		}
		return alias + "." + c
	}
	if st := statuses(f); len(st) > 0 {
		q = q.Where(col("status")+" IN ?", st)
	}
	if f.CategoryID != 0 {
		q = q.Where(col("category_id")+" = ?", f.CategoryID)
	}
	return q
}

func (s *CatalogStore) List(ctx context.Context, f catalog.Filter, offset, limit int) ([]catalog.Record, error) {
	var rows []CatalogProduct
	q := s.db.WithContext(ctx).Model(&CatalogProduct{}).Where("parent_id = 0")
	err := scoped(q, f, "").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list catalog (offset %d): %w", offset, err)
	}
	return toRecords(rows), nil
}

func (s *CatalogStore) Children(ctx context.Context, parent catalog.Record, f catalog.Filter) ([]catalog.Record, error) {
	var rows []CatalogProduct
	q := s.db.WithContext(ctx).Model(&CatalogProduct{}).Where("parent_id = ?", parent.ID)
	// kategoria dotyczy rodzica, warianty filtrujemy tylko po statusie
	err := scoped(q, catalog.Filter{Statuses: f.Statuses}, "").Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("children of %d: %w", parent.ID, err)
	}
	return toRecords(rows), nil
}

func (s *CatalogStore) Get(ctx context.Context, key catalog.Key) (catalog.Record, error) {
	var row CatalogProduct
	err := s.db.WithContext(ctx).Where("id = ?", key.ID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, err
	}
	return row.Record(), nil
}

func (s *CatalogStore) FindBySKU(ctx context.Context, sku string) (catalog.Key, bool, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return catalog.Key{}, false, nil
	}
	var row CatalogProduct
	err := s.db.WithContext(ctx).
		Select("id", "parent_id").
		Where("sku = ? AND status <> ?", sku, string(catalog.StatusTrash)).
		Order("id ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Key{}, false, nil
	}
	if err != nil {
		return catalog.Key{}, false, err
	}
	return catalog.Key{ID: row.ID, ParentID: row.ParentID}, true, nil
}

// CountLeaves – rekordy, które przejdzie batch: produkty proste + widoczne warianty widocznych grup
func (s *CatalogStore) CountLeaves(ctx context.Context, f catalog.Filter) (int, error) {
	var simple int64
	q := s.db.WithContext(ctx).Model(&CatalogProduct{}).
		Where("parent_id = 0 AND type <> ?", string(catalog.KindVariable))
	if err := scoped(q, f, "").Count(&simple).Error; err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}

	var variants int64
	q = s.db.WithContext(ctx).Table("catalog_products AS c").
		Joins("JOIN catalog_products AS p ON p.id = c.parent_id").
		Where("p.parent_id = 0 AND p.type = ?", string(catalog.KindVariable))
	q = scoped(q, f, "p")
	if st := statuses(f); len(st) > 0 {
		q = q.Where("c.status IN ?", st)
	}
	if err := q.Count(&variants).Error; err != nil {
		return 0, fmt.Errorf("count variations: %w", err)
	}
	return int(simple + variants), nil
}

// Save – zapis + commit w jednej transakcji (SELECT ... FOR UPDATE tam, gdzie baza to wspiera)
func (s *CatalogStore) Save(ctx context.Context, key catalog.Key, u catalog.Update) error {
	cols := map[string]any{"updated_at": time.Now().UTC()}
	if u.Quantity != nil {
		cols["stock_qty"] = *u.Quantity
	}
	if u.Price != nil {
		cols["price"] = *u.Price
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row CatalogProduct
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.Select("id").Where("id = ?", key.ID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return catalog.ErrNotFound
		}
		if err != nil {
			return err
		}
		return tx.Model(&CatalogProduct{}).Where("id = ?", key.ID).Updates(cols).Error
	})
}

// Upsert – zapis całych rekordów (import katalogu, testy)
func (s *CatalogStore) Upsert(ctx context.Context, recs ...catalog.Record) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]CatalogProduct, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, FromRecord(r))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"parent_id", "sku", "name", "type", "status", "category_id",
			"stock_qty", "stock_managed", "price", "updated_at",
		}),
	}).CreateInBatches(&rows, 500).Error
}

func (p CatalogProduct) Record() catalog.Record {
	return catalog.Record{
		ID:          p.ID,
		ParentID:    p.ParentID,
		SKU:         p.SKU,
		Name:        p.Name,
		Kind:        catalog.Kind(p.Type),
		Status:      catalog.Status(p.Status),
		CategoryID:  p.CategoryID,
		Quantity:    p.StockQty,
		Price:       p.Price,
		ManageStock: p.StockManaged,
	}
}

func FromRecord(r catalog.Record) CatalogProduct {
	kind := r.Kind
	if kind == "" {
		kind = catalog.KindSimple
		if r.ParentID != 0 {
			kind = catalog.KindVariation
		}
	}
	status := r.Status
	if status == "" {
		status = catalog.StatusPublish
	}
	return CatalogProduct{
		ID:           r.ID,
		ParentID:     r.ParentID,
		SKU:          strings.TrimSpace(r.SKU),
		Name:         r.Name,
		Type:         string(kind),
		Status:       string(status),
		CategoryID:   r.CategoryID,
		StockQty:     r.Quantity,
		StockManaged: r.ManageStock,
		Price:        r.Price,
		UpdatedAt:    time.Now().UTC(),
	}
}

func toRecords(rows []CatalogProduct) []catalog.Record {
	out := make([]catalog.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Record())
	}
	return out
}
