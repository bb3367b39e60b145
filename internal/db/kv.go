package db

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetKV zwraca wartość klucza; ok=false gdy klucza nie ma
func (h *Handle) GetKV(ctx context.Context, k string) (string, bool, error) {
	var row KV
	err := h.DB.WithContext(ctx).Where("k = ?", k).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.V, true, nil
}

func (h *Handle) SetKV(ctx context.Context, k, v string) error {
	return h.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&KV{K: k, V: v}).Error
}

// PutJSON / GetJSON – wygodne zapisywanie struktur w kv
func (h *Handle) PutJSON(ctx context.Context, k string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SetKV(ctx, k, string(b))
}

func (h *Handle) GetJSON(ctx context.Context, k string, out any) (bool, error) {
	s, ok, err := h.GetKV(ctx, k)
	if err != nil || !ok {
		return false, err
	}
	return true, json.Unmarshal([]byte(s), out)
}
