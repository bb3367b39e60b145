// internal/changelog/log.go
package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/bartek5186/stocksync/internal/db"
	"gorm.io/gorm"
)

const (
	DefaultMaxEntries = 500
	DefaultRetention  = 7 * 24 * time.Hour
)

// Log – trwała historia zmian. Limit jest liczbowy (najnowsze MaxEntries po id),
// retencja czasowa dotyczy tylko odczytu przez Recent.
type Log struct {
	db        *gorm.DB
	max       int
	retention time.Duration
	now       func() time.Time
}

type LogOption func(*Log)

func WithMaxEntries(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

func WithRetention(d time.Duration) LogOption {
	return func(l *Log) {
		if d > 0 {
			l.retention = d
		}
	}
}

func WithNow(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

func NewLog(h *db.Handle, opts ...LogOption) *Log {
	l := &Log{db: h.DB, max: DefaultMaxEntries, retention: DefaultRetention, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append dopisuje wpisy (w kolejności przetwarzania) i przycina log do limitu – w jednej transakcji
func (l *Log) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]db.ChangeLogRow, 0, len(entries))
	for _, e := range entries {
		if e.Time.IsZero() {
			e.Time = l.now()
		}
		rows = append(rows, e.row())
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// po jednym, żeby id rosło dokładnie w kolejności wpisów
		for i := range rows {
			if err := tx.Create(&rows[i]).Error; err != nil {
				return fmt.Errorf("append change log: %w", err)
			}
		}
		return trim(tx, l.max)
	})
}

// trim usuwa wszystko starsze niż max najnowszych wpisów
func trim(tx *gorm.DB, max int) error {
	var cutoff []uint
	err := tx.Model(&db.ChangeLogRow{}).
		Order("id DESC").
		Offset(max-1).
		Limit(1).
		Pluck("id", &cutoff).Error
	if err != nil {
		return fmt.Errorf("trim change log: %w", err)
	}
	if len(cutoff) == 0 {
		return nil
	}
	return tx.Where("id < ?", cutoff[0]).Delete(&db.ChangeLogRow{}).Error
}

// Recent – wpisy z okresu retencji (domyślnie 7 dni), od najstarszego
func (l *Log) Recent(ctx context.Context) ([]Entry, error) {
	since := l.now().Add(-l.retention).UTC()
	return l.find(l.db.WithContext(ctx).Where("at >= ?", since))
}

// All – cały log (max wpisów), od najstarszego
func (l *Log) All(ctx context.Context) ([]Entry, error) {
	return l.find(l.db.WithContext(ctx))
}

func (l *Log) find(q *gorm.DB) ([]Entry, error) {
	var rows []db.ChangeLogRow
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (l *Log) Len(ctx context.Context) (int, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&db.ChangeLogRow{}).Count(&n).Error
	return int(n), err
}

// Clear – "wyczyść logi" z panelu
func (l *Log) Clear(ctx context.Context) error {
	return l.db.WithContext(ctx).Where("1 = 1").Delete(&db.ChangeLogRow{}).Error
}

func (l *Log) MaxEntries() int { return l.max }
