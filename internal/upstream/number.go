// internal/upstream/number.go
package upstream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Number – wartość liczbowa z upstreamu. Przychodzi jako liczba, string z liczbą,
// null albo śmieci. Wszystko poza liczbą / stringiem liczbowym = Valid false (i 0).
type Number struct {
	Value decimal.Decimal
	Valid bool
}

func NewNumber(v decimal.Decimal) Number { return Number{Value: v, Valid: true} }

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	switch b[0] {
	case '"':
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		s = string(b)
	default:
		// bool, obiekt, tablica – traktujemy jak brak wartości
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	n.Value, n.Valid = v, true
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(n.Value.String()), nil
}

// Decimal – wartość albo 0 dla nieprawidłowej
func (n Number) Decimal() decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Value
}

// Int – część całkowita (obcięcie w stronę zera), 0 dla nieprawidłowej
func (n Number) Int() int64 {
	return n.Decimal().Truncate(0).IntPart()
}
