package reconcile

import (
	"fmt"
	"math"
)

// Progress – bieżące sumy przebiegu widziane przez operatora (CLI, tray, HTTP)
type Progress struct {
	Batch     int `json:"batch"`
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Changes   int `json:"changes"`
	Failures  int `json:"failures"`
}

// ProgressFunc wołany po każdej stronie
type ProgressFunc func(Progress)

// Add dolicza wynik batcha; Total bierzemy tylko z pierwszego batcha
func (p *Progress) Add(b BatchProgress) {
	p.Batch = b.BatchIndex
	p.Processed += b.Processed
	p.Changes += b.Changes
	p.Failures += b.Failures
	if b.Total != nil {
		p.Total = *b.Total
	}
}

// Percent = min(100, round(100 * processed / total))
func (p Progress) Percent() int {
	if p.Total <= 0 {
		if p.Processed > 0 {
			return 100
		}
		return 0
	}
	pct := int(math.Round(float64(p.Processed) / float64(p.Total) * 100))
	return min(pct, 100)
}

func (p Progress) Status() string {
	return fmt.Sprintf("Processed %d of %d products (%d%%). Changes: %d", p.Processed, p.Total, p.Percent(), p.Changes)
}

func (p Progress) Final() string {
	s := fmt.Sprintf("Synchronization complete! Processed %d products with %d changes.", p.Processed, p.Changes)
	if p.Failures > 0 {
		s += fmt.Sprintf(" Failed writes: %d.", p.Failures)
	}
	return s
}
