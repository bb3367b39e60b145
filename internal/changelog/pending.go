// internal/changelog/pending.go
package changelog

import (
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Slot – osobne miejsce na wynik pełnego przebiegu i na wynik synchronizacji pojedynczego SKU
type Slot string

const (
	SlotRun Slot = "run"
	SlotSKU Slot = "sku"
)

const DefaultPendingTTL = time.Hour

// PendingRun – "co zrobił przebieg, który właśnie odpaliłem"
type PendingRun struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Entries   []Entry   `json:"entries"`
}

// Pending – krótkotrwały bufor wyników (jeden na slot, nadpisywany przez kolejny przebieg)
type Pending struct {
	mu    sync.Mutex // Reset/Add to read-modify-write
	cache *ttlcache.Cache[Slot, PendingRun]
}

func NewPending(ttl time.Duration) *Pending {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	c := ttlcache.New(
		ttlcache.WithTTL[Slot, PendingRun](ttl),
		ttlcache.WithDisableTouchOnHit[Slot, PendingRun](),
	)
	return &Pending{cache: c}
}

// Reset zaczyna nowy przebieg w slocie (poprzedni wynik przepada)
func (p *Pending) Reset(slot Slot, runID string, startedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.DeleteExpired()
	p.cache.Set(slot, PendingRun{RunID: runID, StartedAt: startedAt}, ttlcache.DefaultTTL)
}

// Replace nadpisuje slot gotowym wynikiem
func (p *Pending) Replace(slot Slot, run PendingRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run.Entries = slices.Clone(run.Entries)
	p.cache.Set(slot, run, ttlcache.DefaultTTL)
}

// Add dopisuje wpisy do bieżącego przebiegu; każdy zapis odnawia TTL
func (p *Pending) Add(slot Slot, entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var cur PendingRun
	if it := p.cache.Get(slot); it != nil {
		cur = it.Value()
	}
	merged := make([]Entry, 0, len(cur.Entries)+len(entries))
	merged = append(merged, cur.Entries...)
	merged = append(merged, entries...)
	cur.Entries = merged
	p.cache.Set(slot, cur, ttlcache.DefaultTTL)
}

func (p *Pending) Get(slot Slot) (PendingRun, bool) {
	it := p.cache.Get(slot)
	if it == nil {
		return PendingRun{}, false
	}
	run := it.Value()
	run.Entries = slices.Clone(run.Entries)
	return run, true
}

// Take – odczyt i usunięcie (panel pokazuje wynik raz)
func (p *Pending) Take(slot Slot) (PendingRun, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.cache.GetAndDelete(slot)
	if !ok || it == nil {
		return PendingRun{}, false
	}
	return it.Value(), true
}
