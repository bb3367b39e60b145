// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config – limit wywołań upstreamu: MaxCalls na okno Window
type Config struct {
	MaxCalls int
	Window   time.Duration
}

func DefaultConfig() Config {
	return Config{MaxCalls: 160, Window: 300 * time.Second}
}

// Clock pozwala podmienić czas w testach
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter to resetujące się okno (nie sliding window): licznik i początek okna.
// Po resecie dopuszczamy burst do MaxCalls od razu.
// Jedna instancja na proces, współdzielona przez wszystkich klientów upstreamu.
type Limiter struct {
	mu     sync.Mutex // chroni count + start
	max    int
	window time.Duration
	count  int
	start  time.Time
	clock  Clock
}

type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func New(cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = def.MaxCalls
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	l := &Limiter{max: cfg.MaxCalls, window: cfg.Window, clock: realClock{}}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Max() int              { return l.max }
func (l *Limiter) Window() time.Duration { return l.window }

// Reserve nie blokuje: 0 = slot przyznany (licznik podbity),
// >0 = ile trzeba poczekać przed kolejną próbą.
func (l *Limiter) Reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.start.IsZero() {
		l.start = now
	}
	elapsed := now.Sub(l.start)
	if elapsed > l.window {
		l.count = 0
		l.start = now
		elapsed = 0
	}
	if l.count >= l.max {
		if wait := l.window - elapsed; wait > 0 {
			return wait
		}
		l.count = 0
		l.start = now
	}
	l.count++
	return 0
}

// Acquire czeka (kooperacyjnie, poza mutexem) aż slot będzie dostępny.
// Zwraca błąd tylko, gdy kontekst zostanie anulowany.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := l.Reserve()
		if wait == 0 {
			return nil
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// ForceReset – upstream sam zgłosił przekroczenie limitu
func (l *Limiter) ForceReset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.start = l.clock.Now()
}

// Budget zwraca ile wywołań zostało w bieżącym oknie i za ile okno się zresetuje.
// Okno, które już minęło, raportujemy jako pełny budżet.
func (l *Limiter) Budget() (remaining int, resetIn time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.start.IsZero() {
		return l.max, 0
	}
	elapsed := l.clock.Now().Sub(l.start)
	if elapsed > l.window {
		return l.max, 0
	}
	remaining = max(l.max-l.count, 0)
	resetIn = max(l.window-elapsed, 0)
	return remaining, resetIn
}

// Sleep czeka d na zegarze limitera (ten sam zegar co okno, ważne w testach)
func (l *Limiter) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return l.clock.Sleep(ctx, d)
}

// Count – bieżąca wartość licznika (diagnostyka / testy)
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
