// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	conf "github.com/bartek5186/stocksync/internal/config"
	"github.com/bartek5186/stocksync/internal/integrations" // + import rejestru/typów
	_ "github.com/bartek5186/stocksync/internal/integrations/importer"
	"github.com/bartek5186/stocksync/internal/reconcile"
	"github.com/rs/zerolog"
)

// Trigger – to, co harmonogram odpala co interwał (reconcile.Runner)
type Trigger interface {
	Start(ctx context.Context, categoryID int64) (string, error)
}

// wrapper na uruchomioną integrację (np. importer)
type runningInt struct {
	Name string
	Inst integrations.Integration
}

// Status – stan harmonogramu dla CLI / API / traya
type Status struct {
	Running      bool      `json:"running"`
	AutoEnabled  bool      `json:"auto_enabled"`
	Interval     string    `json:"interval"`
	Ticks        uint64    `json:"ticks"`
	LastTick     time.Time `json:"last_tick,omitzero"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	NextTick     time.Time `json:"next_tick,omitzero"`
	Integrations []string  `json:"integrations"`
}

type Syncer struct {
	log     zerolog.Logger     // logowanie
	deps    integrations.Deps  // baza, http dla integracji
	trigger Trigger            // pełny przebieg
	mu      sync.Mutex         // ochrona sekcji krytycznych
	cfg     *conf.Config       // aktualna konfiguracja
	running bool               // czy syncer działa
	parent  context.Context    // kontekst z ostatniego Start (restart po zmianie configu)
	cancel  context.CancelFunc // zatrzymuje pętlę i integracje
	wg      sync.WaitGroup     // śledzi goroutines
	ticks   uint64             // licznik odpaleń
	ints    []runningInt       // lista aktywnych integracji

	lastTick  time.Time
	lastRunID string
	nextTick  time.Time

	every func() time.Duration // testy podmieniają interwał
}

func New(log zerolog.Logger, cfg *conf.Config, deps integrations.Deps, trigger Trigger) *Syncer {
	s := &Syncer{log: log.With().Str("component", "syncer").Logger(), cfg: cfg, deps: deps, trigger: trigger}
	s.every = s.configInterval
	return s
}

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.parent = ctx
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.ticks = 0
	s.wg.Add(1)

	// zbuduj i odpal integracje
	ints := s.buildIntegrationsLocked()
	s.ints = ints
	every := s.every()
	s.mu.Unlock()

	s.log.Info().Dur("interval", every).Msg("Syncer: start")
	go s.loop(ctx)

	// każda integracja w swojej gorutinie
	for i := range ints {
		s.wg.Add(1)
		go func(intg integrations.Integration) {
			defer s.wg.Done()
			if err := intg.Start(ctx); err != nil {
				s.log.Error().Err(err).Str("integration", intg.Name()).Msg("zakończona z błędem")
			}
		}(ints[i].Inst)
	}
	return nil
}

func (s *Syncer) buildIntegrationsLocked() []runningInt {
	var out []runningInt
	if s.cfg == nil || len(s.cfg.Integrations) == 0 {
		s.log.Debug().Msg("Integrations: brak lub puste (sprawdź config.json)")
		return out
	}
	names := make([]string, 0, len(s.cfg.Integrations))
	for name := range s.cfg.Integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := s.cfg.Integrations[name]
		f, ok := integrations.Get(name)
		if !ok {
			s.log.Warn().Str("integration", name).Msg("brak fabryki – pomijam")
			continue
		}
		inst, err := f(s.log.With().Str("integration", name).Logger(), raw, s.deps)
		if err != nil {
			s.log.Error().Err(err).Str("integration", name).Msg("błąd inicjalizacji")
			continue
		}
		out = append(out, runningInt{Name: name, Inst: inst})
	}
	s.log.Info().Int("started", len(out)).Msg("Integrations built")
	return out
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	ints := s.ints
	s.ints = nil
	s.cancel = nil
	s.nextTick = time.Time{}
	s.mu.Unlock()

	for _, ri := range ints {
		ri.Inst.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("Syncer: stop")
}

// UpdateConfig – nowy interwał i integracje; działający syncer jest restartowany
func (s *Syncer) UpdateConfig(cfg *conf.Config) {
	s.mu.Lock()
	s.cfg = cfg
	isRunning := s.running
	parent := s.parent
	s.mu.Unlock()

	s.log.Info().Msg("Syncer: config zaktualizowany")

	if isRunning {
		// szybki restart, żeby pętla i integracje wzięły nową konfigurację
		s.log.Info().Msg("Syncer: restart po zmianie configu")
		s.Stop()
		if parent == nil || parent.Err() != nil {
			parent = context.Background()
		}
		_ = s.Start(parent)
	}
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:      s.running,
		Interval:     s.every().String(),
		Ticks:        s.ticks,
		LastTick:     s.lastTick,
		LastRunID:    s.lastRunID,
		NextTick:     s.nextTick,
		Integrations: []string{},
	}
	if s.cfg != nil {
		st.AutoEnabled = s.cfg.Sync.AutoEnabled
	}
	for _, ri := range s.ints {
		st.Integrations = append(st.Integrations, ri.Name)
	}
	return st
}

// configInterval – interval_minutes, minimum minuta (woła się pod s.mu albo przed startem)
func (s *Syncer) configInterval() time.Duration {
	if s.cfg == nil {
		return conf.DefaultIntervalMinutes * time.Minute
	}
	return s.cfg.Interval()
}

func (s *Syncer) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.every()
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	// pierwszy strzał od razu
	s.tickOnce(ctx)

	cur := s.interval()
	ticker := time.NewTicker(cur)
	defer ticker.Stop()
	s.setNext(cur)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Syncer: koniec pętli")
			return
		case <-ticker.C:
			// jeśli ktoś zmienił interwał w cfg – odśwież ticker
			if next := s.interval(); next != cur {
				cur = next
				ticker.Reset(cur)
			}
			s.tickOnce(ctx)
			s.setNext(cur)
		}
	}
}

func (s *Syncer) setNext(d time.Duration) {
	s.mu.Lock()
	if s.running {
		s.nextTick = time.Now().Add(d)
	}
	s.mu.Unlock()
}

// tickOnce – odpala pełny przebieg w tle; trwający przebieg = pomijamy tick
func (s *Syncer) tickOnce(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	s.lastTick = time.Now()
	s.mu.Unlock()

	if s.trigger == nil {
		return
	}
	runID, err := s.trigger.Start(ctx, 0)
	switch {
	case errors.Is(err, reconcile.ErrRunActive):
		s.log.Info().Uint64("tick", n).Msg("Syncer: przebieg już trwa – pomijam")
	case err != nil:
		s.log.Error().Err(err).Uint64("tick", n).Msg("Syncer: nie udało się odpalić przebiegu")
	default:
		s.mu.Lock()
		s.lastRunID = runID
		s.mu.Unlock()
		s.log.Info().Uint64("tick", n).Str("run_id", runID).Msg("Syncer: auto sync start")
	}
}
