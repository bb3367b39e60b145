package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/db"
	"github.com/bartek5186/stocksync/internal/integrations"
	"github.com/rs/zerolog"
)

const Name = "importer"

type Config struct {
	WatchDir    string `json:"watch_dir"`    // np. ~/stocksync/imports
	PollSec     int    `json:"poll_sec"`     // np. 5-10s w dev
	Prefix      string `json:"prefix"`       // domyślnie "catalog_"
	DeleteAfter bool   `json:"delete_after"` // usuń plik po udanym imporcie
}

// Importer – wczytuje eksporty katalogu (XML) do lokalnego katalogu (catalog_products)
type Importer struct {
	log   zerolog.Logger
	cfg   Config
	db    *db.Handle
	store *db.CatalogStore

	ctx    context.Context
	cancel context.CancelFunc
}

const batchSize = 500

func New(log zerolog.Logger, cfg Config, h *db.Handle) (*Importer, error) {
	if h == nil {
		return nil, errors.New("importer: brak bazy")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "catalog_"
	}
	return &Importer{log: log, cfg: cfg, db: h, store: db.NewCatalogStore(h)}, nil
}

func (i *Importer) Name() string { return Name }

func (i *Importer) Start(ctx context.Context) error {
	i.ctx, i.cancel = context.WithCancel(ctx)
	i.log.Info().Str("integration", i.Name()).Str("dir", i.dir()).Msg("start")

	ticker := time.NewTicker(i.interval())
	defer ticker.Stop()

	// pierwszy przebieg
	i.scanLogged()

	for {
		select {
		case <-i.ctx.Done():
			i.log.Info().Str("integration", i.Name()).Msg("stop")
			return nil
		case <-ticker.C:
			i.scanLogged()
		}
	}
}

func (i *Importer) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
}

func (i *Importer) interval() time.Duration {
	if i.cfg.PollSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(i.cfg.PollSec) * time.Second
}

func (i *Importer) dir() string { return expandHome(i.cfg.WatchDir) }

func (i *Importer) scanLogged() {
	if _, err := i.ScanOnce(i.ctx); err != nil && i.ctx.Err() == nil {
		i.log.Error().Err(err).Str("dir", i.dir()).Msg("nie mogę odczytać katalogu")
	}
}

// ScanOnce – jeden przebieg po katalogu; zwraca liczbę zaimportowanych plików
func (i *Importer) ScanOnce(ctx context.Context) (int, error) {
	dir := i.dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, i.cfg.Prefix) || !strings.EqualFold(filepath.Ext(name), ".xml") {
			continue
		}
		ok, err := i.ImportFile(ctx, filepath.Join(dir, name))
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Msg("błąd przetwarzania pliku")
			continue
		}
		if ok {
			done++
		}
	}
	return done, nil
}

// ImportFile – rejestracja (dedup) i import jednego pliku. false = już był i DONE.
func (i *Importer) ImportFile(ctx context.Context, fullPath string) (bool, error) {
	name := filepath.Base(fullPath)

	// dedup po filename/sha/export_id
	importID, already, err := i.registerFile(ctx, fullPath, name)
	if err != nil {
		return false, fmt.Errorf("rejestracja pliku: %w", err)
	}

	if already {
		// sprawdź status – jeśli != done, to reprocess
		var rec db.ImportFile
		if err := i.db.DB.WithContext(ctx).Where("import_id = ?", importID).Take(&rec).Error; err == nil {
			if rec.Status == db.ImportDone {
				i.log.Debug().Str("file", name).Msg("plik już był i DONE – pomijam")
				return false, nil
			}
			i.log.Warn().Str("file", name).Uint("import_id", importID).
				Int("status", rec.Status).Msg("plik istnieje, ale nie DONE – ponawiam przetwarzanie")
		}
	}

	n, err := i.processFile(ctx, importID, fullPath)
	if err != nil {
		_ = i.db.DB.WithContext(context.WithoutCancel(ctx)).Model(&db.ImportFile{}).Where("import_id = ?", importID).
			Updates(map[string]any{"status": db.ImportError, "last_error": err.Error()}).Error
		return false, err
	}

	// sukces: status=done, processed_at=now
	now := time.Now()
	if err := i.db.DB.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", importID).
		Updates(map[string]any{"status": db.ImportDone, "processed_at": now, "records": n, "last_error": ""}).Error; err != nil {
		return false, err
	}

	if i.cfg.DeleteAfter {
		if err := os.Remove(fullPath); err != nil {
			i.log.Warn().Err(err).Str("file", name).Msg("nie usunięto pliku")
		}
	}
	i.log.Info().Str("file", name).Uint("import_id", importID).Int("records", n).Msg("przetworzono OK")
	return true, nil
}

func (i *Importer) registerFile(ctx context.Context, fullPath, name string) (uint, bool, error) {
	fi, err := os.Stat(fullPath)
	if err != nil {
		return 0, false, err
	}

	h, err := fileSHA256(fullPath)
	if err != nil {
		return 0, false, err
	}

	exportID, err := readExportID(fullPath)
	if err != nil {
		i.log.Warn().Err(err).Str("file", name).Msg("brak export_id w nagłówku")
	}

	gdb := i.db.DB.WithContext(ctx)

	// idempotencja: po SHA lub nazwie/export_id
	var existing db.ImportFile
	if err := gdb.
		Where("sha256 = ? OR filename = ? OR (export_id <> '' AND export_id = ?)", h, name, exportID).
		Take(&existing).Error; err == nil {
		if existing.SHA256 != h {
			// ta sama nazwa, inna treść: nowy eksport (albo poprawiony plik) pod starą nazwą
			if err := gdb.Model(&existing).Updates(map[string]any{
				"sha256": h, "size_bytes": fi.Size(), "export_id": exportID, "status": db.ImportPending,
			}).Error; err != nil {
				return 0, false, err
			}
			existing.Status = db.ImportPending
		}
		return existing.ImportID, true, nil
	}

	rec := db.ImportFile{
		Filename:    name,
		FileTimeUTC: inferTimeFromName(name),
		ExportID:    exportID,
		SHA256:      h,
		SizeBytes:   fi.Size(),
		Status:      db.ImportPending,
	}
	if err := gdb.Create(&rec).Error; err != nil {
		return 0, false, err
	}
	return rec.ImportID, false, nil
}

// processFile – strumieniowy parse XML → upsert partiami do catalog_products
func (i *Importer) processFile(ctx context.Context, importID uint, fullPath string) (int, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	p := newParser(f)
	batch := make([]catalog.Record, 0, batchSize)
	total, skipped := 0, 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.store.Upsert(ctx, batch...); err != nil {
			i.log.Error().Err(err).Int("n", len(batch)).Msg("upsert catalog batch failed")
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		xp, err := p.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		if xp.ID <= 0 {
			skipped++
			continue
		}
		batch = append(batch, xp.record())
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	i.log.Info().
		Uint("import_id", importID).
		Str("export_id", p.exportID).
		Int("records", total).
		Int("skipped", skipped).
		Msg("XML parsed → catalog OK")
	return total, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func factory(log zerolog.Logger, raw json.RawMessage, deps integrations.Deps) (integrations.Integration, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return New(log, cfg, deps.DB)
}

func init() {
	integrations.Register(Name, factory)
}
