package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options – skąd i jak logujemy
type Options struct {
	File    string    // pusty = tylko konsola
	Console bool
	Level   string    // debug | info | warn | error
	Out     io.Writer // konsola; domyślnie os.Stdout
}

// New otwiera plik logów (append), opcjonalnie dokłada konsolę i ustawia globalny logger.
// Zwrócony io.Closer zamyka plik.
func New(o Options) (zerolog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if o.File != "" {
		_ = os.MkdirAll(filepath.Dir(o.File), 0o755)
		// Utwórz plik logów (append + tworzenie jeśli brak)
		logFile, err := os.OpenFile(o.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("nie można otworzyć pliku log: %w", err)
		}
		writers = append(writers, logFile)
		closer = logFile
	}

	// Format czasu
	zerolog.TimeFieldFormat = time.RFC3339

	if o.Console || len(writers) == 0 {
		out := o.Out
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	var writer io.Writer = writers[0]
	if len(writers) > 1 {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	// Logger z timestampem i info o miejscu wywołania
	logger := zerolog.New(writer).
		Level(ParseLevel(o.Level)).
		With().
		Timestamp().
		Caller().
		Logger()

	// Ustaw globalny logger
	log.Logger = logger

	return logger, closer, nil
}

// ParseLevel – nieznany / pusty poziom = info
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
