package db

import (
	"fmt"
	"path/filepath"
	"strings"

	puresqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Handle struct {
	DB     *gorm.DB
	Driver string
	Path   string // DSN / ścieżka pliku
}

// Open otwiera bazę wybranym sterownikiem:
// sqlite (cgo), sqlite-pure (bez cgo), postgres, mysql.
func Open(driver, dsn string) (*Handle, error) {
	var dial gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
		dial = sqlite.Open(dsn)
	case "sqlite-pure", "glebarez":
		driver = "sqlite-pure"
		dial = puresqlite.Open(dsn)
	case "postgres", "postgresql", "pg":
		driver = "postgres"
		dial = postgres.Open(dsn)
	case "mysql", "mariadb":
		driver = "mysql"
		dial = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // logger.Info jeśli chcesz verbose SQL
	})
	if err != nil {
		return nil, fmt.Errorf("db open (%s): %w", driver, err)
	}
	return &Handle{DB: gdb, Driver: driver, Path: dsn}, nil
}

// OpenAt – domyślna baza sqlite w katalogu aplikacji
func OpenAt(dir string) (*Handle, error) {
	return Open("sqlite", filepath.Join(dir, "stocksync.db"))
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
