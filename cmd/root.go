// Package cmd – komendy CLI (cobra)
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bartek5186/stocksync/internal/app"
	"github.com/spf13/cobra"
)

// Version – nadpisywane przez -ldflags "-X 'github.com/bartek5186/stocksync/cmd.Version=1.0.1'"
var Version = "1.0.0"

type rootFlags struct {
	dir        string
	configPath string
}

// NewRootCmd buduje całe drzewo komend (każde wywołanie od zera – wygodne w testach)
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:          app.Name,
		Short:        "Sync stock quantity and price from the upstream service into the catalog",
		Long:         `Reconciles catalog quantity and price by SKU against the upstream service, respecting its request budget.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.dir, "dir", "", "data directory (default: <user config dir>/stocksync)")
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "config file (default: <dir>/config.json)")

	root.AddCommand(
		newServeCmd(f),
		newRunCmd(f),
		newBatchCmd(f),
		newSKUCmd(f),
		newCategoryCmd(f),
		newLogsCmd(f),
		newImportCmd(f),
		newConfigCmd(f),
		newInteractiveCmd(f),
	)
	return root
}

// Execute – wołane z main.main()
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (f *rootFlags) open() (*app.App, error) {
	return app.Open(app.Options{Dir: f.dir, ConfigPath: f.configPath})
}

// configFile – ścieżka configu bez otwierania całej aplikacji
func (f *rootFlags) configFile() (string, error) {
	if f.configPath != "" {
		return f.configPath, nil
	}
	dir := f.dir
	if dir == "" {
		d, err := app.DefaultDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	return filepath.Join(dir, "config.json"), nil
}

// signalContext – CTRL+C / SIGTERM kończy komendę
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
