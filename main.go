//go:build windows && !dev

package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/bartek5186/stocksync/cmd"
	"github.com/bartek5186/stocksync/internal/app"
	"github.com/getlantern/systray"
)

// ścieżka w go:embed jest względna względem TEGO pliku
//
//go:embed assets/icon.ico
var iconData []byte

func main() {
	a, err := app.Open(app.Options{})
	if err != nil {
		panic(err)
	}
	defer a.Close()
	log := a.Log
	ver := cmd.Version

	// kontekst sterujący życiem procesu (CTRL+C / zamknięcie sesji)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// panel HTTP działa razem z trayem; przebiegi w tle żyją tyle co ctx
	go func() {
		if err := a.API(ctx).ListenAndServe(ctx, a.Config().HTTP.Addr); err != nil {
			log.Error().Err(err).Msg("API nie wystartowało")
		}
	}()

	// jeśli proces dostanie sygnał – zatrzymaj syncer i zamknij tray
	go func() {
		<-ctx.Done()
		a.Syncer.Stop()
		systray.Quit()
	}()

	tooltip := func(state string) {
		if state == "" {
			systray.SetTooltip(fmt.Sprintf("stocksync %s", ver))
			return
		}
		systray.SetTooltip(fmt.Sprintf("stocksync %s – %s", ver, state))
	}

	systray.Run(func() {
		// onReady
		if len(iconData) > 0 {
			systray.SetIcon(iconData)
		}
		tooltip("")

		mStart := systray.AddMenuItem("Start synchronizacji", "Uruchom harmonogram")
		mStop := systray.AddMenuItem("Stop synchronizacji", "Zatrzymaj harmonogram")
		mStop.Disable()
		mRunNow := systray.AddMenuItem("Synchronizuj teraz", "Pełny przebieg w tle")

		systray.AddSeparator()
		mOpenPanel := systray.AddMenuItem("Otwórz panel", "Status i log zmian w przeglądarce")
		mOpenLogs := systray.AddMenuItem("Otwórz logi", "Pokaż plik log")
		mOpenCfg := systray.AddMenuItem("Ustawienia (config.json)", "Otwórz plik konfiguracyjny")
		mReload := systray.AddMenuItem("Przeładuj konfigurację", "Wczytaj ponownie config.json")
		systray.AddSeparator()
		mAbout := systray.AddMenuItem(fmt.Sprintf("O programie (%s)", ver), "")
		mQuit := systray.AddMenuItem("Wyjście", "Zamknij aplikację")

		// AutoStart harmonogramu z configu (sync.auto_enabled)
		if a.Config().Sync.AutoEnabled {
			if err := a.Syncer.Start(ctx); err == nil {
				mStart.Disable()
				mStop.Enable()
				tooltip("działa")
			} else {
				log.Error().Msgf("AutoStart nieudany: %v", err)
				tooltip("błąd startu")
			}
		}

		go func() {
			for {
				select {
				case <-mStart.ClickedCh:
					if err := a.Syncer.Start(ctx); err != nil {
						log.Error().Msgf("Start error: %v", err)
						tooltip("błąd startu")
						continue
					}
					mStart.Disable()
					mStop.Enable()
					tooltip("działa")

				case <-mStop.ClickedCh:
					a.Syncer.Stop()
					mStop.Disable()
					mStart.Enable()
					tooltip("zatrzymane")

				case <-mRunNow.ClickedCh:
					runID, err := a.Runner.Start(ctx, 0)
					if err != nil {
						log.Warn().Err(err).Msg("Synchronizuj teraz – pomijam")
						continue
					}
					log.Info().Str("run_id", runID).Msg("Synchronizuj teraz – start")

				case <-mOpenPanel.ClickedCh:
					openInExplorer("http://" + a.Config().HTTP.Addr + "/api/status")

				case <-mOpenLogs.ClickedCh:
					openInExplorer(a.LogPath())

				case <-mOpenCfg.ClickedCh:
					openInExplorer(a.CfgPath)

				case <-mReload.ClickedCh:
					if err := a.Reload(); err != nil {
						log.Error().Msgf("Błąd reloadu: %v", err)
					}

				case <-mAbout.ClickedCh:
					log.Info().Msgf("stocksync %s | %s", ver, runtime.Version())

				case <-mQuit.ClickedCh:
					// łagodne zamykanie
					cancel()
					a.Syncer.Stop()
					systray.Quit()
					return
				}
			}
		}()
	}, func() {
		// onExit – daj chwilę loggerowi na flush
		time.Sleep(50 * time.Millisecond)
	})
}

// przenośne otwieranie plików/katalogów w domyślnej aplikacji
func openInExplorer(path string) {
	switch runtime.GOOS {
	case "windows":
		// "start" musi być uruchomiony przez cmd /C, z pustym tytułem okna ""
		_ = exec.Command("cmd", "/C", "start", "", path).Start()
	case "darwin":
		_ = exec.Command("open", path).Start()
	default:
		_ = exec.Command("xdg-open", path).Start()
	}
}
