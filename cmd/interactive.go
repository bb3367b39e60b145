package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bartek5186/stocksync/internal/app"
	"github.com/bartek5186/stocksync/internal/reconcile"
	"github.com/spf13/cobra"
)

const replHelp = "start | stop | reload | status | run | sku <sku> | logs | paths | quit"

func newInteractiveCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"repl"},
		Short:   "Simple terminal loop: start/stop the scheduler, run syncs, reload config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()
			a.Log.Info().Msg("Aplikacja (CLI) uruchomiona")

			// AutoStart tak jak w trayu
			if err := a.StartScheduler(ctx); err != nil {
				a.Log.Error().Msgf("AutoStart nieudany: %v", err)
			}
			return repl(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// repl – prosta pętla poleceń; kończy się na quit albo EOF
func repl(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "stocksync CLI", Version)
	fmt.Fprintln(out, "Komendy:", replHelp)
	reader := bufio.NewReader(in)

	for {
		fmt.Fprint(out, "> ")
		line, readErr := reader.ReadString('\n')
		fields := strings.Fields(line)
		cmd := ""
		if len(fields) > 0 {
			cmd = strings.ToLower(fields[0])
		}

		switch cmd {
		case "start":
			if err := a.Syncer.Start(ctx); err != nil {
				fmt.Fprintln(out, "Błąd startu:", err)
				break
			}
			fmt.Fprintln(out, "Start OK")
		case "stop":
			a.Syncer.Stop()
			fmt.Fprintln(out, "Zatrzymano")
		case "reload":
			if err := a.Reload(); err != nil {
				fmt.Fprintln(out, "Błąd reloadu:", err)
				break
			}
			fmt.Fprintln(out, "Konfiguracja przeładowana")
		case "status":
			st := a.Syncer.Status()
			if st.Running {
				fmt.Fprintf(out, "Status: DZIAŁA (co %s, ticks %d)\n", st.Interval, st.Ticks)
			} else {
				fmt.Fprintln(out, "Status: ZATRZYMANY")
			}
			if cur, ok := a.Runner.Current(); ok {
				fmt.Fprintf(out, "Synchronizacja w toku: %s\n", cur.Status)
			} else if a.Runner.Active() {
				fmt.Fprintln(out, "Synchronizacja w toku")
			}
			if last, ok := a.Runner.LastResult(ctx); ok {
				fmt.Fprintf(out, "Ostatni przebieg %s: %s\n", last.FinishedAt.Local().Format("2006-01-02 15:04:05"), last.Status)
			}
		case "run":
			res, err := a.Runner.FullRun(ctx, printProgress(out))
			if errors.Is(err, reconcile.ErrRunActive) {
				fmt.Fprintln(out, "Przebieg już trwa")
				break
			}
			fmt.Fprintln(out, res.Status)
		case "sku":
			if len(fields) < 2 {
				fmt.Fprintln(out, "Użycie: sku <sku>")
				break
			}
			e, err := a.Runner.RunSingleSKU(ctx, fields[1])
			switch {
			case err != nil:
				fmt.Fprintln(out, "Błąd:", err)
			case e == nil:
				fmt.Fprintln(out, "Brak zmian")
			default:
				printEntry(out, *e)
			}
		case "logs":
			entries, err := a.Changes.Recent(ctx)
			if err != nil {
				fmt.Fprintln(out, "Błąd:", err)
				break
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			fmt.Fprintf(out, "%d wpisów\n", len(entries))
		case "paths":
			fmt.Fprintln(out, "Logi:", a.LogPath())
			fmt.Fprintln(out, "Config:", a.CfgPath)
		case "quit", "exit":
			return nil
		case "":
			// enter – ignoruj
		default:
			fmt.Fprintln(out, "Nieznana komenda. Użyj:", replHelp)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
