package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/bartek5186/stocksync/internal/reconcile"
	"github.com/spf13/cobra"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the auto-sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()
			a.Log.Info().Str("version", Version).Msg("stocksync serve – start")
			return a.Serve(ctx)
		},
	}
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a full synchronization and wait for it to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			res, err := a.Runner.FullRun(ctx, printProgress(out))
			if res.Status != "" {
				fmt.Fprintln(out, res.Status)
			}
			return err
		},
	}
}

func newCategoryCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "category <id>",
		Short: "Synchronize one catalog category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("niepoprawne id kategorii %q", args[0])
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			res, err := a.Runner.RunCategory(ctx, id, printProgress(out))
			if res.Status != "" {
				fmt.Fprintln(out, res.Status)
			}
			return err
		},
	}
}

func newBatchCmd(f *rootFlags) *cobra.Command {
	var req reconcile.BatchRequest
	c := &cobra.Command{
		Use:   "batch",
		Short: "Process one batch of the incremental protocol and print its progress as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if req.Size <= 0 {
				req.Size = a.Config().Sync.BatchSize
			}
			p, err := a.Runner.RunBatch(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				reconcile.BatchProgress
				RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
			}{p, p.RetryAfterSeconds()})
		},
	}
	c.Flags().IntVar(&req.Index, "batch", 0, "batch index")
	c.Flags().IntVar(&req.Size, "size", 0, "batch size (default from config)")
	c.Flags().IntVar(&req.Skip, "skip", 0, "records of the page already processed (resume after deferral)")
	c.Flags().IntVar(&req.SkipLeaves, "skip-leaves", 0, "variants of the skipped record already processed")
	c.Flags().StringVar(&req.RunID, "run-id", "", "run id to continue")
	c.Flags().Int64Var(&req.CategoryID, "category", 0, "limit to one category")
	return c
}

func newSKUCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sku <sku>",
		Short: "Synchronize a single SKU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Runner.RunSingleSKU(ctx, args[0])
			if err != nil {
				if errors.Is(err, reconcile.ErrNotLeaf) {
					return fmt.Errorf("%s to grupa wariantów – synchronizuj SKU wariantów: %w", args[0], err)
				}
				return err
			}
			out := cmd.OutOrStdout()
			if e == nil {
				fmt.Fprintf(out, "%s: no changes needed\n", args[0])
				return nil
			}
			printEntry(out, *e)
			return nil
		},
	}
}

func printProgress(out io.Writer) reconcile.ProgressFunc {
	return func(p reconcile.Progress) {
		fmt.Fprintln(out, p.Status())
	}
}

func printEntry(out io.Writer, e changelog.Entry) {
	fmt.Fprintf(out, "%s  %-20s %-30s qty %d -> %d  price %s -> %s\n",
		e.Time.Local().Format("2006-01-02 15:04:05"),
		e.SKU, e.Name,
		e.OldQtyValue(), e.NewQty,
		e.OldPrice.StringFixed(2), e.NewPrice.StringFixed(2))
}
