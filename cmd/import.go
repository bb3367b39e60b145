package cmd

import (
	"fmt"

	"github.com/bartek5186/stocksync/internal/integrations/importer"
	"github.com/spf13/cobra"
)

func newImportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.xml...]",
		Short: "Import catalog exports into the local catalog (files, or one scan of the watch dir)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var icfg importer.Config
			if err := a.Config().UnmarshalIntegration(importer.Name, &icfg); err != nil && len(args) == 0 {
				return err
			}
			imp, err := importer.New(a.Log.With().Str("integration", importer.Name).Logger(), icfg, a.DB)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				n, err := imp.ScanOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Imported files: %d\n", n)
				return nil
			}
			for _, p := range args {
				ok, err := imp.ImportFile(ctx, p)
				switch {
				case err != nil:
					return fmt.Errorf("%s: %w", p, err)
				case ok:
					fmt.Fprintf(out, "%s: imported\n", p)
				default:
					fmt.Fprintf(out, "%s: already imported\n", p)
				}
			}
			return nil
		},
	}
}
