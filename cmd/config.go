package cmd

import (
	"encoding/json"
	"fmt"

	conf "github.com/bartek5186/stocksync/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(f *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file + STOCKSYNC_* env), secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := f.configFile()
			if err != nil {
				return err
			}
			cfg, _, err := conf.LoadOrCreate(path)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.Redacted())
		},
	}

	setKey := &cobra.Command{
		Use:   "set-key <api-key>",
		Short: "Store the upstream API key (encrypted when the secret env is set)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := f.configFile()
			if err != nil {
				return err
			}
			// sam plik – nadpisania z env nie mogą trafić do zapisu
			cfg, _, err := conf.ReadOrCreate(path)
			if err != nil {
				return err
			}
			changed, err := cfg.SetAPIKey(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !changed {
				fmt.Fprintln(out, "API key unchanged.")
				return nil
			}
			if err := conf.Save(path, cfg); err != nil {
				return err
			}
			if cfg.Upstream.APIKey.Encrypted {
				fmt.Fprintln(out, "API key saved (encrypted).")
			} else {
				fmt.Fprintf(out, "API key saved in plain text – %s.\n", plainHint(cfg))
			}
			return nil
		},
	}

	c.AddCommand(show, setKey)
	return c
}

func plainHint(cfg *conf.Config) string {
	if cfg.Upstream.SecretEnv != "" {
		return "set " + cfg.Upstream.SecretEnv + " to encrypt it"
	}
	return "set upstream.secret_env (e.g. " + conf.DefaultSecretEnv + ") to encrypt it"
}
