package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	var (
		format string
		reveal bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: "Prints the configuration after merging defaults, the config file, EPHEMERIS_* " +
			"environment variables and flags. The output is a valid config file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load(false)
			if err != nil {
				return err
			}
			out, err := cfg.Render(format, reveal)
			if err != nil {
				return err
			}
			if _, err := a.stdout.Write(out); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration is not valid:\n%w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "output format: yaml or toml")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the TLS passphrase instead of masking it")
	return cmd
}
