package main

import (
	"fmt"
	"os"

	"github.com/signalsfoundry/ephemeris-server/internal/dataset"
	"github.com/signalsfoundry/ephemeris-server/internal/ephemeris"
	"github.com/signalsfoundry/ephemeris-server/internal/gate"
	"github.com/signalsfoundry/ephemeris-server/internal/kernel"
	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one dataset sync cycle and exit",
		Long: "Checks the remote version marker and, when it differs from the local one, " +
			"downloads, patches and installs the dataset. The installed kernels are loaded " +
			"once to verify them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := a.load(true)
			if err != nil {
				return err
			}
			layout := cfg.Layout()
			if err := os.MkdirAll(layout.DataDir(), 0o755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}

			opts, closeJournal, _, err := coordinatorOptions(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer closeJournal()

			provider := ephemeris.NewProvider(kernel.NewPool(), layout.MetaKernels(cfg.Dataset.MetaKernels), log)
			coord := dataset.NewCoordinator(layout, newRemote(cfg, log), provider, gate.New(), log, opts...)

			if checkOnly {
				remote, newer, err := coord.CheckVersion(ctx)
				if err != nil {
					return err
				}
				local, _, _ := layout.LocalVersion()
				fmt.Fprintf(a.stdout, "local:  %s\nremote: %s\nupdate: %t\n", orNone(local), remote, newer)
				return nil
			}

			outcome, err := coord.RunCycle(ctx)
			provider.Shutdown(ctx)
			if err != nil {
				return err
			}
			version, _, _ := layout.LocalVersion()
			fmt.Fprintf(a.stdout, "%s: %s\n", outcome, orNone(version))
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only compare the local and remote versions")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
