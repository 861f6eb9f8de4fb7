package main

import (
	"fmt"
	"io"

	"github.com/signalsfoundry/ephemeris-server/internal/config"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries state shared by the subcommands.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	configPath string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "ephemeris-server",
		Short:         "Serve spacecraft and planetary states over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./ephemeris-server.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("root", "", "project root holding data/ (default: parent of the executable directory)")
	a.bind(pf, map[string]string{
		"log.level":    "log-level",
		"log.format":   "log-format",
		"dataset.root": "root",
	})

	root.AddCommand(
		newServeCmd(a),
		newSyncCmd(a),
		newRequestCmd(a),
		newConfigCmd(a),
	)
	return root
}

// bind maps config keys to flags so that a flag set on the command line
// overrides the file and environment.
func (a *app) bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := a.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// load reads, decodes and validates the configuration and builds the logger.
func (a *app) load(validate bool) (config.Config, logging.Logger, error) {
	if err := config.ReadFile(a.v, a.configPath); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return config.Config{}, nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, fmt.Errorf("invalid configuration:\n%w", err)
		}
	}
	logCfg := cfg.LogSettings()
	logCfg.Output = a.stderr
	return cfg, logging.New(logCfg), nil
}
