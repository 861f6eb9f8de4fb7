package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/ephemeris-server/internal/admin"
	"github.com/signalsfoundry/ephemeris-server/internal/config"
	"github.com/signalsfoundry/ephemeris-server/internal/dataset"
	"github.com/signalsfoundry/ephemeris-server/internal/ephemeris"
	"github.com/signalsfoundry/ephemeris-server/internal/gate"
	"github.com/signalsfoundry/ephemeris-server/internal/kernel"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
	"github.com/signalsfoundry/ephemeris-server/internal/observability"
	"github.com/signalsfoundry/ephemeris-server/internal/protocol"
	"github.com/signalsfoundry/ephemeris-server/internal/server"
	"github.com/signalsfoundry/ephemeris-server/internal/shutdown"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync the kernel dataset and answer ephemeris requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load(true)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log, serveDeps{})
		},
	}
	f := cmd.Flags()
	f.IntP("port", "p", 9002, "WebSocket listen port")
	f.Duration("sync-interval", 0, "time between dataset version checks (default 24h)")
	f.String("key", "", "TLS private key (PEM)")
	f.String("cert", "", "TLS certificate (PEM)")
	f.String("passphrase", "", "passphrase of an encrypted TLS key")
	f.String("metrics-addr", ":9090", "admin HTTP address for /metrics, /healthz and /sync/history (empty disables)")
	f.String("grpc-addr", ":9091", "gRPC health address (empty disables)")
	a.bind(f, map[string]string{
		"server.port":           "port",
		"sync.interval":         "sync-interval",
		"server.tls.key":        "key",
		"server.tls.cert":       "cert",
		"server.tls.passphrase": "passphrase",
		"admin.metrics_addr":    "metrics-addr",
		"admin.grpc_addr":       "grpc-addr",
	})
	return cmd
}

// serveDeps overrides collaborators in tests.
type serveDeps struct {
	remote   dataset.Remote
	listener net.Listener
	adminLis net.Listener
	registry *prometheus.Registry
}

// runServe wires the dataset coordinator, the connection layer and the
// admin surface, then runs them until ctx is done. The WebSocket listener is
// bound before anything starts so that a bind failure exits early.
func runServe(ctx context.Context, cfg config.Config, log logging.Logger, deps serveDeps) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	reg := deps.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	collector, err := observability.NewServerCollector(reg)
	if err != nil {
		return fmt.Errorf("server metrics: %w", err)
	}
	syncMetrics, err := observability.NewSyncCollector(reg)
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	layout := cfg.Layout()
	if err := os.MkdirAll(layout.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	provider := ephemeris.NewProvider(kernel.NewPool(), layout.MetaKernels(cfg.Dataset.MetaKernels), log)
	g := gate.New()
	g.OnChange(collector.SetDataAvailable)

	coordOpts, closeJournal, history, err := coordinatorOptions(ctx, cfg, syncMetrics)
	if err != nil {
		return err
	}
	defer closeJournal()

	remote := deps.remote
	if remote == nil {
		remote = newRemote(cfg, log)
	}
	coord := dataset.NewCoordinator(layout, remote, provider, g, log, coordOpts...)

	handler := protocol.NewHandler(provider, ephemeris.Catalog, log)
	srv := server.New(cfg.ServerSettings(), handler, g, log, server.WithMetrics(collector))

	adminOpts := []admin.Option{
		admin.WithMetricsHandler(observability.HandlerFor(reg)),
		admin.WithUnaryInterceptor(collector.UnaryServerInterceptor()),
	}
	if history != nil {
		adminOpts = append(adminOpts, admin.WithHistory(history))
	}
	adm := admin.New(admin.Config{MetricsAddr: cfg.Admin.MetricsAddr, GRPCAddr: cfg.Admin.GRPCAddr}, g, log, adminOpts...)
	g.OnChange(adm.SetReady)

	lis := deps.listener
	if lis == nil {
		if lis, err = net.Listen("tcp", cfg.ListenAddr()); err != nil {
			return fmt.Errorf("%w: %s: %v", server.ErrBind, cfg.ListenAddr(), err)
		}
	}

	adminRun := adm.Run
	if deps.adminLis != nil {
		adminRun = func(ctx context.Context) error { return adm.Serve(ctx, deps.adminLis, nil) }
	}

	log.Info(ctx, "ephemeris server starting",
		logging.String("dataset", layout.DatasetDir()),
		logging.String("listen", lis.Addr().String()),
	)
	sd := shutdown.New(log)
	return sd.Run(ctx,
		shutdown.Worker{Name: "sync", Run: coord.Run, Stopper: coord},
		shutdown.Worker{Name: "server", Run: func(ctx context.Context) error { return srv.Serve(ctx, lis) }, Stopper: srv},
		shutdown.Worker{Name: "admin", Run: adminRun, Stopper: adm},
	)
}

func newRemote(cfg config.Config, log logging.Logger) *dataset.HTTPRemote {
	return dataset.NewHTTPRemote(
		dataset.NewHTTPClient(log),
		cfg.Dataset.VersionURL,
		cfg.Dataset.ArchiveURL,
		cfg.Sync.VersionTimeout,
		cfg.Sync.DownloadTimeout,
		log,
	)
}

// coordinatorOptions builds the schedule, journal and metrics options. The
// returned close function is always safe to call; history is nil when the
// journal is disabled.
func coordinatorOptions(ctx context.Context, cfg config.Config, m dataset.Metrics) ([]dataset.Option, func(), admin.History, error) {
	schedule, err := dataset.NewSchedule(cfg.Sync.Interval, cfg.Sync.Schedule)
	if err != nil {
		return nil, func() {}, nil, err
	}
	opts := []dataset.Option{
		dataset.WithSchedule(schedule),
		dataset.WithPathToken(cfg.Dataset.PathToken),
		dataset.WithCleanup(cfg.Dataset.Cleanup),
	}
	if m != nil {
		opts = append(opts, dataset.WithMetrics(m))
	}

	path := cfg.JournalPath()
	if path == "" {
		return opts, func() {}, nil, nil
	}
	journal, err := dataset.OpenJournal(ctx, path)
	if err != nil {
		return nil, func() {}, nil, fmt.Errorf("open sync journal: %w", err)
	}
	opts = append(opts, dataset.WithJournal(journal))
	return opts, func() { _ = journal.Close() }, journal, nil
}
