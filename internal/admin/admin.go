package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/signalsfoundry/ephemeris-server/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

const shutdownTimeout = 5 * time.Second

// Config selects the listen addresses. An empty address disables that
// listener.
type Config struct {
	MetricsAddr string
	GRPCAddr    string
}

// Server runs the admin HTTP and gRPC listeners.
type Server struct {
	cfg    Config
	mux    http.Handler
	health *health.Server
	grpc   *grpc.Server
	log    logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Server.
type Option func(*options)

type options struct {
	metrics      http.Handler
	history      History
	interceptors []grpc.UnaryServerInterceptor
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithHistory serves the sync journal on /sync/history.
func WithHistory(h History) Option {
	return func(o *options) { o.history = h }
}

// WithUnaryInterceptor adds a gRPC interceptor, e.g. the RPC counter.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(o *options) {
		if i != nil {
			o.interceptors = append(o.interceptors, i)
		}
	}
}

// New builds the admin surface. The health status starts from ready.Ready()
// and follows SetReady afterwards.
func New(cfg Config, ready Readiness, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	h := NewHealth()
	if ready != nil {
		setServing(h, ready.Ready())
	}
	return &Server{
		cfg:    cfg,
		mux:    NewMux(o.metrics, ready, o.history, log),
		health: h,
		grpc:   NewGRPCServer(h, o.interceptors...),
		log:    log,
		stop:   make(chan struct{}),
	}
}

// SetReady updates the gRPC health status. It matches the gate's observer
// signature.
func (s *Server) SetReady(ready bool) { setServing(s.health, ready) }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Run binds the configured listeners and serves until ctx is done or Stop.
// A surface whose address cannot be bound is logged and left off; the admin
// listeners are optional and never take the process down.
func (s *Server) Run(ctx context.Context) error {
	httpLis := s.listen(ctx, "admin HTTP", s.cfg.MetricsAddr)
	grpcLis := s.listen(ctx, "gRPC health", s.cfg.GRPCAddr)
	return s.Serve(ctx, httpLis, grpcLis)
}

func (s *Server) listen(ctx context.Context, surface, addr string) net.Listener {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error(ctx, surface+" disabled: cannot bind",
			logging.String("addr", addr),
			logging.Err(err),
		)
		return nil
	}
	return lis
}

// Serve serves on already bound listeners; either may be nil.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	errCh := make(chan error, 2)
	var httpSrv *http.Server
	if httpLis != nil {
		httpSrv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
		s.log.Info(ctx, "serving admin HTTP", logging.String("addr", httpLis.Addr().String()))
		go func() {
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin http: %w", err)
			}
		}()
	}
	if grpcLis != nil {
		s.log.Info(ctx, "serving gRPC health", logging.String("addr", grpcLis.Addr().String()))
		go func() {
			if err := s.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("admin grpc: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case <-s.stop:
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	// Watch streams never finish on their own.
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		s.grpc.Stop()
	}
	return err
}

// Stop asks Run to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
