// Package server is the connection layer: it accepts WebSocket clients,
// answers 13-byte ephemeris requests through the protocol handler and echoes
// every other message back unchanged.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/ephemeris-server/internal/connid"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
	"github.com/signalsfoundry/ephemeris-server/internal/observability"
	"github.com/signalsfoundry/ephemeris-server/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"
)

// ErrBind is returned when the listening socket cannot be opened.
var ErrBind = errors.New("server: bind failed")

const (
	DefaultPath            = "/"
	DefaultMaxMessageBytes = 1024
)

// Config holds the listener settings.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":9002".
	Addr            string
	Path            string
	MaxMessageBytes int
	TLS             TLSConfig
}

// Handler answers one ephemeris request.
type Handler interface {
	Handle(ctx context.Context, raw []byte) ([]byte, protocol.Result, error)
}

// Gate blocks until the dataset is available.
type Gate interface {
	Wait(ctx context.Context) error
}

// Metrics receives per-request and per-connection measurements.
type Metrics interface {
	ObserveRequest(status string, d time.Duration, bodies int)
	ObserveGateWait(d time.Duration)
	SetActiveConnections(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, time.Duration, int) {}
func (noopMetrics) ObserveGateWait(time.Duration)             {}
func (noopMetrics) SetActiveConnections(int)                  {}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request and connection metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer overrides the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Server tracks open connections and serves them until Stop.
type Server struct {
	cfg     Config
	handler Handler
	gate    Gate
	log     logging.Logger
	metrics Metrics
	tracer  trace.Tracer
	ids     *connid.Allocator

	// base is the parent of every connection context; cancelling it releases
	// requests parked on the gate.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	httpSrv  *http.Server
	addr     net.Addr
	conns    map[uint64]*conn
	wg       sync.WaitGroup
}

// New builds a Server. A nil logger disables logging.
func New(cfg Config, handler Handler, gate Gate, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		gate:    gate,
		log:     log,
		metrics: noopMetrics{},
		tracer:  observability.Tracer(),
		ids:     connid.New(),
		base:    base,
		cancel:  cancel,
		conns:   make(map[uint64]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds cfg.Addr and serves until ctx is done or Stop is
// called. Bind failures wrap ErrBind.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, s.cfg.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis. It returns nil after a requested stop,
// once every connection handler has returned.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	if s.cfg.TLS.Enabled() {
		store, err := newCertStore(s.cfg.TLS, s.log)
		if err != nil {
			lis.Close()
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		if s.cfg.TLS.Watch {
			go func() {
				if err := store.watch(s.base); err != nil {
					s.log.Warn(ctx, "TLS certificate watcher stopped", logging.Err(err))
				}
			}()
		}
		lis = tls.NewListener(lis, store.tlsConfig())
	}

	mux := http.NewServeMux()
	// A nil Handshake accepts any Origin, as browser-less clients send none
	// that would match.
	mux.Handle(s.cfg.Path, websocket.Server{Handler: s.serveConn})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.httpSrv = srv
	s.addr = lis.Addr()
	s.mu.Unlock()

	scheme := "ws"
	if s.cfg.TLS.Enabled() {
		scheme = "wss"
	}
	s.log.Info(ctx, "listening for WebSocket clients",
		logging.String("addr", lis.Addr().String()),
		logging.String("scheme", scheme),
		logging.String("path", s.cfg.Path),
	)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.base.Done():
		case <-watchDone:
		}
	}()

	err := srv.Serve(lis)
	s.Stop()
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address once Serve is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop closes the listener, releases requests waiting on the gate and
// closes every open connection. It does not wait; Serve returns once the
// connection handlers have finished.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	srv := s.httpSrv
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Close()
	}
	s.cancel()
	for _, c := range open {
		// x/net/websocket closes with 1000 (normal closure).
		_ = c.ws.Close()
	}
	s.log.Info(context.Background(), "connection layer stopped", logging.Int("closed_connections", len(open)))
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

type conn struct {
	id      uint64
	session string
	ws      *websocket.Conn
	ctx     context.Context
	log     logging.Logger
	opened  time.Time
}

// message is one WebSocket data frame with its payload type, so echoes keep
// the frame type the client used.
type message struct {
	payload []byte
	kind    byte
}

var messageCodec = websocket.Codec{
	Marshal: func(v interface{}) ([]byte, byte, error) {
		m, ok := v.(message)
		if !ok {
			return nil, 0, fmt.Errorf("server: cannot marshal %T", v)
		}
		return m.payload, m.kind, nil
	},
	Unmarshal: func(data []byte, payloadType byte, v interface{}) error {
		m, ok := v.(*message)
		if !ok {
			return fmt.Errorf("server: cannot unmarshal into %T", v)
		}
		m.payload = data
		m.kind = payloadType
		return nil
	},
}

func (s *Server) serveConn(ws *websocket.Conn) {
	c := s.onOpen(ws)
	if c == nil {
		ws.Close()
		return
	}
	defer s.wg.Done()
	defer s.onClose(c)

	ws.MaxPayloadBytes = s.cfg.MaxMessageBytes
	for {
		var m message
		if err := messageCodec.Receive(ws, &m); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				c.log.Warn(c.ctx, "dropping oversized message", logging.Int("limit", s.cfg.MaxMessageBytes))
				continue
			}
			if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
				c.log.Debug(c.ctx, "read failed", logging.Err(err))
			}
			return
		}
		if err := s.onMessage(c, m); err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn(c.ctx, "dropping connection", logging.Err(err))
			}
			return
		}
	}
}

// onOpen registers the connection. It returns nil once the server is
// stopping.
func (s *Server) onOpen(ws *websocket.Conn) *conn {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	id := s.ids.Allocate()
	session := uuid.NewString()
	ctx, log := logging.WithConnLogger(s.base, s.log, id, session)
	c := &conn{id: id, session: session, ws: ws, ctx: ctx, log: log, opened: time.Now()}
	s.conns[id] = c
	s.wg.Add(1)
	n := len(s.conns)
	s.mu.Unlock()

	s.metrics.SetActiveConnections(n)
	remote := ""
	if r := ws.Request(); r != nil {
		remote = r.RemoteAddr
	}
	log.Info(ctx, "client connected", logging.String("remote", remote), logging.Int("active", n))
	return c
}

func (s *Server) onClose(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	n := len(s.conns)
	s.mu.Unlock()
	s.ids.Release(c.id)

	_ = c.ws.Close()
	s.metrics.SetActiveConnections(n)
	c.log.Info(c.ctx, "client disconnected",
		logging.Duration("connected_for", time.Since(c.opened)),
		logging.Int("active", n),
	)
}

func (s *Server) onMessage(c *conn, m message) error {
	if len(m.payload) != protocol.RequestSize {
		return messageCodec.Send(c.ws, m)
	}

	ctx, span := s.tracer.Start(c.ctx, "ephemeris.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("conn_id", int64(c.id)),
			attribute.String("session", c.session),
		),
	)
	defer span.End()

	waitStart := time.Now()
	if err := s.gate.Wait(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("waiting for dataset: %w", err)
	}
	s.metrics.ObserveGateWait(time.Since(waitStart))

	start := time.Now()
	out, res, err := s.handler.Handle(ctx, m.payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.metrics.ObserveRequest(res.Status.String(), time.Since(start), res.Bodies)
	span.SetAttributes(
		attribute.String("ephemeris.mode", res.Request.Mode.String()),
		attribute.Int("ephemeris.observer", int(res.Request.Observer)),
		attribute.String("ephemeris.status", res.Status.String()),
		attribute.Int("ephemeris.bodies", res.Bodies),
	)
	if !res.Status.OK() {
		span.SetStatus(codes.Error, res.Status.String())
	}

	return messageCodec.Send(c.ws, message{payload: out, kind: websocket.BinaryFrame})
}
