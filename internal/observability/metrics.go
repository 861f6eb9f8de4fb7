package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ServerCollector bundles Prometheus metrics for the request-serving surface
// and provides helpers to wire them into gRPC servers and HTTP handlers.
type ServerCollector struct {
	gatherer prometheus.Gatherer

	Requests          *prometheus.CounterVec
	RequestDurations  prometheus.Histogram
	GateWait          prometheus.Histogram
	BodiesServed      prometheus.Histogram
	ActiveConnections prometheus.Gauge
	DataAvailable     prometheus.Gauge

	RPCRequests *prometheus.CounterVec
}

// NewServerCollector registers server metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewServerCollector(reg prometheus.Registerer) (*ServerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeris_requests_total",
		Help: "Total number of handled ephemeris requests, labeled by response status.",
	}, []string{"status"}), "ephemeris_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ephemeris_request_duration_seconds",
		Help:    "Time spent computing an ephemeris response, excluding gate waits.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "ephemeris_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	gateWait, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ephemeris_gate_wait_seconds",
		Help:    "Time requests spent queued behind the availability gate.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
	}), "ephemeris_gate_wait_seconds")
	if err != nil {
		return nil, err
	}

	bodies, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ephemeris_bodies_served",
		Help:    "Number of body records per response.",
		Buckets: prometheus.LinearBuckets(0, 1, 14),
	}), "ephemeris_bodies_served")
	if err != nil {
		return nil, err
	}

	active, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemeris_active_connections",
		Help: "Current number of open client connections.",
	}), "ephemeris_active_connections")
	if err != nil {
		return nil, err
	}

	available, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemeris_data_available",
		Help: "1 while the kernel dataset is loaded and requests are served, 0 otherwise.",
	}), "ephemeris_data_available")
	if err != nil {
		return nil, err
	}

	rpcs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_grpc_requests_total",
		Help: "Total number of handled admin gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "admin_grpc_requests_total")
	if err != nil {
		return nil, err
	}

	return &ServerCollector{
		gatherer:          gatherer,
		Requests:          requests,
		RequestDurations:  durations,
		GateWait:          gateWait,
		BodiesServed:      bodies,
		ActiveConnections: active,
		DataAvailable:     available,
		RPCRequests:       rpcs,
	}, nil
}

// ObserveRequest records one handled request.
func (c *ServerCollector) ObserveRequest(status string, d time.Duration, bodies int) {
	if c == nil {
		return
	}
	if c.Requests != nil {
		c.Requests.WithLabelValues(status).Inc()
	}
	if c.RequestDurations != nil {
		c.RequestDurations.Observe(d.Seconds())
	}
	if c.BodiesServed != nil {
		c.BodiesServed.Observe(float64(bodies))
	}
}

// ObserveGateWait records time a request spent waiting for the dataset.
func (c *ServerCollector) ObserveGateWait(d time.Duration) {
	if c == nil || c.GateWait == nil {
		return
	}
	c.GateWait.Observe(d.Seconds())
}

// SetActiveConnections updates the open connection gauge.
func (c *ServerCollector) SetActiveConnections(n int) {
	if c == nil || c.ActiveConnections == nil {
		return
	}
	c.ActiveConnections.Set(float64(n))
}

// SetDataAvailable mirrors the availability gate. It matches the gate's
// observer signature.
func (c *ServerCollector) SetDataAvailable(ready bool) {
	if c == nil || c.DataAvailable == nil {
		return
	}
	if ready {
		c.DataAvailable.Set(1)
	} else {
		c.DataAvailable.Set(0)
	}
}

// UnaryServerInterceptor records call counts for unary RPCs.
func (c *ServerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)

		if c == nil || c.RPCRequests == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := splitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ServerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ServerCollector) Handler() http.Handler {
	return HandlerFor(c.Gatherer())
}

// HandlerFor exposes gatherer over HTTP, falling back to the default
// gatherer when nil.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// splitMethod turns "/pkg.Service/Method" into ("Service", "Method"). Anything
// else is reported as unknown.
func splitMethod(fullMethod string) (service, method string) {
	svc, m, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || m == "" || strings.Contains(m, "/") {
		return "unknown", "unknown"
	}
	if dot := strings.LastIndexByte(svc, '.'); dot >= 0 {
		svc = svc[dot+1:]
	}
	if svc == "" {
		return "unknown", "unknown"
	}
	return svc, m
}

// register adds c to reg. A collector already registered under the same
// descriptor is reused so that tests and restarts within one process can
// share a registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, fmt.Errorf("register %s: %w", name, err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return existing, nil
}
