package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/ephemeris-server/internal/ephemeris"
	"github.com/signalsfoundry/ephemeris-server/internal/gate"
	"github.com/signalsfoundry/ephemeris-server/internal/protocol"
	"golang.org/x/net/websocket"
)

// fakeEngine serves only Earth and is its own session.
type fakeEngine struct{}

func (e fakeEngine) Acquire() (ephemeris.Session, error) { return e, nil }

func (fakeEngine) Release() {}

func (fakeEngine) TimeToEphemerisTime(ts float64) (float64, error) { return ts, nil }

func (fakeEngine) ComputeState(et float64, body, observer int32, lightTime bool) (ephemeris.MotionState, error) {
	if body != 399 {
		return ephemeris.MotionState{}, ephemeris.ErrUnavailable
	}
	return ephemeris.MotionState{Position: [3]float64{1, 2, 3}, Orientation: [4]float64{0, 0, 0, 1}}, nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
	waits    int
	active   []int
}

func (m *recordingMetrics) ObserveRequest(status string, d time.Duration, bodies int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) ObserveGateWait(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits++
}

func (m *recordingMetrics) SetActiveConnections(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append(m.active, n)
}

func (m *recordingMetrics) snapshot() ([]string, int, []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...), m.waits, append([]int(nil), m.active...)
}

type harness struct {
	srv     *Server
	gate    *gate.Gate
	metrics *recordingMetrics
	url     string
	done    chan error
}

func startServer(t *testing.T, ready bool) *harness {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	g := gate.New()
	if ready {
		g.SignalAvailable()
	}
	m := &recordingMetrics{}
	h := protocol.NewHandler(fakeEngine{}, nil, nil)
	srv := New(Config{Path: "/"}, h, g, nil, WithMetrics(m))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), lis) }()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})
	return &harness{srv: srv, gate: g, metrics: m, url: "ws://" + lis.Addr().String() + "/", done: done}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func receiveAsync(ws *websocket.Conn) <-chan []byte {
	out := make(chan []byte, 1)
	go func() {
		var b []byte
		if err := websocket.Message.Receive(ws, &b); err != nil {
			close(out)
			return
		}
		out <- b
	}()
	return out
}

func TestServerAnswersRequest(t *testing.T) {
	h := startServer(t, true)
	ws := dial(t, h.url)

	req := protocol.Request{Timestamp: 1728000000, Mode: protocol.ModeInstantaneous, Observer: -91000}
	if err := websocket.Message.Send(ws, protocol.EncodeRequest(req)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var raw []byte
	if err := websocket.Message.Receive(ws, &raw); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.Status != protocol.StatusInstantaneous || len(resp.Records) != 1 || resp.Records[0].ID != 399 {
		t.Fatalf("response = %+v", resp)
	}

	statuses, waits, _ := h.metrics.snapshot()
	if len(statuses) != 1 || statuses[0] != "instantaneous_ok" || waits != 1 {
		t.Fatalf("metrics statuses=%v waits=%d", statuses, waits)
	}
}

func TestServerEchoesOtherLengths(t *testing.T) {
	h := startServer(t, false)
	ws := dial(t, h.url)

	// Echo does not pass through the gate, so a closed gate must not block it.
	if err := websocket.Message.Send(ws, "ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var text string
	if err := websocket.Message.Receive(ws, &text); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if text != "ping" {
		t.Fatalf("echo = %q, want ping", text)
	}

	payload := make([]byte, 20)
	payload[0] = 0xAB
	if err := websocket.Message.Send(ws, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got []byte
	if err := websocket.Message.Receive(ws, &got); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 20 || got[0] != 0xAB {
		t.Fatalf("binary echo = % x", got)
	}
}

func TestRequestQueuesBehindGate(t *testing.T) {
	h := startServer(t, false)
	ws := dial(t, h.url)

	req := protocol.EncodeRequest(protocol.Request{Timestamp: 1, Mode: protocol.ModeLightTime, Observer: 10})
	if err := websocket.Message.Send(ws, req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	replies := receiveAsync(ws)
	select {
	case <-replies:
		t.Fatalf("request answered while the dataset is unavailable")
	case <-time.After(50 * time.Millisecond):
	}

	h.gate.SignalAvailable()
	select {
	case raw, ok := <-replies:
		if !ok {
			t.Fatalf("connection closed instead of answering")
		}
		if protocol.Status(raw[8]) != protocol.StatusLightTime {
			t.Fatalf("status = %q", raw[8])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("request not answered after the gate opened")
	}
}

func TestStopClosesConnections(t *testing.T) {
	h := startServer(t, false)
	ws := dial(t, h.url)

	waitFor(t, func() bool { return h.srv.ActiveConnections() == 1 })

	// Park a request on the closed gate; Stop must release it.
	if err := websocket.Message.Send(ws, protocol.EncodeRequest(protocol.Request{Mode: protocol.ModeInstantaneous})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	replies := receiveAsync(ws)
	time.Sleep(20 * time.Millisecond)

	h.srv.Stop()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after Stop")
	}
	h.done <- nil // for the cleanup

	select {
	case _, ok := <-replies:
		if ok {
			t.Fatalf("received a reply after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client not disconnected")
	}

	_, _, active := h.metrics.snapshot()
	if len(active) < 2 || active[0] != 1 || active[len(active)-1] != 0 {
		t.Fatalf("active connection gauge updates = %v", active)
	}
	if _, err := websocket.Dial(h.url, "", "http://localhost/"); err == nil {
		t.Fatalf("dial succeeded after Stop")
	}
}

func TestConnectionIDsAreReused(t *testing.T) {
	h := startServer(t, true)
	first, err := websocket.Dial(h.url, "", "http://localhost/")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return h.srv.ActiveConnections() == 1 })
	first.Close()
	waitFor(t, func() bool { return h.srv.ActiveConnections() == 0 })

	dial(t, h.url)
	waitFor(t, func() bool { return h.srv.ActiveConnections() == 1 })
	h.srv.mu.Lock()
	defer h.srv.mu.Unlock()
	for id := range h.srv.conns {
		if id != 1 {
			t.Fatalf("connection id = %d, want released id 1 reused", id)
		}
	}
}

func TestListenAndServeBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer busy.Close()

	srv := New(Config{Addr: busy.Addr().String()}, protocol.NewHandler(fakeEngine{}, nil, nil), gate.New(), nil)
	if err := srv.ListenAndServe(context.Background()); !errors.Is(err, ErrBind) {
		t.Fatalf("ListenAndServe = %v, want ErrBind", err)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv := New(Config{}, protocol.NewHandler(fakeEngine{}, nil, nil), gate.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
