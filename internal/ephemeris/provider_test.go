package ephemeris

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/ephemeris-server/internal/kernel"
)

// fakeToolkit implements Toolkit with canned answers.
type fakeToolkit struct {
	mu        sync.Mutex
	furnished []string
	clears    int
	failLoad  map[string]error

	bodyFrames map[int]string
	frameNames map[int]string
	frameCodes map[string]int
	states     map[int]kernel.State
	lightTime  float64
	panicOn    int

	lastCorr     string
	lastRotEpoch float64
}

func newFakeToolkit() *fakeToolkit {
	return &fakeToolkit{
		failLoad:   map[string]error{},
		bodyFrames: map[int]string{399: "IAU_EARTH", 10: "IAU_SUN"},
		frameNames: map[int]string{-91000: "HERA_SPACECRAFT"},
		frameCodes: map[string]int{"IAU_EARTH": 10013, "IAU_SUN": 10010, "HERA_SPACECRAFT": -91000},
		states: map[int]kernel.State{
			399:    {Pos: kernel.Vec3{1, 2, 3}, Vel: kernel.Vec3{4, 5, 6}},
			10:     {Pos: kernel.Vec3{7, 8, 9}},
			-91000: {Pos: kernel.Vec3{0, 0, 1}},
		},
		lightTime: 2.5,
	}
}

func (f *fakeToolkit) Furnish(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.furnished = append(f.furnished, path)
	return f.failLoad[path]
}

func (f *fakeToolkit) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeToolkit) StrToET(utc string) (float64, error) {
	if utc == "2000-01-01T12:00:00" {
		return 64.184, nil
	}
	return 0, errors.New("unexpected time " + utc)
}

func (f *fakeToolkit) BodyFrame(body int) (int, string, bool) {
	name, ok := f.bodyFrames[body]
	return f.frameCodes[name], name, ok
}

func (f *fakeToolkit) FrameName(code int) (string, bool) {
	name, ok := f.frameNames[code]
	return name, ok
}

func (f *fakeToolkit) FrameCode(name string) (int, bool) {
	code, ok := f.frameCodes[name]
	return code, ok
}

func (f *fakeToolkit) StateJ2000(target, observer int, et float64, abcorr string) (kernel.State, float64, error) {
	if target == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	f.lastCorr = abcorr
	f.mu.Unlock()
	st, ok := f.states[target]
	if !ok {
		return kernel.State{}, 0, kernel.ErrNoCoverage
	}
	return st, f.lightTime, nil
}

func (f *fakeToolkit) Rotation(frame int, et float64) (kernel.Mat3, kernel.Vec3, error) {
	f.mu.Lock()
	f.lastRotEpoch = et
	f.mu.Unlock()
	// 90 degrees about z.
	return kernel.Mat3{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}, kernel.Vec3{0, 0, 7e-5}, nil
}

func TestProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	tk := newFakeToolkit()
	loadErr := errors.New("missing spk")
	tk.failLoad["ops.tm"] = loadErr
	p := NewProvider(tk, []string{"crema.tm", "ops.tm", "plan.tm"}, nil)

	if _, err := p.ComputeState(0, 399, 10, false); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("ComputeState before Initialize: got %v, want ErrNotInitialized", err)
	}

	err := p.Initialize(ctx)
	if !errors.Is(err, loadErr) {
		t.Fatalf("Initialize error = %v, want load error", err)
	}
	if !p.Initialized() {
		t.Fatalf("expected provider to be initialized after partial load")
	}
	if len(tk.furnished) != 3 || tk.furnished[2] != "plan.tm" {
		t.Fatalf("furnished = %v, want all three meta-kernels in order", tk.furnished)
	}

	if err := p.Initialize(ctx); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize: got %v, want ErrAlreadyInitialized", err)
	}

	p.Shutdown(ctx)
	p.Shutdown(ctx)
	if tk.clears != 1 {
		t.Fatalf("clears = %d, want 1", tk.clears)
	}
	if _, err := p.TimeToEphemerisTime(0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("TimeToEphemerisTime after Shutdown: got %v", err)
	}

	tk.failLoad = map[string]error{}
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
}

func TestResolveFrame(t *testing.T) {
	p := NewProvider(newFakeToolkit(), nil, nil)
	cases := map[int32]string{
		399:      "IAU_EARTH",
		-91000:   "HERA_SPACECRAFT",
		-658031:  UnknownFrame,
		-9102000: UnknownFrame,
	}
	for body, want := range cases {
		if got := p.ResolveFrame(body); got != want {
			t.Fatalf("ResolveFrame(%d) = %q, want %q", body, got, want)
		}
	}
}

func TestComputeState(t *testing.T) {
	ctx := context.Background()
	tk := newFakeToolkit()
	p := NewProvider(tk, []string{"a.tm"}, nil)
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ms, err := p.ComputeState(1000, 399, -91000, false)
	if err != nil {
		t.Fatalf("ComputeState: %v", err)
	}
	if ms.Position != [3]float64{1, 2, 3} || ms.Velocity != [3]float64{4, 5, 6} {
		t.Fatalf("unexpected position/velocity %+v", ms)
	}
	if tk.lastCorr != kernel.CorrectionNone || tk.lastRotEpoch != 1000 {
		t.Fatalf("instantaneous: corr=%q rotEpoch=%v", tk.lastCorr, tk.lastRotEpoch)
	}
	// 90 degrees about z: (x, y, z, w) = (0, 0, sin 45, cos 45).
	s := math.Sqrt(0.5)
	want := [4]float64{0, 0, s, s}
	for i := range want {
		if math.Abs(ms.Orientation[i]-want[i]) > 1e-12 {
			t.Fatalf("orientation = %v, want %v", ms.Orientation, want)
		}
	}
	if ms.AngularVelocity != [3]float64{0, 0, 7e-5} {
		t.Fatalf("angular velocity = %v", ms.AngularVelocity)
	}

	if _, err := p.ComputeState(1000, 399, -91000, true); err != nil {
		t.Fatalf("ComputeState light time: %v", err)
	}
	if tk.lastCorr != kernel.CorrectionLTStellar || tk.lastRotEpoch != 1000-2.5 {
		t.Fatalf("light time: corr=%q rotEpoch=%v", tk.lastCorr, tk.lastRotEpoch)
	}
}

func TestComputeStateUnavailable(t *testing.T) {
	tk := newFakeToolkit()
	tk.bodyFrames[-658030] = "DIDYMOS_FIXED"
	tk.frameCodes["DIDYMOS_FIXED"] = 1500001
	tk.bodyFrames[301] = "IAU_MOON"
	tk.frameCodes["IAU_MOON"] = 10020
	tk.panicOn = 301
	p := NewProvider(tk, nil, nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, body := range []int32{-658031, -658030, 301} {
		_, err := p.ComputeState(0, body, 399, false)
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("body %d: got %v, want ErrUnavailable", body, err)
		}
	}
	_, err := p.ComputeState(0, -658030, 399, false)
	if !errors.Is(err, kernel.ErrNoCoverage) {
		t.Fatalf("expected underlying cause to be kept, got %v", err)
	}
}

func TestTimeToEphemerisTime(t *testing.T) {
	p := NewProvider(newFakeToolkit(), nil, nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	et, err := p.TimeToEphemerisTime(946728000)
	if err != nil {
		t.Fatalf("TimeToEphemerisTime: %v", err)
	}
	if et != 64.184 {
		t.Fatalf("et = %v, want 64.184", et)
	}
}

// generationToolkit stamps every state with the number of loads so far.
type generationToolkit struct {
	*fakeToolkit
	gen int
}

func (g *generationToolkit) Furnish(path string) error {
	g.mu.Lock()
	g.gen++
	g.mu.Unlock()
	return g.fakeToolkit.Furnish(path)
}

func (g *generationToolkit) StateJ2000(target, observer int, et float64, abcorr string) (kernel.State, float64, error) {
	st, lt, err := g.fakeToolkit.StateJ2000(target, observer, et, abcorr)
	g.mu.Lock()
	st.Pos[0] = float64(g.gen)
	g.mu.Unlock()
	return st, lt, err
}

func TestSessionHoldsOffReload(t *testing.T) {
	ctx := context.Background()
	tk := &generationToolkit{fakeToolkit: newFakeToolkit()}
	p := NewProvider(tk, []string{"hera.tm"}, nil)
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	s, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first, err := s.ComputeState(0, 399, 10, false)
	if err != nil {
		t.Fatalf("ComputeState: %v", err)
	}

	replaced := make(chan struct{})
	reloaded := make(chan error, 1)
	go func() {
		reloaded <- p.Reload(ctx, func() error {
			close(replaced)
			return nil
		})
	}()

	select {
	case <-replaced:
		t.Fatalf("dataset replaced while a session was open")
	case <-time.After(50 * time.Millisecond):
	}
	second, err := s.ComputeState(0, 10, 399, false)
	if err != nil {
		t.Fatalf("ComputeState: %v", err)
	}
	if first.Position[0] != 1 || second.Position[0] != 1 {
		t.Fatalf("session saw generations %v and %v, want 1 and 1", first.Position[0], second.Position[0])
	}
	s.Release()
	s.Release()

	if err := <-reloaded; err != nil {
		t.Fatalf("Reload: %v", err)
	}
	ms, err := p.ComputeState(0, 399, 10, false)
	if err != nil {
		t.Fatalf("ComputeState after Reload: %v", err)
	}
	if ms.Position[0] != 2 {
		t.Fatalf("generation after Reload = %v, want 2", ms.Position[0])
	}
	if tk.clears != 1 {
		t.Fatalf("clears = %d, want 1", tk.clears)
	}
}

func TestReloadReturnsReplaceErrorAndStillLoads(t *testing.T) {
	ctx := context.Background()
	tk := newFakeToolkit()
	p := NewProvider(tk, []string{"hera.tm"}, nil)
	if _, err := p.Acquire(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Acquire before Initialize: got %v", err)
	}

	boom := errors.New("rename failed")
	if err := p.Reload(ctx, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Reload error = %v, want %v", err, boom)
	}
	if !p.Initialized() || len(tk.furnished) != 1 {
		t.Fatalf("initialized=%v furnished=%v", p.Initialized(), tk.furnished)
	}
	if tk.clears != 0 {
		t.Fatalf("clears = %d, want 0 for a provider that was not loaded", tk.clears)
	}
}
