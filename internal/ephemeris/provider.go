// Package ephemeris computes per-body motion state from a loaded kernel
// dataset.
package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/ephemeris-server/internal/kernel"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when kernels are
	// already loaded; Shutdown must come first.
	ErrAlreadyInitialized = errors.New("ephemeris: provider already initialized")
	// ErrNotInitialized is returned by queries made while no kernels are loaded.
	ErrNotInitialized = errors.New("ephemeris: provider not initialized")
	// ErrUnavailable marks a body whose state cannot be computed. It is an
	// expected outcome, not a failure of the request.
	ErrUnavailable = errors.New("ephemeris: state unavailable")
)

// UnknownFrame is returned by ResolveFrame when a body has no usable frame.
const UnknownFrame = "UNKNOWN"

// Toolkit is the navigation toolkit the provider drives. *kernel.Pool
// implements it.
type Toolkit interface {
	Furnish(path string) error
	Clear()
	StrToET(utc string) (float64, error)
	BodyFrame(body int) (int, string, bool)
	FrameName(code int) (string, bool)
	FrameCode(name string) (int, bool)
	StateJ2000(target, observer int, et float64, abcorr string) (kernel.State, float64, error)
	Rotation(frame int, et float64) (kernel.Mat3, kernel.Vec3, error)
}

// MotionState is the state of one body relative to the observer in J2000.
// Orientation is the body-fixed to J2000 rotation as a quaternion ordered
// x, y, z, w. AngularVelocity is in rad/s, expressed in the body-fixed frame.
type MotionState struct {
	Position        [3]float64
	Velocity        [3]float64
	Orientation     [4]float64
	AngularVelocity [3]float64
}

// Provider owns the lifecycle of the kernels loaded into a Toolkit.
// Computations run concurrently with each other; Initialize, Reload and
// Shutdown wait for them to finish.
type Provider struct {
	mu          sync.RWMutex
	tk          Toolkit
	metaKernels []string
	initialized bool
	log         logging.Logger
}

// NewProvider constructs a provider that loads metaKernels, in order, on
// Initialize.
func NewProvider(tk Toolkit, metaKernels []string, log logging.Logger) *Provider {
	if log == nil {
		log = logging.Noop()
	}
	mk := make([]string, len(metaKernels))
	copy(mk, metaKernels)
	return &Provider{tk: tk, metaKernels: mk, log: log}
}

// Initialize loads every configured meta-kernel. Files that fail to load are
// logged and returned joined, but the provider still counts as initialized
// with whatever did load; call Shutdown before initializing again.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return ErrAlreadyInitialized
	}
	return p.loadLocked(ctx)
}

// Reload unloads the current kernels, runs replace, and loads the configured
// meta-kernels again, all under one exclusive hold: a Session acquired before
// Reload sees only the old dataset and one acquired after sees only the new.
// The kernels in place after replace are loaded even when replace fails; its
// error is returned. Load problems are logged as by Initialize.
func (p *Provider) Reload(ctx context.Context, replace func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		p.tk.Clear()
		p.initialized = false
		p.log.Debug(ctx, "kernels unloaded")
	}
	var err error
	if replace != nil {
		err = replace()
	}
	_ = p.loadLocked(ctx)
	return err
}

func (p *Provider) loadLocked(ctx context.Context) error {
	var errs []error
	for _, mk := range p.metaKernels {
		if err := p.furnish(mk); err != nil {
			p.log.Warn(ctx, "kernel load reported errors",
				logging.String("meta_kernel", mk),
				logging.Err(err),
			)
			errs = append(errs, err)
			continue
		}
		p.log.Debug(ctx, "meta-kernel loaded", logging.String("meta_kernel", mk))
	}
	p.initialized = true
	return errors.Join(errs...)
}

func (p *Provider) furnish(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load %s: toolkit panic: %v", path, r)
		}
	}()
	return p.tk.Furnish(path)
}

// Shutdown unloads all kernel data. Queries fail with ErrNotInitialized until
// the next Initialize. Calling Shutdown on an uninitialized provider is a
// no-op.
func (p *Provider) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	p.tk.Clear()
	p.initialized = false
	p.log.Debug(ctx, "kernels unloaded")
}

// Initialized reports whether kernels are currently loaded.
func (p *Provider) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// ResolveFrame returns the name of the body-fixed frame of body, falling back
// to a frame whose code equals the body ID (spacecraft frames), or
// UnknownFrame.
func (p *Provider) ResolveFrame(body int32) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name, _ := p.resolveFrame(body)
	return name
}

func (p *Provider) resolveFrame(body int32) (name string, code int) {
	defer func() {
		if r := recover(); r != nil {
			name, code = UnknownFrame, 0
		}
	}()
	if code, name, found := p.tk.BodyFrame(int(body)); found && name != "" {
		return name, code
	}
	if name, ok := p.tk.FrameName(int(body)); ok && name != "" {
		return name, int(body)
	}
	return UnknownFrame, 0
}

// Session is a read hold on one loaded dataset. Every computation made
// through it sees the same kernels; Release must be called once the caller
// is done, and the session must not be used afterwards.
type Session interface {
	TimeToEphemerisTime(ts float64) (float64, error)
	ComputeState(et float64, body, observer int32, lightTime bool) (MotionState, error)
	Release()
}

// Acquire returns a Session on the loaded dataset. Reload, Initialize and
// Shutdown wait until every outstanding session is released.
func (p *Provider) Acquire() (Session, error) {
	p.mu.RLock()
	if !p.initialized {
		p.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	return &lease{p: p}, nil
}

type lease struct {
	p    *Provider
	once sync.Once
}

func (l *lease) TimeToEphemerisTime(ts float64) (float64, error) {
	return l.p.timeToET(ts)
}

func (l *lease) ComputeState(et float64, body, observer int32, lightTime bool) (MotionState, error) {
	return l.p.computeState(et, body, observer, lightTime)
}

func (l *lease) Release() {
	l.once.Do(l.p.mu.RUnlock)
}

// TimeToEphemerisTime converts a POSIX timestamp to ephemeris time.
func (p *Provider) TimeToEphemerisTime(ts float64) (float64, error) {
	s, err := p.Acquire()
	if err != nil {
		return 0, err
	}
	defer s.Release()
	return s.TimeToEphemerisTime(ts)
}

// ComputeState returns the state of body relative to observer at et. With
// lightTime set, the state is corrected for light time and stellar
// aberration and the orientation is evaluated at et minus the light time.
// Any toolkit failure is reported as ErrUnavailable.
//
// Callers computing several bodies for one answer should hold a Session
// instead, so a Reload cannot land between them.
func (p *Provider) ComputeState(et float64, body, observer int32, lightTime bool) (MotionState, error) {
	s, err := p.Acquire()
	if err != nil {
		return MotionState{}, err
	}
	defer s.Release()
	return s.ComputeState(et, body, observer, lightTime)
}

func (p *Provider) timeToET(ts float64) (et float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert %f: toolkit panic: %v", ts, r)
		}
	}()
	return p.tk.StrToET(FormatUTC(ts))
}

func (p *Provider) computeState(et float64, body, observer int32, lightTime bool) (ms MotionState, err error) {
	defer func() {
		if r := recover(); r != nil {
			ms, err = MotionState{}, fmt.Errorf("%w: body %d: toolkit panic: %v", ErrUnavailable, body, r)
		}
	}()

	frame, code := p.resolveFrame(body)
	if frame == UnknownFrame {
		return MotionState{}, fmt.Errorf("%w: no frame for body %d", ErrUnavailable, body)
	}
	if code == 0 {
		c, ok := p.tk.FrameCode(frame)
		if !ok {
			return MotionState{}, fmt.Errorf("%w: frame %s has no code", ErrUnavailable, frame)
		}
		code = c
	}

	corr := kernel.CorrectionNone
	if lightTime {
		corr = kernel.CorrectionLTStellar
	}
	st, lt, err := p.tk.StateJ2000(int(body), int(observer), et, corr)
	if err != nil {
		return MotionState{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	orientEpoch := et
	if lightTime {
		orientEpoch = et - lt
	}
	rot, av, err := p.tk.Rotation(code, orientEpoch)
	if err != nil {
		return MotionState{}, fmt.Errorf("%w: frame %s: %w", ErrUnavailable, frame, err)
	}
	q := kernel.MatrixToQuaternion(rot)

	return MotionState{
		Position:        st.Pos,
		Velocity:        st.Vel,
		Orientation:     [4]float64{q[1], q[2], q[3], q[0]},
		AngularVelocity: av,
	}, nil
}
