package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/ephemeris-server/internal/logging"
	"github.com/signalsfoundry/ephemeris-server/internal/observability"
	"github.com/signalsfoundry/ephemeris-server/timectrl"
)

// State is the coordinator's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateCheckingVersion
	StateDownloading
	StateExtracting
	StatePatching
	StateSwapping
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingVersion:
		return "checking_version"
	case StateDownloading:
		return "downloading"
	case StateExtracting:
		return "extracting"
	case StatePatching:
		return "patching"
	case StateSwapping:
		return "swapping"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Provider is the ephemeris provider whose kernels the coordinator reloads.
// Reload must unload, run replace and load again without letting a reader
// in between.
type Provider interface {
	Initialize(ctx context.Context) error
	Reload(ctx context.Context, replace func() error) error
	Shutdown(ctx context.Context)
	Initialized() bool
}

// Gate is the availability barrier requests wait on.
type Gate interface {
	SignalAvailable()
	SignalUnavailable()
}

// Metrics receives sync measurements. *observability.SyncCollector
// implements it.
type Metrics interface {
	IncCycle(outcome string)
	ObserveStage(stage string, d time.Duration)
	ObserveSwap(d time.Duration)
	SetVersion(version string)
}

type noopMetrics struct{}

func (noopMetrics) IncCycle(string)                    {}
func (noopMetrics) ObserveStage(string, time.Duration) {}
func (noopMetrics) ObserveSwap(time.Duration)          {}
func (noopMetrics) SetVersion(string)                  {}

// DefaultCleanup lists archive payload that is not kernel data.
var DefaultCleanup = []string{"misc", "MANIFEST.in", "README.md"}

// DefaultPathToken is the relative path meta-kernels ship with.
const DefaultPathToken = ".."

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock used for scheduling.
func WithClock(clock timectrl.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSchedule sets when cycles run after the first.
func WithSchedule(s Schedule) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.schedule = s
		}
	}
}

// WithJournal records every cycle.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPathToken overrides the relative path rewritten in meta-kernels.
func WithPathToken(token string) Option {
	return func(c *Coordinator) {
		if token != "" {
			c.token = token
		}
	}
}

// WithCleanup overrides the payload removed from a new dataset.
func WithCleanup(names []string) Option {
	return func(c *Coordinator) { c.cleanup = append([]string(nil), names...) }
}

// Coordinator owns every mutation of the kernel directories. It runs one
// cycle at startup and then one per schedule tick until stopped.
type Coordinator struct {
	layout   Layout
	remote   Remote
	provider Provider
	gate     Gate
	log      logging.Logger

	clock    timectrl.Clock
	schedule Schedule
	journal  Journal
	metrics  Metrics
	token    string
	cleanup  []string

	state    atomic.Int32
	cycleMu  sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
}

// NewCoordinator wires a coordinator. The default schedule is daily.
func NewCoordinator(layout Layout, remote Remote, provider Provider, gate Gate, log logging.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logging.Noop()
	}
	c := &Coordinator{
		layout:   layout,
		remote:   remote,
		provider: provider,
		gate:     gate,
		log:      log,
		clock:    timectrl.Real(),
		metrics:  noopMetrics{},
		token:    DefaultPathToken,
		cleanup:  append([]string(nil), DefaultCleanup...),
		stop:     make(chan struct{}),
	}
	c.schedule, _ = NewSchedule(24*time.Hour, "")
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State reports the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Stop asks Run to return at its next wait point and cancels in-flight
// network transfers. It never blocks and may be called more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Coordinator) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Run loads an existing dataset, then syncs until Stop is called or ctx is
// done. Before returning it closes the gate and unloads the provider.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.shutdown(context.WithoutCancel(ctx))

	c.setState(StateIdle)
	c.activate(ctx)

	for {
		if c.stopping() || ctx.Err() != nil {
			return nil
		}
		_, _ = c.RunCycle(ctx)
		c.setState(StateIdle)

		now := c.clock.Now()
		wait := c.schedule.Next(now).Sub(now)
		c.log.Debug(ctx, "next sync scheduled", logging.Duration("in", wait))
		select {
		case <-c.clock.After(wait):
		case <-c.stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// activate loads the dataset already on disk, if any.
func (c *Coordinator) activate(ctx context.Context) {
	local, ok, err := c.layout.LocalVersion()
	if err != nil {
		c.log.Warn(ctx, "cannot read local dataset version", logging.Err(err))
		return
	}
	if !ok {
		c.log.Info(ctx, "no local dataset; waiting for first sync")
		return
	}
	if err := c.provider.Initialize(ctx); err != nil {
		c.log.Warn(ctx, "dataset loaded with errors", logging.Err(err))
	}
	c.metrics.SetVersion(local)
	c.gate.SignalAvailable()
	c.log.Info(ctx, "dataset available", logging.String("version", local))
}

func (c *Coordinator) shutdown(ctx context.Context) {
	c.setState(StateShuttingDown)
	if c.provider.Initialized() {
		c.gate.SignalUnavailable()
		c.provider.Shutdown(ctx)
	}
	c.log.Info(ctx, "sync coordinator stopped")
}

// CheckVersion compares the local marker with the remote one. newer is true
// when they differ or no local marker exists. It never touches the active
// dataset.
func (c *Coordinator) CheckVersion(ctx context.Context) (remote string, newer bool, err error) {
	_, remote, newer, err = c.checkVersion(ctx)
	return remote, newer, err
}

func (c *Coordinator) checkVersion(ctx context.Context) (local, remote string, newer bool, err error) {
	local, ok, err := c.layout.LocalVersion()
	if err != nil {
		return "", "", false, err
	}
	remote, err = c.remote.FetchVersion(ctx)
	if err != nil {
		return local, "", false, err
	}
	return local, remote, !ok || local != remote, nil
}

// RunCycle performs one check and, when a new version exists, the full
// download, extract, patch and swap sequence. A failed stage abandons the
// cycle without touching the active dataset.
func (c *Coordinator) RunCycle(ctx context.Context) (Outcome, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := ctx.Done()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-done:
		}
	}()

	ctx, span := observability.Tracer().Start(ctx, "dataset.cycle")
	defer span.End()

	entry := Entry{ID: uuid.NewString(), Started: c.clock.Now()}
	log := c.log.With(logging.String("cycle_id", entry.ID))
	span.SetAttributes(attribute.String("cycle.id", entry.ID))

	outcome, err := c.runCycle(ctx, log, &entry)

	entry.Finished = c.clock.Now()
	entry.Outcome = outcome
	span.SetAttributes(attribute.String("cycle.outcome", string(outcome)))
	if err != nil {
		entry.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			entry.Stage = se.Stage
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "sync cycle abandoned", logging.Err(err))
	}
	if rmErr := os.RemoveAll(c.layout.StagingDir()); rmErr != nil {
		log.Warn(ctx, "cannot remove staging directory", logging.Err(rmErr))
	}
	c.metrics.IncCycle(string(outcome))
	if c.journal != nil {
		if jErr := c.journal.Record(context.WithoutCancel(ctx), entry); jErr != nil {
			log.Warn(ctx, "cannot journal sync cycle", logging.Err(jErr))
		}
	}
	return outcome, err
}

func (c *Coordinator) runCycle(ctx context.Context, log logging.Logger, entry *Entry) (Outcome, error) {
	c.setState(StateCheckingVersion)
	var newer bool
	err := c.stage(ctx, StageVersion, func(ctx context.Context) error {
		var err error
		entry.LocalVersion, entry.RemoteVersion, newer, err = c.checkVersion(ctx)
		return err
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !newer {
		log.Info(ctx, "dataset up to date", logging.String("version", entry.LocalVersion))
		return OutcomeUpToDate, nil
	}
	log.Info(ctx, "new dataset version available",
		logging.String("local", entry.LocalVersion),
		logging.String("remote", entry.RemoteVersion),
	)

	staging := c.layout.StagingDir()
	archive := filepath.Join(staging, c.remote.ArchiveName())

	c.setState(StateDownloading)
	err = c.stage(ctx, StageDownload, func(ctx context.Context) error {
		if err := os.RemoveAll(staging); err != nil {
			return err
		}
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return err
		}
		return c.remote.FetchArchive(ctx, archive)
	})
	if err != nil {
		return OutcomeFailed, err
	}

	c.setState(StateExtracting)
	err = c.stage(ctx, StageExtract, func(ctx context.Context) error {
		n, err := Extract(archive, staging)
		if err != nil {
			return err
		}
		if err := os.Remove(archive); err != nil {
			return err
		}
		if _, err := os.Stat(c.layout.StagedDatasetDir()); err != nil {
			return fmt.Errorf("archive has no %s directory: %w", c.layout.ArchiveRoot, err)
		}
		log.Info(ctx, "archive extracted", logging.Int("files", n))
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	c.setState(StatePatching)
	err = c.stage(ctx, StagePatch, func(ctx context.Context) error {
		active, err := filepath.Abs(c.layout.KernelsDir())
		if err != nil {
			return err
		}
		n, err := PatchMetaKernels(c.layout.StagedMetaKernelDir(), c.token, active)
		if err != nil {
			return err
		}
		log.Info(ctx, "meta-kernel paths updated", logging.Int("files", n), logging.String("kernels", active))
		return WriteVersion(filepath.Join(c.layout.StagedDatasetDir(), "version"), entry.RemoteVersion)
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if c.stopping() {
		return OutcomeFailed, stageErr(StageSwap, errors.New("shutdown requested before swap"))
	}

	c.setState(StateSwapping)
	if err := c.stage(ctx, StageSwap, c.swap); err != nil {
		return OutcomeFailed, err
	}
	c.metrics.SetVersion(entry.RemoteVersion)

	if err := RemovePayload(c.layout.DatasetDir(), c.cleanup); err != nil {
		log.Warn(ctx, "cannot remove dataset payload", logging.Err(stageErr(StageCleanup, err)))
	}
	log.Info(ctx, "dataset updated", logging.String("version", entry.RemoteVersion))
	return OutcomeUpdated, nil
}

// swap is the only window in which the gate is closed. It always reopens the
// gate, reloading whatever dataset is in place.
func (c *Coordinator) swap(ctx context.Context) error {
	start := time.Now()
	c.gate.SignalUnavailable()
	err := c.provider.Reload(ctx, func() error {
		return ReplaceDir(c.layout.StagedDatasetDir(), c.layout.DatasetDir())
	})
	c.gate.SignalAvailable()
	c.metrics.ObserveSwap(time.Since(start))
	return err
}

func (c *Coordinator) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := observability.Tracer().Start(ctx, "dataset."+string(stage), trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	c.metrics.ObserveStage(string(stage), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return stageErr(stage, err)
}
