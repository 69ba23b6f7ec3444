// Package engine implements the path transmission core: it accepts a path
// (a sequence of board points), converts it into cable-length batches for a
// two-motor wall plotter, and drives delivery to a single HTTP controller
// with retry, pacing, and pause/cancel support.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pathsender/engine/internal/normalize"
	"pathsender/engine/telemetry/events"
	"pathsender/engine/telemetry/health"
	"pathsender/engine/telemetry/logging"
	"pathsender/engine/telemetry/metrics"
	"pathsender/engine/telemetry/tracing"
)

// Coordinator is the engine's public façade: one process runs at most one
// job at a time, tracked under a single mutex-guarded slot.
type Coordinator struct {
	cfg  Config
	deps workerDeps
	bus  events.Bus
	log  logging.Logger

	health *health.Evaluator

	mu      sync.Mutex
	current *Job
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Coordinator. provider may be nil, in which case metrics are
// discarded; tracer may be nil, in which case tracing is disabled.
func New(cfg Config, provider metrics.Provider, tracer tracing.Tracer, logger *slog.Logger) *Coordinator {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if tracer == nil {
		tracer = tracing.NewTracer(false)
	}
	bus := events.NewBus(provider)
	log := logging.New(logger)
	c := &Coordinator{
		cfg:  cfg,
		deps: newWorkerDeps(cfg, bus, log, tracer, provider),
		bus:  bus,
		log:  log,
	}
	c.health = health.NewEvaluator(time.Second, health.ProbeFunc(c.controllerProbe))
	return c
}

// controllerProbe reports degraded when the job the coordinator still holds
// ended in failure, and healthy otherwise (including when no job is held).
func (c *Coordinator) controllerProbe(ctx context.Context) health.ProbeResult {
	c.mu.Lock()
	job := c.current
	c.mu.Unlock()
	if job == nil {
		return health.Healthy("controller")
	}
	if job.snapshot().Status == StatusFailed {
		return health.Degraded("controller", "most recent job ended in failure")
	}
	return health.Healthy("controller")
}

// deriveStartPosition fetches the controller's reported carriage position so
// a job that doesn't supply its own start position can still send a correct
// startPosition on its first batch. It fails with ErrInvalidInput when there
// is no status endpoint to ask, or the controller reports no state.
func (c *Coordinator) deriveStartPosition(ctx context.Context, statusURL string) (*normalize.Point, error) {
	if statusURL == "" {
		return nil, fmt.Errorf("%w: startPosition is required when statusUrl is not set", ErrInvalidInput)
	}
	res, _, err := c.deps.client.FetchStatus(ctx, statusURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch controller state: %v", ErrInvalidInput, err)
	}
	if res.Missing {
		return nil, fmt.Errorf("%w: controller has no status endpoint to derive a start position from", ErrInvalidInput)
	}
	var tel ControllerTelemetry
	if err := json.Unmarshal(res.Body, &tel); err != nil || tel.State == nil {
		return nil, fmt.Errorf("%w: controller reported no state to derive a start position from", ErrInvalidInput)
	}
	return &normalize.Point{X: tel.State.XMM, Y: tel.State.YMM, PenDown: tel.State.PenDown}, nil
}

// Events exposes the coordinator's telemetry bus so callers can subscribe
// to job-lifecycle events (e.g. to stream them over SSE/WebSocket).
func (c *Coordinator) Events() events.Bus { return c.bus }

// StartJob validates req, normalizes its points, prepends a pen-up travel
// point to the first of them, and begins a new job if none is currently
// active. It returns the new job's id, or ErrBusy if a job is already
// pending/running, or ErrInvalidInput if req is malformed.
func (c *Coordinator) StartJob(ctx context.Context, req StartJobRequest) (string, error) {
	if req.ControllerURL == "" {
		return "", fmt.Errorf("%w: controllerUrl is required", ErrInvalidInput)
	}
	points, err := normalize.Points(req.Points)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	travel := normalize.Point{X: points[0].X, Y: points[0].Y, PenDown: false}
	points = append([]normalize.Point{travel}, points...)

	if req.StartPosition == nil {
		pos, err := c.deriveStartPosition(ctx, req.StatusURL)
		if err != nil {
			return "", err
		}
		req.StartPosition = pos
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.snapshot().Status.IsActive() {
		return "", ErrBusy
	}

	id := uuid.NewString()
	job := newJob(req, points, id, c.cfg.BatchSize)
	jobCtx, cancel := context.WithCancel(context.Background())
	c.current = job
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		defer cancel()
		run(jobCtx, job, c.deps)
	}()

	return id, nil
}

// Status returns the current (or most recently finished) job's snapshot. A
// terminal job is reported exactly once: the coordinator releases its
// reference immediately after, so a large points slice doesn't outlive the
// one caller that needed to observe the final status. It returns false if
// no job has ever been started, or the last job has already been observed.
func (c *Coordinator) Status() (StatusSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job := c.current
	if job == nil {
		return StatusSnapshot{}, false
	}
	snap := job.snapshot()
	if snap.Status.IsTerminal() {
		c.current = nil
		c.done = nil
	}
	return snap, true
}

// Pause suspends the active job between batches. If no job is active it
// changes nothing and returns an error wrapping ErrInvalidInput.
func (c *Coordinator) Pause() error {
	job, err := c.activeJob()
	if err != nil {
		return err
	}
	job.pause()
	c.bus.PublishCtx(context.Background(), events.Event{Category: events.CategoryJob, Type: "paused", Fields: map[string]interface{}{"job_id": job.ID}})
	return nil
}

// Resume releases a paused job's pause gate. If no job is active it changes
// nothing and returns an error wrapping ErrInvalidInput.
func (c *Coordinator) Resume() error {
	job, err := c.activeJob()
	if err != nil {
		return err
	}
	job.resume()
	c.bus.PublishCtx(context.Background(), events.Event{Category: events.CategoryJob, Type: "resumed", Fields: map[string]interface{}{"job_id": job.ID}})
	return nil
}

// Cancel requests termination of the active job and returns once the
// worker goroutine has unwound, or ctx is done first.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	job := c.current
	done := c.done
	c.mu.Unlock()
	if job == nil {
		return fmt.Errorf("%w: no job to cancel", ErrInvalidInput)
	}
	job.requestCancel()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) activeJob() (*Job, error) {
	c.mu.Lock()
	job := c.current
	c.mu.Unlock()
	if job == nil || !job.snapshot().Status.IsActive() {
		return nil, fmt.Errorf("%w: no active job", ErrInvalidInput)
	}
	return job, nil
}

// HealthSnapshot satisfies telemetryhttp.HealthSource.
func (c *Coordinator) HealthSnapshot(ctx context.Context) health.Snapshot {
	return c.health.Evaluate(ctx)
}
