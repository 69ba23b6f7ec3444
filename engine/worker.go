package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pathsender/engine/internal/controllerclient"
	"pathsender/engine/internal/flowcontrol"
	"pathsender/engine/internal/geometry"
	"pathsender/engine/internal/retry"
	"pathsender/engine/telemetry/events"
	"pathsender/engine/telemetry/logging"
	"pathsender/engine/telemetry/metrics"
	"pathsender/engine/telemetry/tracing"
)

// workerDeps bundles the ambient collaborators a worker needs, separate
// from the per-job state in Job so the same set can be shared across every
// job the coordinator runs.
type workerDeps struct {
	geometry geometry.Geometry
	client   *controllerclient.Client
	cfg      Config
	bus      events.Bus
	log      logging.Logger
	tracer   tracing.Tracer
	metrics  metrics.Provider

	batchesSent metrics.Counter
	pointsSent  metrics.Counter
	retries     metrics.Counter
	failures    metrics.Counter
	queueGauge  metrics.Gauge
}

func newWorkerDeps(cfg Config, bus events.Bus, log logging.Logger, tracer tracing.Tracer, provider metrics.Provider) workerDeps {
	d := workerDeps{
		geometry: geometry.Geometry{BoardWidthMM: cfg.BoardWidthMM, MotorOffsetYMM: cfg.MotorOffsetYMM, CarriageOffsetMM: cfg.CarriageOffsetMM},
		client:   controllerclient.New(cfg.Timeout),
		cfg:      cfg,
		bus:      bus,
		log:      log,
		tracer:   tracer,
		metrics:  provider,
	}
	if provider != nil {
		d.batchesSent = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "pathsender", Subsystem: "worker", Name: "batches_sent_total", Help: "Batches successfully acknowledged by the controller"}})
		d.pointsSent = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "pathsender", Subsystem: "worker", Name: "points_sent_total", Help: "Points successfully acknowledged by the controller"}})
		d.retries = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "pathsender", Subsystem: "worker", Name: "send_retries_total", Help: "Retried batch send attempts"}})
		d.failures = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "pathsender", Subsystem: "worker", Name: "job_failures_total", Help: "Jobs that ended in the failed state"}})
		d.queueGauge = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{Namespace: "pathsender", Subsystem: "worker", Name: "controller_queue_size", Help: "Last observed controller device queue depth"}})
	}
	return d
}

// executingTracker holds the most recently observed controller execution
// flag, read by the send loop and written by the status poller.
type executingTracker struct {
	mu        sync.Mutex
	executing bool
}

func (t *executingTracker) set(v bool) {
	t.mu.Lock()
	t.executing = v
	t.mu.Unlock()
}

func (t *executingTracker) get() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executing
}

// run drives a job from pending to a terminal state: it converts the job's
// points into cable lengths, paces delivery against the controller's
// reported device queue, and retries transient send failures until the
// job's own retry deadline or an explicit cancel ends it.
func run(ctx context.Context, j *Job, deps workerDeps) {
	ctx, span := deps.tracer.StartSpan(ctx, "job.run")
	defer span.End()

	j.markRunning()
	deps.bus.PublishCtx(ctx, events.Event{Category: events.CategoryJob, Type: "started", Fields: map[string]interface{}{"job_id": j.ID, "points": len(j.Points)}})
	deps.log.InfoCtx(ctx, "job started", "job_id", j.ID, "points", len(j.Points))

	batch := make([]CableBatchPoint, len(j.Points))
	for i, p := range j.Points {
		l1, l2 := deps.geometry.LengthsForXY(p.X, p.Y)
		batch[i] = CableBatchPoint{L1: l1, L2: l2, PenDown: p.PenDown}
	}

	batchSize := j.BatchSize
	if batchSize <= 0 {
		batchSize = deps.cfg.BatchSize
	}
	estimatedBatches := (len(batch) + batchSize - 1) / batchSize
	if estimatedBatches < 1 {
		estimatedBatches = 1
	}
	j.setTotalBatches(estimatedBatches)

	flow := flowcontrol.New(flowcontrol.Config{
		Capacity:      deps.cfg.ControllerQueueCapacity,
		FillTarget:    deps.cfg.QueueFillTarget,
		LowWatermark:  deps.cfg.QueueLowWatermark,
		MinChunk:      deps.cfg.MinChunkSize,
		BatchSize:     batchSize,
		MaxPerRequest: deps.cfg.MaxPointsPerRequest,
	})

	tracker := &executingTracker{}
	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()

	var g errgroup.Group
	if j.StatusURL != "" {
		g.Go(func() error {
			pollStatus(pollCtx, j, deps, flow, tracker)
			return nil
		})
	}

	var sendErr error
	g.Go(func() error {
		sendErr = sendLoop(ctx, j, deps, flow, tracker, batch)
		stopPoll()
		return nil
	})
	_ = g.Wait()

	finish(ctx, j, deps, sendErr)
}

func sendLoop(ctx context.Context, j *Job, deps workerDeps, flow *flowcontrol.Controller, tracker *executingTracker, batch []CableBatchPoint) error {
	remaining := batch
	firstBatch := true

	for len(remaining) > 0 {
		if j.Cancelled() {
			return ErrCancelled
		}
		if !j.WaitIfPaused(ctx) {
			return ErrCancelled
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		executing := tracker.get()
		if !flow.Ready(executing) {
			if !sleepOrDone(ctx, deps.cfg.StatusPollInterval) {
				return ctx.Err()
			}
			continue
		}

		n := flow.ChunkSize(len(remaining), firstBatch, executing)
		if n <= 0 {
			if !sleepOrDone(ctx, deps.cfg.StatusPollInterval) {
				return ctx.Err()
			}
			continue
		}

		chunk := remaining[:n]
		payload := controllerclient.BatchPayload{
			Reset: firstBatch && j.Reset,
			Speed: j.Speed,
			Points: chunk,
		}
		if firstBatch && j.Reset && j.StartPosition != nil {
			payload.StartPosition = j.StartPosition
		}

		attempts := 0
		sendErr := retry.Do(ctx, retry.Options{
			Interval: deps.cfg.SendRetryInterval,
			Timeout:  deps.cfg.SendRetryTimeout,
			Waiter:   j,
			OnRetry: func(attempt int, err error) {
				attempts = attempt
				if deps.retries != nil {
					deps.retries.Inc(1)
				}
				deps.log.WarnCtx(ctx, "batch send retrying", "job_id", j.ID, "attempt", attempt, "err", err)
			},
		}, func(ctx context.Context) (int, error) {
			return deps.client.SendBatch(ctx, j.ControllerURL, payload)
		})
		if sendErr != nil {
			deps.bus.PublishCtx(ctx, events.Event{Category: events.CategoryRetry, Type: "exhausted", Severity: "error", Fields: map[string]interface{}{"job_id": j.ID, "attempts": attempts, "err": sendErr.Error()}})
			return sendErr
		}

		j.recordBatch(len(chunk))
		deps.bus.PublishCtx(ctx, events.Event{Category: events.CategoryBatch, Type: "sent", Fields: map[string]interface{}{"job_id": j.ID, "points": len(chunk)}})
		if deps.batchesSent != nil {
			deps.batchesSent.Inc(1)
		}
		if deps.pointsSent != nil {
			deps.pointsSent.Inc(float64(len(chunk)))
		}

		remaining = remaining[n:]
		firstBatch = false
	}
	return nil
}

func pollStatus(ctx context.Context, j *Job, deps workerDeps, flow *flowcontrol.Controller, tracker *executingTracker) {
	ticker := time.NewTicker(deps.cfg.StatusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if j.StatusURL == "" {
			return
		}
		res, _, err := deps.client.FetchStatus(ctx, j.StatusURL)
		if err != nil || res.Missing {
			flow.ObserveTelemetry(flowcontrol.Telemetry{}, false)
			continue
		}
		var tel ControllerTelemetry
		if jsonErr := json.Unmarshal(res.Body, &tel); jsonErr != nil {
			flow.ObserveTelemetry(flowcontrol.Telemetry{}, false)
			continue
		}
		t := flowcontrol.Telemetry{}
		if tel.Queue != nil {
			t.HasQueue = true
			t.QueueSize = tel.Queue.Size
			t.IsExecuting = tel.Queue.IsExecuting
			tracker.set(tel.Queue.IsExecuting)
		}
		flow.ObserveTelemetry(t, true)
		if deps.queueGauge != nil {
			snap := flow.Snapshot()
			deps.queueGauge.Set(float64(snap.LastQueueSize))
		}
	}
}

func finish(ctx context.Context, j *Job, deps workerDeps, err error) {
	switch {
	case err == nil:
		j.markTerminal(StatusCompleted, nil)
		deps.bus.PublishCtx(ctx, events.Event{Category: events.CategoryJob, Type: "completed", Fields: map[string]interface{}{"job_id": j.ID}})
		deps.log.InfoCtx(ctx, "job completed", "job_id", j.ID)
	case err == ErrCancelled || j.Cancelled():
		j.markTerminal(StatusCancelled, ErrCancelled)
		if j.CancelURL != "" {
			_ = deps.client.Cancel(context.WithoutCancel(ctx), j.CancelURL)
		}
		deps.bus.PublishCtx(ctx, events.Event{Category: events.CategoryJob, Type: "cancelled", Fields: map[string]interface{}{"job_id": j.ID}})
		deps.log.InfoCtx(ctx, "job cancelled", "job_id", j.ID)
	default:
		j.markTerminal(StatusFailed, err)
		if deps.failures != nil {
			deps.failures.Inc(1)
		}
		deps.bus.PublishCtx(ctx, events.Event{Category: events.CategoryError, Type: "job_failed", Severity: "error", Fields: map[string]interface{}{"job_id": j.ID, "err": err.Error()}})
		deps.log.ErrorCtx(ctx, "job failed", "job_id", j.ID, "err", err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
