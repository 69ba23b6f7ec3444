// Package flowcontrol paces batches against a controller's bounded device
// queue using live telemetry, degrading to a permissive mode when telemetry
// repeatedly fails to parse so a silent device can never deadlock the job.
package flowcontrol

import "sync"

// Config tunes the controller's believed queue shape.
type Config struct {
	Capacity      int
	FillTarget    int
	LowWatermark  int
	MinChunk      int
	BatchSize     int
	MaxPerRequest int
}

// Telemetry is the subset of a status response the flow controller cares
// about. HasQueue is false when the response carried no queue object; a
// round with no usable response is reported via ObserveTelemetry's ok flag.
type Telemetry struct {
	QueueSize   int
	HasQueue    bool
	IsExecuting bool
}

// Controller tracks consecutive telemetry parse failures and degrades to a
// permissive readiness policy after three, so a controller that stops
// reporting status never stalls the job indefinitely.
type Controller struct {
	cfg Config

	mu                  sync.Mutex
	lastQueueSize       int
	haveTelemetry       bool
	consecutiveFailures int
	degraded            bool
}

const degradeAfterFailures = 3

// New constructs a Controller, clamping config fields to sane minimums.
func New(cfg Config) *Controller {
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.MinChunk
	}
	if cfg.MaxPerRequest <= 0 {
		cfg.MaxPerRequest = cfg.BatchSize
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = cfg.MaxPerRequest
	}
	return &Controller{cfg: cfg}
}

// ObserveTelemetry records the latest parsed status, or records a parse
// failure when ok is false.
func (c *Controller) ObserveTelemetry(t Telemetry, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.consecutiveFailures++
		if c.consecutiveFailures >= degradeAfterFailures {
			c.degraded = true
		}
		return
	}
	c.consecutiveFailures = 0
	c.degraded = false
	c.haveTelemetry = t.HasQueue
	if t.HasQueue {
		c.lastQueueSize = t.QueueSize
	}
}

// Ready reports whether the coordinator may push another batch right now.
func (c *Controller) Ready(executing bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded || !c.haveTelemetry {
		return true
	}
	if c.lastQueueSize <= c.cfg.LowWatermark {
		return true
	}
	if !executing && c.lastQueueSize == 0 {
		return true
	}
	if c.lastQueueSize >= c.cfg.FillTarget {
		return false
	}
	return true
}

// ChunkSize returns how many of the remaining points to send in the next
// batch. firstBatch forces a single synthetic travel point so the
// controller can establish its starting location before work queues up.
func (c *Controller) ChunkSize(remaining int, firstBatch, executing bool) int {
	if remaining <= 0 {
		return 0
	}
	if firstBatch {
		return 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveTelemetry {
		return minOf(remaining, max2(c.cfg.MinChunk, c.cfg.BatchSize), c.cfg.MaxPerRequest)
	}

	available := c.cfg.Capacity - c.lastQueueSize
	if available <= 0 {
		return 0
	}

	desiredFill := c.cfg.FillTarget - c.lastQueueSize
	if !executing && c.lastQueueSize == 0 {
		desiredFill = c.cfg.FillTarget
	}
	if desiredFill < 0 {
		desiredFill = 0
	}

	return minOf(remaining, max2(desiredFill, c.cfg.MinChunk), available, c.cfg.MaxPerRequest, c.cfg.BatchSize)
}

// Snapshot reports the controller's current understanding of the device
// queue, for diagnostics and metrics gauges.
type Snapshot struct {
	LastQueueSize       int
	ConsecutiveFailures int
	Degraded            bool
	HaveTelemetry       bool
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{LastQueueSize: c.lastQueueSize, ConsecutiveFailures: c.consecutiveFailures, Degraded: c.degraded, HaveTelemetry: c.haveTelemetry}
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minOf(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
