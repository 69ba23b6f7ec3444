package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pathsender/engine/internal/normalize"
)

// Status is a job's lifecycle state. Transitions only ever move toward one
// of the terminal states; once terminal, a Job is immutable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether s is one of the lifecycle's end states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// IsActive reports whether a job in status s may still be dispatched,
// paused, resumed, or cancelled.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning || s == StatusCancelling
}

// gate is a closeable binary signal: Open lets waiters through, Close blocks
// them until the next Open. It starts open.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

func (g *gate) Wait(ctx context.Context) bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Job represents one in-flight (or finished) path transmission. Its
// identity fields are set once at creation; its progress fields are only
// ever written by the worker goroutine that owns it.
type Job struct {
	ID            string
	ControllerURL string
	StatusURL     string
	CancelURL     string
	StartPosition *normalize.Point
	Speed         int
	Reset         bool
	Points        []normalize.Point
	BatchSize     int

	mu           sync.RWMutex
	status       Status
	err          error
	sentBatches  int
	totalBatches int
	sentPoints   int
	startedAt    time.Time
	finishedAt   time.Time
	paused       bool

	cancelRequested atomic.Bool
	gate            *gate
}

func newJob(req StartJobRequest, points []normalize.Point, id string, batchSize int) *Job {
	return &Job{
		ID:            id,
		ControllerURL: req.ControllerURL,
		StatusURL:     req.StatusURL,
		CancelURL:     req.CancelURL,
		StartPosition: req.StartPosition,
		Speed:         req.Speed,
		Reset:         req.Reset,
		Points:        points,
		BatchSize:     batchSize,
		status:        StatusPending,
		gate:          newGate(),
	}
}

func (j *Job) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusPending {
		j.status = StatusRunning
	}
	j.startedAt = time.Now()
}

func (j *Job) markTerminal(status Status, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.status = status
	j.err = err
	j.finishedAt = time.Now()
	j.gate.Open()
}

func (j *Job) setTotalBatches(n int) {
	j.mu.Lock()
	j.totalBatches = n
	j.mu.Unlock()
}

func (j *Job) recordBatch(points int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sentBatches++
	j.sentPoints += points
}

func (j *Job) requestCancel() {
	j.cancelRequested.Store(true)
	j.gate.Open()
	j.mu.Lock()
	if !j.status.IsTerminal() {
		j.status = StatusCancelling
	}
	j.mu.Unlock()
}

func (j *Job) pause() {
	j.mu.Lock()
	j.paused = true
	j.mu.Unlock()
	j.gate.Close()
}

func (j *Job) resume() {
	j.mu.Lock()
	j.paused = false
	j.mu.Unlock()
	j.gate.Open()
}

// Cancelled implements retry.Waiter.
func (j *Job) Cancelled() bool { return j.cancelRequested.Load() }

// WaitIfPaused implements retry.Waiter: it blocks while paused, returning
// false only if the wait was interrupted by context cancellation.
func (j *Job) WaitIfPaused(ctx context.Context) bool {
	return j.gate.Wait(ctx)
}

func (j *Job) snapshot() StatusSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := StatusSnapshot{
		JobID:        j.ID,
		Status:       j.status,
		SentPoints:   j.sentPoints,
		TotalPoints:  len(j.Points),
		SentBatches:  j.sentBatches,
		TotalBatches: j.totalBatches,
		Paused:       j.paused,
		CancelURL:    j.CancelURL,
	}
	if !j.startedAt.IsZero() {
		ms := j.startedAt.UnixMilli()
		snap.StartedAt = &ms
	}
	if !j.finishedAt.IsZero() {
		ms := j.finishedAt.UnixMilli()
		snap.FinishedAt = &ms
	}
	if j.err != nil {
		snap.Error = j.err.Error()
	}
	return snap
}
