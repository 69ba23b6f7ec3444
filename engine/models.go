package engine

import "pathsender/engine/internal/normalize"

// StartPosition aliases the canonical point type so callers outside the
// engine module's internal tree (the CLI, external embedders) can name it
// without reaching into an internal package.
type StartPosition = normalize.Point

// NewStartPosition builds a StartPosition for callers that only have raw
// coordinates, such as the CLI's --seed-start-x/-y flags.
func NewStartPosition(x, y float64, penDown bool) *StartPosition {
	return &StartPosition{X: x, Y: y, PenDown: penDown}
}

// CableBatchPoint is a single point in the wire format the controller
// expects: two cable lengths plus a pen state. It is never exposed to
// callers, only produced by the worker at batch-build time.
type CableBatchPoint struct {
	L1      float64 `json:"l1"`
	L2      float64 `json:"l2"`
	PenDown bool    `json:"penDown"`
}

// ControllerTelemetry is the parsed shape of a GET status response. Every
// field is optional; the flow controller degrades gracefully as fields go
// missing.
type ControllerTelemetry struct {
	State *struct {
		XMM     float64 `json:"x_mm"`
		YMM     float64 `json:"y_mm"`
		PenDown bool    `json:"penDown"`
	} `json:"state"`
	Queue *struct {
		Size        int  `json:"size"`
		IsExecuting bool `json:"isExecuting"`
	} `json:"queue"`
	Status string `json:"status"`
	Motors []struct {
		Busy bool `json:"busy"`
	} `json:"motors"`
}

// StatusSnapshot is the read-only projection of a Job returned by Status().
type StatusSnapshot struct {
	JobID        string  `json:"jobId"`
	Status       Status  `json:"status"`
	SentPoints   int     `json:"sentPoints"`
	TotalPoints  int     `json:"totalPoints"`
	SentBatches  int     `json:"sentBatches"`
	TotalBatches int     `json:"totalBatches"`
	StartedAt    *int64  `json:"startedAt,omitempty"`
	FinishedAt   *int64  `json:"finishedAt,omitempty"`
	Error        string  `json:"error,omitempty"`
	Paused       bool    `json:"paused"`
	CancelURL    string  `json:"cancelUrl,omitempty"`
}

// StartJobRequest captures the caller-supplied fields for StartJob.
type StartJobRequest struct {
	ControllerURL string
	StatusURL     string
	CancelURL     string
	Points        []any
	StartPosition *normalize.Point
	Speed         int
	Reset         bool
}
