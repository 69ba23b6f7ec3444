// Package controlhttp exposes the coordinator's job lifecycle operations
// over HTTP: starting, inspecting, pausing, resuming, and cancelling a path
// transmission job.
package controlhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pathsender/engine"
	"pathsender/engine/internal/normalize"
)

// Coordinator is the subset of *engine.Coordinator these handlers need,
// kept as an interface so they can be tested against a fake.
type Coordinator interface {
	StartJob(ctx context.Context, req engine.StartJobRequest) (string, error)
	Status() (engine.StatusSnapshot, bool)
	Pause() error
	Resume() error
	Cancel(ctx context.Context) error
}

// Handlers bundles the control-plane HTTP handlers over one Coordinator.
type Handlers struct {
	coord Coordinator
}

// New builds Handlers over coord.
func New(coord Coordinator) *Handlers {
	return &Handlers{coord: coord}
}

// Register mounts every control-plane route onto mux under prefix (e.g. "/api").
func (h *Handlers) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/start", h.handleStart)
	mux.HandleFunc("GET "+prefix+"/status", h.handleStatus)
	mux.HandleFunc("POST "+prefix+"/pause", h.handlePause)
	mux.HandleFunc("POST "+prefix+"/resume", h.handleResume)
	mux.HandleFunc("POST "+prefix+"/cancel", h.handleCancel)
}

type startPointPosition struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	PenDown bool    `json:"penDown"`
}

type startRequest struct {
	ControllerURL string              `json:"controllerUrl"`
	StatusURL     string              `json:"statusUrl"`
	CancelURL     string              `json:"cancelUrl"`
	Points        []any               `json:"points"`
	StartPosition *startPointPosition `json:"startPosition,omitempty"`
	Speed         int                 `json:"speed"`
	Reset         bool                `json:"reset"`
}

type startResponse struct {
	JobID string `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	req := engine.StartJobRequest{
		ControllerURL: body.ControllerURL,
		StatusURL:     body.StatusURL,
		CancelURL:     body.CancelURL,
		Points:        body.Points,
		Speed:         body.Speed,
		Reset:         body.Reset,
	}
	if body.StartPosition != nil {
		req.StartPosition = &normalize.Point{X: body.StartPosition.X, Y: body.StartPosition.Y, PenDown: body.StartPosition.PenDown}
	}

	id, err := h.coord.StartJob(r.Context(), req)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: id})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.coord.Status()
	if !ok {
		writeError(w, http.StatusNotFound, "no job has been started")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Pause(); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Resume(); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Cancel(r.Context()); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeJobError maps a coordinator sentinel to the HTTP status a control
// client should act on: bad input (including "no active job", which the
// coordinator reports as ErrInvalidInput) is a 400, a busy coordinator is a
// 409, and anything else is a 500.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
