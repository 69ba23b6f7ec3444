// Package telemetryhttp exposes health, readiness, and metrics endpoints
// over HTTP, decoupled from the coordinator via the HealthSource interface
// so these handlers can be tested without spinning up a full coordinator.
package telemetryhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	telemetryhealth "pathsender/engine/telemetry/health"
	telemetrymetrics "pathsender/engine/telemetry/metrics"
)

// HealthSource supplies the current rolled-up health snapshot.
type HealthSource interface {
	HealthSnapshot(ctx context.Context) telemetryhealth.Snapshot
}

// HealthHandlerOptions configures health/readiness handlers.
type HealthHandlerOptions struct {
	Source        HealthSource
	IncludeProbes bool
	Clock         func() time.Time
}

type healthResponse struct {
	Overall   telemetryhealth.Status        `json:"overall"`
	Probes    []telemetryhealth.ProbeResult `json:"probes,omitempty"`
	Generated time.Time                     `json:"generated"`
	TTL       time.Duration                 `json:"ttl"`
	Ready     *bool                         `json:"ready,omitempty"`
	Previous  string                        `json:"previous,omitempty"`
	ChangedAt *time.Time                    `json:"changed_at,omitempty"`
}

// readinessTracker remembers the previously reported status so responses can
// surface when and from what the status last changed.
type readinessTracker struct {
	lastStatus atomic.Value
	changedAt  atomic.Value
}

func (rt *readinessTracker) update(cur string, now time.Time) (prev string, changedAt *time.Time) {
	if pRaw := rt.lastStatus.Load(); pRaw != nil {
		prev = pRaw.(string)
	}
	if prev != cur {
		rt.lastStatus.Store(cur)
		nowCopy := now
		rt.changedAt.Store(nowCopy)
		return prev, &nowCopy
	}
	if cRaw := rt.changedAt.Load(); cRaw != nil {
		cc := cRaw.(time.Time)
		changedAt = &cc
	}
	return prev, changedAt
}

var defaultTracker readinessTracker

// NewHealthHandler serves the full health snapshot, including probe detail
// when IncludeProbes is set.
func NewHealthHandler(opts HealthHandlerOptions) http.Handler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Source == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "health source unavailable"})
			return
		}
		snap := opts.Source.HealthSnapshot(r.Context())
		prev, changedAt := defaultTracker.update(string(snap.Overall), opts.Clock())
		resp := healthResponse{Overall: snap.Overall, Generated: snap.Generated, TTL: snap.TTL}
		if opts.IncludeProbes {
			resp.Probes = snap.Probes
		}
		if prev != "" && prev != string(snap.Overall) {
			resp.Previous = prev
		}
		resp.ChangedAt = changedAt
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// NewReadinessHandler reports 200 while healthy or degraded, 503 otherwise.
func NewReadinessHandler(opts HealthHandlerOptions) http.Handler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Source == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "health source unavailable"})
			return
		}
		snap := opts.Source.HealthSnapshot(r.Context())
		prev, changedAt := defaultTracker.update(string(snap.Overall), opts.Clock())
		ready := snap.Overall == telemetryhealth.StatusHealthy || snap.Overall == telemetryhealth.StatusDegraded
		resp := healthResponse{Overall: snap.Overall, Generated: snap.Generated, TTL: snap.TTL, Ready: &ready}
		if opts.IncludeProbes {
			resp.Probes = snap.Probes
		}
		if prev != "" && prev != string(snap.Overall) {
			resp.Previous = prev
		}
		resp.ChangedAt = changedAt
		w.Header().Set("Content-Type", "application/json")
		if !ready || snap.Overall == telemetryhealth.StatusUnknown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// NewMetricsHandler exposes the provider's scrape endpoint, or 501 when the
// active provider (e.g. the no-op or OTel bridge) doesn't serve one directly.
func NewMetricsHandler(p telemetrymetrics.Provider) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	}
	if promP, ok := p.(interface{ MetricsHandler() http.Handler }); ok {
		return promP.MetricsHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics handler unavailable", http.StatusNotImplemented)
	})
}
