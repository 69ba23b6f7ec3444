package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"pathsender/engine/internal/normalize"
	"pathsender/engine/internal/testutil/httpmock"
	"pathsender/engine/telemetry/events"
	"pathsender/engine/telemetry/logging"
	"pathsender/engine/telemetry/metrics"
	"pathsender/engine/telemetry/tracing"
)

func testDeps(cfg Config) workerDeps {
	return newWorkerDeps(cfg, events.NewBus(metrics.NewNoopProvider()), logging.New(nil), tracing.NewTracer(false), metrics.NewNoopProvider())
}

func testConfig() Config {
	cfg := Defaults()
	cfg.StatusPollInterval = 10 * time.Millisecond
	cfg.SendRetryInterval = 10 * time.Millisecond
	cfg.SendRetryTimeout = 500 * time.Millisecond
	cfg.BatchSize = 2
	cfg.MinChunkSize = 1
	return cfg
}

func TestRunCompletesJobWithoutTelemetry(t *testing.T) {
	ms := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/path", Status: 200, Body: `{"status":"ok"}`},
		{Pattern: "/api/status", Status: 404},
	})
	defer ms.Close()

	cfg := testConfig()
	points := []normalize.Point{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 0}}
	j := newJob(StartJobRequest{ControllerURL: ms.URL() + "/api/path", StatusURL: ms.URL() + "/api/status"}, points, "job-ok", cfg.BatchSize)

	run(context.Background(), j, testDeps(cfg))

	snap := j.snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (err=%s)", snap.Status, snap.Error)
	}
	if snap.SentPoints != len(points) {
		t.Fatalf("expected all points sent, got %d", snap.SentPoints)
	}
}

func TestRunFailsOnTerminalControllerRejection(t *testing.T) {
	ms := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/path", Status: 200, Body: `{"error":"jammed"}`},
		{Pattern: "/api/status", Status: 404},
	})
	defer ms.Close()

	cfg := testConfig()
	points := []normalize.Point{{X: 0, Y: 0}, {X: 5, Y: 5}}
	j := newJob(StartJobRequest{ControllerURL: ms.URL() + "/api/path", StatusURL: ms.URL() + "/api/status"}, points, "job-reject", cfg.BatchSize)

	run(context.Background(), j, testDeps(cfg))

	snap := j.snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	if snap.Error == "" {
		t.Fatalf("expected a recorded error")
	}
}

func TestRunRetriesTransientServerErrors(t *testing.T) {
	ms := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/path", Responses: []httpmock.Response{
			{Status: 503, Body: "busy"},
			{Status: 200, Body: `{"status":"ok"}`},
		}},
		{Pattern: "/api/status", Status: 404},
	})
	defer ms.Close()

	cfg := testConfig()
	points := []normalize.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
	j := newJob(StartJobRequest{ControllerURL: ms.URL() + "/api/path", StatusURL: ms.URL() + "/api/status"}, points, "job-retry", cfg.BatchSize)

	run(context.Background(), j, testDeps(cfg))

	snap := j.snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected eventual completion after retry, got %s (err=%s)", snap.Status, snap.Error)
	}
}

func TestRunHonoursCancel(t *testing.T) {
	ms := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/path", Status: 200, Body: `{"status":"ok"}`, Delay: 50 * time.Millisecond},
		{Pattern: "/api/status", Status: 404},
		{Pattern: "/api/cancel", Status: 200},
	})
	defer ms.Close()

	cfg := testConfig()
	points := make([]normalize.Point, 40)
	for i := range points {
		points[i] = normalize.Point{X: float64(i), Y: 0}
	}
	j := newJob(StartJobRequest{
		ControllerURL: ms.URL() + "/api/path",
		StatusURL:     ms.URL() + "/api/status",
		CancelURL:     ms.URL() + "/api/cancel",
	}, points, "job-cancel", cfg.BatchSize)

	done := make(chan struct{})
	go func() {
		run(context.Background(), j, testDeps(cfg))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	j.requestCancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}

	snap := j.snapshot()
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
	if !errors.Is(ErrCancelled, ErrCancelled) {
		t.Fatalf("sanity check on sentinel failed")
	}
}
