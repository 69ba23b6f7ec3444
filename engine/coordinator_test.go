package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathsender/engine/internal/normalize"
	"pathsender/engine/internal/testutil/httpmock"
)

func testCoordinator(cfg Config) *Coordinator {
	return New(cfg, nil, nil, nil)
}

func TestStartJobRejectsEmptyPoints(t *testing.T) {
	c := testCoordinator(testConfig())
	_, err := c.StartJob(context.Background(), StartJobRequest{ControllerURL: "http://device/api/path"})
	if err == nil {
		t.Fatalf("expected error for empty points")
	}
}

func TestStartJobRejectsMissingControllerURL(t *testing.T) {
	c := testCoordinator(testConfig())
	_, err := c.StartJob(context.Background(), StartJobRequest{Points: []any{[]any{0.0, 0.0}}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartJobRejectsConcurrentJob(t *testing.T) {
	ms := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/path", Status: 200, Body: `{"status":"ok"}`, Delay: 100 * time.Millisecond},
		{Pattern: "/api/status", Status: 404},
	})
	defer ms.Close()

	c := testCoordinator(testConfig())
	req := StartJobRequest{
		ControllerURL: ms.URL() + "/api/path",
		StatusURL:     ms.URL() + "/api/status",
		Points:        []any{[]any{0.0, 0.0}, []any{1.0, 1.0}},
		StartPosition: &normalize.Point{X: 0, Y: 0},
	}

	_, err := c.StartJob(context.Background(), req)
	require.NoError(t, err)

	_, err = c.StartJob(context.Background(), req)
	assert.ErrorIs(t, err, ErrBusy)

	assert.NoError(t, c.Cancel(context.Background()))
}

func TestCoordinatorStatusReflectsCompletion(t *testing.T) {
	ms := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/path", Status: 200, Body: `{"status":"ok"}`},
		{Pattern: "/api/status", Status: 404},
	})
	defer ms.Close()

	c := testCoordinator(testConfig())
	req := StartJobRequest{
		ControllerURL: ms.URL() + "/api/path",
		StatusURL:     ms.URL() + "/api/status",
		Points:        []any{[]any{0.0, 0.0}, []any{1.0, 1.0}},
		StartPosition: &normalize.Point{X: 0, Y: 0},
	}
	id, err := c.StartJob(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := c.Status()
		if ok && snap.Status == StatusCompleted {
			if snap.JobID != id {
				t.Fatalf("unexpected job id: %s", snap.JobID)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job did not complete in time")
}

func TestStartJobRequiresDerivableStartPosition(t *testing.T) {
	c := testCoordinator(testConfig())

	_, err := c.StartJob(context.Background(), StartJobRequest{
		ControllerURL: "http://device/api/path",
		Points:        []any{[]any{0.0, 0.0}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput, "no statusUrl and no startPosition should be rejected")

	ms := httpmock.NewServer([]httpmock.RouteSpec{{Pattern: "/api/status", Status: 404}})
	defer ms.Close()
	_, err = c.StartJob(context.Background(), StartJobRequest{
		ControllerURL: "http://device/api/path",
		StatusURL:     ms.URL() + "/api/status",
		Points:        []any{[]any{0.0, 0.0}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput, "a statusUrl with no telemetry should still be rejected")

	ms2 := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/api/status", Status: 200, Body: `{"state":{"x_mm":10,"y_mm":20,"penDown":false}}`},
		{Pattern: "/api/path", Status: 200, Body: `{"status":"ok"}`},
	})
	defer ms2.Close()
	id, err := c.StartJob(context.Background(), StartJobRequest{
		ControllerURL: ms2.URL() + "/api/path",
		StatusURL:     ms2.URL() + "/api/status",
		Points:        []any{[]any{0.0, 0.0}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.NoError(t, c.Cancel(context.Background()))
}

func TestCoordinatorPauseResumeRequiresActiveJob(t *testing.T) {
	c := testCoordinator(testConfig())
	assert.ErrorIs(t, c.Pause(), ErrInvalidInput)
	assert.ErrorIs(t, c.Resume(), ErrInvalidInput)
}

func TestCoordinatorHealthSnapshotDefaultsHealthy(t *testing.T) {
	c := testCoordinator(testConfig())
	snap := c.HealthSnapshot(context.Background())
	if snap.Overall == "" {
		t.Fatalf("expected a rolled-up status")
	}
}
