package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"pathsender/engine/internal/normalize"
)

func newTestJob() *Job {
	return newJob(StartJobRequest{ControllerURL: "http://device/api/path"}, []normalize.Point{{X: 1, Y: 1}}, "job-1", 10)
}

func TestJobLifecycleHappyPath(t *testing.T) {
	j := newTestJob()
	if j.snapshot().Status != StatusPending {
		t.Fatalf("expected pending, got %s", j.snapshot().Status)
	}
	j.markRunning()
	if j.snapshot().Status != StatusRunning {
		t.Fatalf("expected running, got %s", j.snapshot().Status)
	}
	j.recordBatch(1)
	snap := j.snapshot()
	if snap.SentBatches != 1 || snap.SentPoints != 1 {
		t.Fatalf("unexpected progress: %+v", snap)
	}
	j.markTerminal(StatusCompleted, nil)
	snap = j.snapshot()
	if snap.Status != StatusCompleted || snap.FinishedAt == nil {
		t.Fatalf("expected completed with finish time, got %+v", snap)
	}
}

func TestJobMarkTerminalIsIdempotent(t *testing.T) {
	j := newTestJob()
	j.markTerminal(StatusFailed, errors.New("boom"))
	j.markTerminal(StatusCompleted, nil)
	snap := j.snapshot()
	if snap.Status != StatusFailed || snap.Error != "boom" {
		t.Fatalf("second markTerminal should not override first, got %+v", snap)
	}
}

func TestJobCancelUnblocksPause(t *testing.T) {
	j := newTestJob()
	j.pause()

	done := make(chan bool, 1)
	go func() {
		done <- j.WaitIfPaused(context.Background())
	}()

	select {
	case <-done:
		t.Fatalf("WaitIfPaused should block while paused")
	case <-time.After(20 * time.Millisecond):
	}

	j.requestCancel()
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("WaitIfPaused should return true once unblocked by cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("cancel did not unblock waiter")
	}
	if !j.Cancelled() {
		t.Fatalf("expected job to report cancelled")
	}
	if j.snapshot().Status != StatusCancelling {
		t.Fatalf("expected cancelling status, got %s", j.snapshot().Status)
	}
}

func TestJobPauseResumeRoundTrip(t *testing.T) {
	j := newTestJob()
	j.pause()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if ok := j.gate.Wait(ctx); ok {
		t.Fatalf("gate should still be closed while paused")
	}
	j.resume()
	if ok := j.gate.Wait(context.Background()); !ok {
		t.Fatalf("gate should open after resume")
	}
}
