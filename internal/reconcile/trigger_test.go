package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/rollcall/internal/testutil/testlog"
)

type gatedReconciler struct {
	started chan struct{}
	release chan struct{}
	calls   int
}

func (g *gatedReconciler) Reconcile(context.Context, Session, []byte) (Result, error) {
	g.calls++
	close(g.started)
	<-g.release
	return Result{Status: StatusMatch}, nil
}

func TestTriggerRejectsOverlappingRuns(t *testing.T) {
	testlog.Start(t)

	target := &gatedReconciler{started: make(chan struct{}), release: make(chan struct{})}
	trigger := NewTrigger(target)
	if !trigger.Enabled() {
		t.Fatalf("trigger should start enabled")
	}

	done := make(chan error, 1)
	go func() {
		_, err := trigger.Fire(context.Background(), activeSession, []byte("a"))
		done <- err
	}()
	<-target.started

	if trigger.Enabled() {
		t.Fatalf("trigger must be disabled while a run is pending")
	}
	if _, err := trigger.Fire(context.Background(), activeSession, []byte("b")); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	close(target.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !trigger.Enabled() {
		t.Fatalf("trigger must re-enable after the run")
	}
	if target.calls != 1 {
		t.Fatalf("expected one underlying run, got %d", target.calls)
	}
}

func TestTriggerReleasesAfterFailure(t *testing.T) {
	testlog.Start(t)

	trigger := NewTrigger(New(&fakeStore{}, &fakeDetector{}, nil, Options{}))
	if _, err := trigger.Fire(context.Background(), Session{}, nil); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if !trigger.Enabled() {
		t.Fatalf("trigger must re-enable after a failed run")
	}
}
