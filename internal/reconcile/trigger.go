package reconcile

import (
	"context"
	"sync/atomic"
)

// Reconciler is the single operation a Trigger guards.
type Reconciler interface {
	Reconcile(ctx context.Context, sess Session, image []byte) (Result, error)
}

// Trigger is the operator control that starts a reconcile. It stays disabled
// while one run is pending so a second upload cannot overlap it.
type Trigger struct {
	target   Reconciler
	inFlight atomic.Bool
}

func NewTrigger(target Reconciler) *Trigger {
	return &Trigger{target: target}
}

// Enabled reports whether Fire would start a run right now.
func (t *Trigger) Enabled() bool {
	return !t.inFlight.Load()
}

// Fire runs one reconcile, or returns ErrInFlight without side effects if a
// previous Fire has not returned yet.
func (t *Trigger) Fire(ctx context.Context, sess Session, image []byte) (Result, error) {
	if !t.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer t.inFlight.Store(false)
	return t.target.Reconcile(ctx, sess, image)
}
