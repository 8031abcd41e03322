package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/rollcall/internal/attendance"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/testutil/testlog"
)

type fakeSource struct {
	mu        sync.Mutex
	session   reconcile.Session
	classErr  error
	statsErr  error
	stats     attendance.Stats
	scans     []attendance.Scan
	students  []attendance.Student
	statsHits int
	limit     int
}

func (f *fakeSource) CurrentClass(context.Context) (reconcile.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.classErr
}

func (f *fakeSource) Stats(_ context.Context, id string) (attendance.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsHits++
	if f.statsErr != nil {
		return attendance.Stats{}, f.statsErr
	}
	s := f.stats
	s.ClassroomID = id
	return s, nil
}

func (f *fakeSource) RecentScans(_ context.Context, _ string, limit int) ([]attendance.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.scans, nil
}

func (f *fakeSource) EnrolledStudents(context.Context) ([]attendance.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.students, nil
}

func (f *fakeSource) set(fn func(*fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

var fixedNow = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func newPoller(src Source) *Poller {
	return New(src, Options{Now: func() time.Time { return fixedNow }})
}

func TestPollActiveClass(t *testing.T) {
	testlog.Start(t)

	src := &fakeSource{
		session:  reconcile.Session{ID: "CS101", Name: "Room 4"},
		stats:    attendance.Stats{ScannedCount: 2, TotalEnrolled: 3},
		scans:    []attendance.Scan{{StudentID: "S1", Timestamp: "2026-03-02T09:01:00"}},
		students: []attendance.Student{{ID: "S1", Name: "Ada", HasAttended: true}, {ID: "S2"}, {ID: "S3"}},
	}
	p := newPoller(src)

	snap := p.Poll(context.Background())
	if snap.Err != "" || !snap.Active || snap.Session.ID != "CS101" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ScannedCount != 2 || snap.TotalEnrolled != 3 || snap.AttendanceRate != 67 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
	if len(snap.RecentScans) != 1 || len(snap.Students) != 3 {
		t.Fatalf("unexpected lists: %+v", snap)
	}
	if src.limit != attendance.DefaultRecentLimit {
		t.Fatalf("expected recent limit %d, got %d", attendance.DefaultRecentLimit, src.limit)
	}
	if sess, ok := p.ActiveSession(); !ok || sess.ID != "CS101" {
		t.Fatalf("unexpected active session: %+v %v", sess, ok)
	}
}

func TestPollWithoutActiveClassSkipsDetails(t *testing.T) {
	testlog.Start(t)

	src := &fakeSource{}
	p := newPoller(src)
	snap := p.Poll(context.Background())
	if snap.Active || snap.Err != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if src.statsHits != 0 {
		t.Fatalf("stats must not be fetched without a class")
	}
	if snap.RecentScans == nil || snap.Students == nil {
		t.Fatalf("lists should be empty, not nil")
	}
	if _, ok := p.ActiveSession(); ok {
		t.Fatalf("expected no active session")
	}
}

func TestPollFailureKeepsPreviousSnapshot(t *testing.T) {
	testlog.Start(t)

	src := &fakeSource{
		session: reconcile.Session{ID: "CS101"},
		stats:   attendance.Stats{ScannedCount: 5, TotalEnrolled: 10},
	}
	p := newPoller(src)
	p.Poll(context.Background())

	src.set(func(f *fakeSource) { f.statsErr = errors.New("attendance: status 500") })
	snap := p.Poll(context.Background())
	if snap.Err == "" {
		t.Fatalf("expected error on snapshot")
	}
	if snap.ScannedCount != 5 || snap.Session.ID != "CS101" {
		t.Fatalf("expected previous values carried forward, got %+v", snap)
	}

	src.set(func(f *fakeSource) { f.statsErr = nil })
	if snap := p.Poll(context.Background()); snap.Err != "" {
		t.Fatalf("expected error cleared after recovery, got %q", snap.Err)
	}
}

func TestSubscribeDropsStaleSnapshots(t *testing.T) {
	testlog.Start(t)

	src := &fakeSource{session: reconcile.Session{ID: "CS101"}}
	p := newPoller(src)
	ch, cancel := p.Subscribe()
	defer cancel()

	for i := 1; i <= 3; i++ {
		n := i
		src.set(func(f *fakeSource) { f.stats.ScannedCount = n })
		p.Poll(context.Background())
	}

	got := <-ch
	if got.ScannedCount != 3 {
		t.Fatalf("expected newest snapshot, got scanned=%d", got.ScannedCount)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected no backlog, got %+v", extra)
	default:
	}
}

func TestSubscribeReplaysLatestAndUnsubscribeCloses(t *testing.T) {
	testlog.Start(t)

	p := newPoller(&fakeSource{session: reconcile.Session{ID: "CS101"}})
	p.Poll(context.Background())

	ch, cancel := p.Subscribe()
	if snap := <-ch; snap.Session.ID != "CS101" {
		t.Fatalf("expected replay of latest, got %+v", snap)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	p.Poll(context.Background())
}

func TestRunPollsOnRefresh(t *testing.T) {
	testlog.Start(t)

	src := &fakeSource{session: reconcile.Session{ID: "CS101"}}
	p := New(src, Options{Interval: time.Hour})
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitSnapshot(t, ch)
	src.set(func(f *fakeSource) { f.stats.ScannedCount = 9 })
	p.Refresh()
	if snap := waitSnapshot(t, ch); snap.ScannedCount != 9 {
		t.Fatalf("expected refreshed snapshot, got %+v", snap)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop")
	}
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{}
	}
}
