// Package dashboard keeps a periodically refreshed view of the active class
// and its check-ins, and fans it out to subscribers.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/rollcall/internal/attendance"
	"github.com/danmuck/rollcall/internal/observability"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Source is the read side of the attendance service.
type Source interface {
	CurrentClass(ctx context.Context) (reconcile.Session, error)
	Stats(ctx context.Context, sessionID string) (attendance.Stats, error)
	RecentScans(ctx context.Context, sessionID string, limit int) ([]attendance.Scan, error)
	EnrolledStudents(ctx context.Context) ([]attendance.Student, error)
}

type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	RecentLimit int
	Now         func() time.Time
}

// Snapshot is one dashboard refresh. On failure Err is set and the previous
// values are carried forward.
type Snapshot struct {
	Session        reconcile.Session    `json:"session"`
	Active         bool                 `json:"active"`
	ScannedCount   int                  `json:"scanned_count"`
	TotalEnrolled  int                  `json:"total_enrolled"`
	AttendanceRate int                  `json:"attendance_rate"`
	RecentScans    []attendance.Scan    `json:"recent_scans"`
	Students       []attendance.Student `json:"students"`
	RefreshedAt    time.Time            `json:"refreshed_at"`
	Err            string               `json:"error,omitempty"`
}

type Poller struct {
	src     Source
	opts    Options
	refresh chan struct{}
	pollMu  sync.Mutex

	mu     sync.Mutex
	latest Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

func New(src Source, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = attendance.DefaultRecentLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		src:     src,
		opts:    opts,
		refresh: make(chan struct{}, 1),
		subs:    make(map[int]chan Snapshot),
	}
}

// Run polls immediately, then every Interval and on each Refresh, until ctx
// is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", p.opts.Interval).Msg("dashboard poller started")
	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dashboard poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.refresh:
			p.Poll(ctx)
		}
	}
}

// Refresh asks Run for an out-of-cycle poll. Requests coalesce.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Poll performs one refresh cycle, publishes it and returns it.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	snap, err := p.fetch(ctx)
	observability.RecordDashboardPoll(err == nil)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard poll failed")
		snap = p.Latest()
		snap.Err = err.Error()
		snap.RefreshedAt = p.opts.Now()
	}
	p.publish(snap)
	return snap
}

func (p *Poller) fetch(ctx context.Context) (Snapshot, error) {
	sess, err := p.src.CurrentClass(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Session:     sess,
		Active:      sess.Active(),
		RecentScans: []attendance.Scan{},
		Students:    []attendance.Student{},
	}
	if !snap.Active {
		snap.RefreshedAt = p.opts.Now()
		return snap, nil
	}

	var (
		stats    attendance.Stats
		scans    []attendance.Scan
		students []attendance.Student
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = p.src.Stats(gctx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		scans, err = p.src.RecentScans(gctx, sess.ID, p.opts.RecentLimit)
		return err
	})
	g.Go(func() error {
		var err error
		students, err = p.src.EnrolledStudents(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap.ScannedCount = stats.ScannedCount
	snap.TotalEnrolled = stats.TotalEnrolled
	snap.AttendanceRate = stats.Rate()
	if scans != nil {
		snap.RecentScans = scans
	}
	if students != nil {
		snap.Students = students
	}
	snap.RefreshedAt = p.opts.Now()
	return snap, nil
}

// Latest returns the most recent snapshot.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// ActiveSession returns the class the dashboard last saw as active.
func (p *Poller) ActiveSession() (reconcile.Session, bool) {
	snap := p.Latest()
	return snap.Session, snap.Active
}

// Subscribe returns a channel receiving each published snapshot, starting
// with the latest one. A slow reader only ever sees the newest snapshot.
// The returned func unsubscribes and closes the channel.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	if !p.latest.RefreshedAt.IsZero() {
		ch <- p.latest
	}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *Poller) publish(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = snap
	for _, ch := range p.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
