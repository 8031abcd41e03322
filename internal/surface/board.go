// Package surface holds the display sinks a reconcile run renders into.
package surface

import (
	"sync"
	"time"

	"github.com/danmuck/rollcall/internal/reconcile"
)

const DefaultNoticeTTL = 10 * time.Second

// Notice is one rendered outcome.
type Notice struct {
	Severity  reconcile.Severity `json:"severity"`
	Title     string             `json:"title"`
	Details   []string           `json:"details"`
	ShownAt   time.Time          `json:"shown_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// View is what the board currently shows. Notice is nil once dismissed.
type View struct {
	Notice   *Notice `json:"notice"`
	Artifact string  `json:"artifact,omitempty"`
}

// Board keeps the latest notice and debug artifact for the console.
// Notices dismiss themselves after the TTL.
type Board struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	notice   *Notice
	artifact string
}

var (
	_ reconcile.Surface         = (*Board)(nil)
	_ reconcile.ArtifactSurface = (*Board)(nil)
)

func NewBoard(ttl time.Duration, now func() time.Time) *Board {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Board{ttl: ttl, now: now}
}

func (b *Board) Render(severity reconcile.Severity, title string, details []string) {
	shown := b.now()
	n := &Notice{
		Severity:  severity,
		Title:     title,
		Details:   append([]string(nil), details...),
		ShownAt:   shown,
		ExpiresAt: shown.Add(b.ttl),
	}
	b.mu.Lock()
	b.notice = n
	b.mu.Unlock()
}

func (b *Board) ShowArtifact(ref string) {
	b.mu.Lock()
	b.artifact = ref
	b.mu.Unlock()
}

func (b *Board) ClearArtifact() {
	b.mu.Lock()
	b.artifact = ""
	b.mu.Unlock()
}

// Dismiss hides the current notice immediately.
func (b *Board) Dismiss() {
	b.mu.Lock()
	b.notice = nil
	b.mu.Unlock()
}

// Current returns a copy of the board. An expired notice is dropped.
func (b *Board) Current() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.notice != nil && !b.now().Before(b.notice.ExpiresAt) {
		b.notice = nil
	}
	v := View{Artifact: b.artifact}
	if b.notice != nil {
		n := *b.notice
		n.Details = append([]string(nil), b.notice.Details...)
		v.Notice = &n
	}
	return v
}
