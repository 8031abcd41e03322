package surface

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSurface renders notices as log events.
type LogSurface struct {
	logger zerolog.Logger
}

func NewLogSurface(logger *zerolog.Logger) *LogSurface {
	if logger == nil {
		logger = &log.Logger
	}
	return &LogSurface{logger: logger.With().Str("surface", "log").Logger()}
}

func (s *LogSurface) Render(severity reconcile.Severity, title string, details []string) {
	event := s.logger.Info()
	if severity == reconcile.SeverityError {
		event = s.logger.Warn()
	}
	event.Str("severity", string(severity)).Strs("details", details).Msg(title)
}

func (s *LogSurface) ShowArtifact(ref string) {
	s.logger.Debug().Str("artifact", ref).Msg("detector artifact")
}

func (s *LogSurface) ClearArtifact() {}

// Writer renders notices as plain text, one block per notice. A pending
// artifact is printed under the next notice.
type Writer struct {
	mu       sync.Mutex
	out      io.Writer
	artifact string
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Render(severity reconcile.Severity, title string, details []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(severity)), title)
	for _, line := range details {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.artifact != "" {
		fmt.Fprintf(&b, "  artifact: %s\n", w.artifact)
		w.artifact = ""
	}
	_, _ = io.WriteString(w.out, b.String())
}

func (w *Writer) ShowArtifact(ref string) {
	w.mu.Lock()
	w.artifact = ref
	w.mu.Unlock()
}

func (w *Writer) ClearArtifact() {
	w.mu.Lock()
	w.artifact = ""
	w.mu.Unlock()
}

// Fanout forwards to every sink in order. Artifacts only reach sinks that
// implement reconcile.ArtifactSurface.
type Fanout []reconcile.Surface

func (f Fanout) Render(severity reconcile.Severity, title string, details []string) {
	for _, s := range f {
		if s != nil {
			s.Render(severity, title, details)
		}
	}
}

func (f Fanout) ShowArtifact(ref string) {
	for _, s := range f {
		if as, ok := s.(reconcile.ArtifactSurface); ok {
			as.ShowArtifact(ref)
		}
	}
}

func (f Fanout) ClearArtifact() {
	for _, s := range f {
		if as, ok := s.(reconcile.ArtifactSurface); ok {
			as.ClearArtifact()
		}
	}
}
