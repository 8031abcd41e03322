// Package rollcall wires the attendance and detector clients, the dashboard
// poller, the reconcile trigger and the console into one runnable service.
package rollcall

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/danmuck/rollcall/internal/attendance"
	"github.com/danmuck/rollcall/internal/config"
	"github.com/danmuck/rollcall/internal/console"
	"github.com/danmuck/rollcall/internal/dashboard"
	"github.com/danmuck/rollcall/internal/detector"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/surface"
	"github.com/danmuck/rollcall/internal/upstream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	cfg        config.Config
	attendance *attendance.Client
	detector   *detector.Client
}

func NewService(cfg config.Config) (*Service, error) {
	att, err := attendance.NewClient(upstream.Config{
		Target:  "attendance",
		BaseURL: cfg.Attendance.BaseURL,
		Timeout: cfg.Attendance.Timeout,
		CAFile:  cfg.Attendance.CAFile,
	})
	if err != nil {
		return nil, err
	}
	det, err := detector.NewClient(detector.Config{
		Upstream: upstream.Config{
			Target:  "detector",
			BaseURL: cfg.Detector.BaseURL,
			Timeout: cfg.Detector.Timeout,
			CAFile:  cfg.Detector.CAFile,
		},
		ArtifactPath:  cfg.Detector.ArtifactPath,
		MaxImageBytes: cfg.Detector.MaxImageMB << 20,
	})
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, attendance: att, detector: det}, nil
}

func (s *Service) orchestrator(sink reconcile.Surface) *reconcile.Orchestrator {
	return reconcile.New(s.attendance, s.detector, sink, reconcile.Options{
		StepTimeout:     s.cfg.Reconcile.StepTimeout,
		StrictHeadcount: s.cfg.Reconcile.StrictHeadcount,
	})
}

// Run serves the console and polls the dashboard until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve is Run with a caller-owned context.
func (s *Service) Serve(ctx context.Context) error {
	board := surface.NewBoard(s.cfg.Reconcile.NoticeTTL, nil)
	sink := surface.Fanout{board, surface.NewLogSurface(nil)}
	poller := dashboard.New(s.attendance, dashboard.Options{
		Interval:    s.cfg.Dashboard.Interval,
		Timeout:     s.cfg.Attendance.Timeout,
		RecentLimit: s.cfg.Dashboard.RecentLimit,
	})
	srv := console.New(console.Config{
		ID:             s.cfg.Console.ID,
		Addr:           s.cfg.Console.Addr,
		CORSOrigins:    s.cfg.Console.CORSOrigins,
		MaxUploadBytes: int64(s.cfg.Console.MaxUploadMB) << 20,
	}, console.Deps{
		Dashboard: poller,
		Checkins:  s.attendance,
		Trigger:   reconcile.NewTrigger(s.orchestrator(sink)),
		Board:     board,
	})

	log.Info().
		Str("attendance", s.cfg.Attendance.BaseURL).
		Str("detector", s.cfg.Detector.BaseURL).
		Bool("strict_headcount", s.cfg.Reconcile.StrictHeadcount).
		Msg("rollcall starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := poller.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	return g.Wait()
}

// Check runs one reconcile for sessionID and renders it to out. An empty
// sessionID uses the class the attendance service reports as current.
func (s *Service) Check(ctx context.Context, sessionID string, image []byte, out io.Writer) (reconcile.Result, error) {
	sess := reconcile.Session{ID: sessionID}
	if !sess.Active() {
		current, err := s.attendance.CurrentClass(ctx)
		if err != nil {
			return reconcile.Result{}, err
		}
		sess = current
	}
	return s.orchestrator(surface.NewWriter(out)).Reconcile(ctx, sess, image)
}
