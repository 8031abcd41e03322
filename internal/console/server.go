// Package console is the operator-facing HTTP API: dashboard state, manual
// check-ins and the reconcile trigger.
package console

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/rollcall/internal/attendance"
	"github.com/danmuck/rollcall/internal/dashboard"
	"github.com/danmuck/rollcall/internal/observability"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/surface"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	shutdownTimeout       = 5 * time.Second
	version               = "0.1.0"
)

// Dashboard is the poller view the console reads and nudges.
type Dashboard interface {
	Latest() dashboard.Snapshot
	Poll(ctx context.Context) dashboard.Snapshot
	Refresh()
	ActiveSession() (reconcile.Session, bool)
	Subscribe() (<-chan dashboard.Snapshot, func())
}

type Checkins interface {
	ManualCheckin(ctx context.Context, studentID string) (attendance.Checkin, error)
}

type Config struct {
	ID             string
	Addr           string
	CORSOrigins    []string
	MaxUploadBytes int64
}

type Deps struct {
	Dashboard Dashboard
	Checkins  Checkins
	Trigger   *reconcile.Trigger
	Board     *surface.Board
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router    *gin.Engine
	dash      Dashboard
	checkins  Checkins
	trigger   *reconcile.Trigger
	board     *surface.Board
	upgrader  websocket.Upgrader
	maxUpload int64
}

func New(cfg Config, deps Deps) *Server {
	observability.RegisterMetrics()
	if cfg.ID == "" {
		cfg.ID = "console"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if deps.Board == nil {
		deps.Board = surface.NewBoard(0, nil)
	}
	origins := normalizeOrigins(cfg.CORSOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(corsConfig(origins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:        cfg.ID,
		Addr:      cfg.Addr,
		Appeared:  time.Now(),
		router:    r,
		dash:      deps.Dashboard,
		checkins:  deps.Checkins,
		trigger:   deps.Trigger,
		board:     deps.Board,
		upgrader:  websocket.Upgrader{CheckOrigin: originChecker(origins)},
		maxUpload: cfg.MaxUploadBytes,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve registers routes and blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("console", s.ID).Msg("console listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Str("console", s.ID).Msg("console stopped")
		return nil
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
