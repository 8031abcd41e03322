package console

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/rollcall/internal/detector"
	"github.com/danmuck/rollcall/internal/observability"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"component": s.ID,
			"version":   version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		snap := s.dash.Latest()
		ready := !snap.RefreshedAt.IsZero()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     ready,
			"uptime":    time.Since(s.Appeared).String(),
			"component": s.ID,
			"version":   version,
		})
	})

	api := r.Group("/api")
	api.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.dash.Latest())
	})
	api.GET("/dashboard/stream", s.streamDashboard)
	api.POST("/dashboard/refresh", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.dash.Poll(c.Request.Context()))
	})
	api.POST("/checkin/:student", s.manualCheckin)
	api.GET("/reconcile", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"in_flight": s.trigger != nil && !s.trigger.Enabled(),
			"board":     s.board.Current(),
		})
	})
	api.POST("/reconcile", s.reconcile)
}

func (s *Server) manualCheckin(c *gin.Context) {
	studentID := strings.TrimSpace(c.Param("student"))
	out, err := s.checkins.ManualCheckin(c.Request.Context(), studentID)
	if err != nil {
		status := http.StatusBadGateway
		msg := err.Error()
		var se *upstream.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			status = se.Code
			if se.Message != "" {
				msg = se.Message
			}
		}
		log.Warn().
			Str("student", studentID).
			Str("request_id", observability.RequestIDFrom(c)).
			Err(err).
			Msg("manual checkin failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	s.dash.Refresh()
	c.JSON(http.StatusOK, out)
}

func (s *Server) reconcile(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconcile is not configured"})
		return
	}
	if !s.trigger.Enabled() {
		c.JSON(http.StatusConflict, gin.H{"error": reconcile.ErrInFlight.Error()})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+(1<<20))
	image, err := readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "File too large. Maximum size is " + megabytes(s.maxUpload) + "MB.",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, _ := s.dash.ActiveSession()
	if override := strings.TrimSpace(c.PostForm("session")); override != "" {
		sess = reconcile.Session{ID: override}
	}

	res, err := s.trigger.Fire(c.Request.Context(), sess, image)
	view := s.board.Current()
	if err != nil {
		c.JSON(reconcileStatus(err), gin.H{
			"error":  failureMessage(err),
			"notice": view.Notice,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":   res,
		"notice":   view.Notice,
		"artifact": view.Artifact,
	})
}

// readUpload returns the bytes of the "image" part, or nil when none was sent.
func readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	if fh.Filename == "" {
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func reconcileStatus(err error) int {
	var imgErr *detector.ImageError
	switch {
	case errors.Is(err, reconcile.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrNoActiveSession):
		return http.StatusPreconditionFailed
	case errors.Is(err, reconcile.ErrNoImageProvided), errors.As(err, &imgErr):
		return http.StatusBadRequest
	case errors.Is(err, reconcile.ErrStatsUnavailable), errors.Is(err, reconcile.ErrDetectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func failureMessage(err error) string {
	var sm reconcile.ServerMessenger
	if errors.As(err, &sm) && sm.ServerMessage() != "" {
		return sm.ServerMessage()
	}
	return err.Error()
}

func megabytes(n int64) string {
	return strconv.FormatInt(n>>20, 10)
}
