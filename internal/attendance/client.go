// Package attendance is the client for the attendance server's dashboard API.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/upstream"
)

var ErrSessionRequired = errors.New("attendance: session id required")

const DefaultRecentLimit = 10

// Stats is the scanned vs. enrolled tally for one session.
type Stats struct {
	ClassroomID   string `json:"classroom_id"`
	ScannedCount  int    `json:"scanned_count"`
	TotalEnrolled int    `json:"total_enrolled"`
}

// Rate is the rounded percentage of enrolled students that checked in.
func (s Stats) Rate() int {
	if s.TotalEnrolled <= 0 {
		return 0
	}
	return int(float64(s.ScannedCount)/float64(s.TotalEnrolled)*100 + 0.5)
}

// Scan is one check-in. Timestamp is kept as sent; the server emits naive
// ISO-8601 local times.
type Scan struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
}

var scanLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Time parses Timestamp in loc when it carries no zone.
func (s Scan) Time(loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range scanLayouts {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(s.Timestamp), loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

type Student struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasAttended bool   `json:"has_attended"`
}

type Checkin struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ClassroomID string `json:"classroom_id"`
	StudentID   string `json:"student_id"`
}

// Client talks to the attendance server. It satisfies reconcile.AttendanceStore.
type Client struct {
	api *upstream.Client
}

var _ reconcile.AttendanceStore = (*Client)(nil)

func NewClient(cfg upstream.Config) (*Client, error) {
	if cfg.Target == "" {
		cfg.Target = "attendance"
	}
	api, err := upstream.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{api: api}, nil
}

func (c *Client) ScanCount(ctx context.Context, sessionID string) (int, error) {
	stats, err := c.Stats(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return stats.ScannedCount, nil
}

func (c *Client) Stats(ctx context.Context, sessionID string) (Stats, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Stats{}, ErrSessionRequired
	}
	var out Stats
	err := c.api.Do(ctx, upstream.Request{
		Path:  "/api/dashboard/stats",
		Query: url.Values{"classroom_id": {sessionID}},
	}, &out)
	if err != nil {
		return Stats{}, err
	}
	if out.ScannedCount < 0 || out.TotalEnrolled < 0 {
		return Stats{}, fmt.Errorf("attendance: invalid stats for %s: scanned=%d enrolled=%d",
			sessionID, out.ScannedCount, out.TotalEnrolled)
	}
	if out.ClassroomID == "" {
		out.ClassroomID = sessionID
	}
	return out, nil
}

// CurrentClass returns the class whose time window contains now. The zero
// Session means no class is active.
func (c *Client) CurrentClass(ctx context.Context) (reconcile.Session, error) {
	var out struct {
		ClassroomID *string `json:"classroom_id"`
		Subject     string  `json:"subject"`
		Department  string  `json:"department"`
		Classroom   string  `json:"classroom"`
		StartTime   string  `json:"start_time"`
		EndTime     string  `json:"end_time"`
	}
	if err := c.api.Do(ctx, upstream.Request{Path: "/api/dashboard/current-class"}, &out); err != nil {
		return reconcile.Session{}, err
	}
	if out.ClassroomID == nil || strings.TrimSpace(*out.ClassroomID) == "" {
		return reconcile.Session{}, nil
	}
	return reconcile.Session{
		ID:         strings.TrimSpace(*out.ClassroomID),
		Name:       out.Classroom,
		Subject:    out.Subject,
		Department: out.Department,
		StartTime:  out.StartTime,
		EndTime:    out.EndTime,
	}, nil
}

// RecentScans lists the latest check-ins for a session, newest first.
func (c *Client) RecentScans(ctx context.Context, sessionID string, limit int) ([]Scan, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var out struct {
		Scans []Scan `json:"scans"`
	}
	err := c.api.Do(ctx, upstream.Request{
		Path: "/api/dashboard/recent-scans",
		Query: url.Values{
			"classroom_id": {sessionID},
			"limit":        {strconv.Itoa(limit)},
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Scans, nil
}

// EnrolledStudents lists students enrolled in the active class with today's
// attendance flag.
func (c *Client) EnrolledStudents(ctx context.Context) ([]Student, error) {
	var out struct {
		Students []Student `json:"students"`
	}
	if err := c.api.Do(ctx, upstream.Request{Path: "/api/dashboard/enrolled-students"}, &out); err != nil {
		return nil, err
	}
	return out.Students, nil
}

// ManualCheckin marks a student present in the active class when QR scanning
// is not possible.
func (c *Client) ManualCheckin(ctx context.Context, studentID string) (Checkin, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return Checkin{}, errors.New("attendance: student id required")
	}
	var out Checkin
	err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   "/manual_checkin/" + url.PathEscape(studentID),
		Route:  "/manual_checkin/:student",
	}, &out)
	if err != nil {
		return Checkin{}, err
	}
	return out, nil
}
