package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/rollcall/internal/attendance"
	"github.com/danmuck/rollcall/internal/dashboard"
	"github.com/danmuck/rollcall/internal/reconcile"
	"github.com/danmuck/rollcall/internal/surface"
	"github.com/danmuck/rollcall/internal/testutil/testlog"
	"github.com/danmuck/rollcall/internal/upstream"
	"github.com/gorilla/websocket"
)

type fakeAttendance struct {
	mu         sync.Mutex
	session    reconcile.Session
	scanned    int
	statsErr   error
	statsCalls int
	checkinErr error
}

func (f *fakeAttendance) CurrentClass(context.Context) (reconcile.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeAttendance) Stats(_ context.Context, id string) (attendance.Stats, error) {
	n, err := f.ScanCount(context.Background(), id)
	return attendance.Stats{ClassroomID: id, ScannedCount: n, TotalEnrolled: 30}, err
}

func (f *fakeAttendance) ScanCount(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return f.scanned, f.statsErr
}

func (f *fakeAttendance) RecentScans(context.Context, string, int) ([]attendance.Scan, error) {
	return nil, nil
}

func (f *fakeAttendance) EnrolledStudents(context.Context) ([]attendance.Student, error) {
	return nil, nil
}

func (f *fakeAttendance) ManualCheckin(_ context.Context, studentID string) (attendance.Checkin, error) {
	if f.checkinErr != nil {
		return attendance.Checkin{}, f.checkinErr
	}
	return attendance.Checkin{Status: "success", StudentID: studentID, ClassroomID: "CS101"}, nil
}

func (f *fakeAttendance) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

type fakeDetector struct {
	count   int
	entered chan struct{}
	release chan struct{}
}

func (d *fakeDetector) Detect(ctx context.Context, _ string, _ []byte) (reconcile.Detection, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
		<-d.release
	}
	n := d.count
	return reconcile.Detection{Headcount: &n, Artifact: "http://detector/static/uploads/debug_active.jpg?t=1"}, nil
}

type countingDash struct {
	*dashboard.Poller
	refreshes atomic.Int32
}

func (d *countingDash) Refresh() {
	d.refreshes.Add(1)
	d.Poller.Refresh()
}

type harness struct {
	srv   *Server
	att   *fakeAttendance
	det   *fakeDetector
	dash  *countingDash
	board *surface.Board
}

func newHarness(t *testing.T, att *fakeAttendance, det *fakeDetector) *harness {
	t.Helper()
	board := surface.NewBoard(time.Minute, nil)
	orch := reconcile.New(att, det, board, reconcile.Options{StepTimeout: 2 * time.Second})
	dash := &countingDash{Poller: dashboard.New(att, dashboard.Options{})}
	srv := New(Config{ID: "console-test"}, Deps{
		Dashboard: dash,
		Checkins:  att,
		Trigger:   reconcile.NewTrigger(orch),
		Board:     board,
	})
	srv.RegisterRoutes()
	return &harness{srv: srv, att: att, det: det, dash: dash, board: board}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.srv.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, image []byte, session string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if image != nil {
		part, err := w.CreateFormFile("image", "classroom.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write(image)
	}
	if session != "" {
		_ = w.WriteField("session", session)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, &fakeAttendance{}, &fakeDetector{})

	if rr := h.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}
	if rr := h.do(httptest.NewRequest(http.MethodGet, "/ready", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before first poll, got %d", rr.Code)
	}
	h.dash.Poll(context.Background())
	rr := h.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK || decode(t, rr)["ready"] != true {
		t.Fatalf("expected ready after poll, got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestDashboardRoutes(t *testing.T) {
	testlog.Start(t)
	att := &fakeAttendance{session: reconcile.Session{ID: "CS101"}, scanned: 12}
	h := newHarness(t, att, &fakeDetector{})

	rr := h.do(httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["scanned_count"] != float64(12) || body["attendance_rate"] != float64(40) {
		t.Fatalf("unexpected refresh body: %v", body)
	}

	rr = h.do(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	body = decode(t, rr)
	sess, _ := body["session"].(map[string]any)
	if sess["classroom_id"] != "CS101" || body["active"] != true {
		t.Fatalf("unexpected dashboard body: %v", body)
	}
}

func TestReconcileMismatch(t *testing.T) {
	testlog.Start(t)
	att := &fakeAttendance{session: reconcile.Session{ID: "CS101"}, scanned: 25}
	h := newHarness(t, att, &fakeDetector{count: 20})
	h.dash.Poll(context.Background())

	rr := h.do(uploadRequest(t, []byte("jpeg"), ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	res := body["result"].(map[string]any)
	if res["status"] != "mismatch" || res["difference"] != float64(5) || res["session_id"] != "CS101" {
		t.Fatalf("unexpected result: %v", res)
	}
	notice := body["notice"].(map[string]any)
	if notice["title"] != "Proxy Suspected" || notice["severity"] != "error" {
		t.Fatalf("unexpected notice: %v", notice)
	}
	if !strings.Contains(body["artifact"].(string), "debug_active.jpg") {
		t.Fatalf("expected artifact in response: %v", body)
	}

	rr = h.do(httptest.NewRequest(http.MethodGet, "/api/reconcile", nil))
	state := decode(t, rr)
	if state["in_flight"] != false {
		t.Fatalf("expected idle trigger, got %v", state)
	}
}

func TestReconcileErrorMapping(t *testing.T) {
	testlog.Start(t)

	t.Run("no active class", func(t *testing.T) {
		att := &fakeAttendance{}
		h := newHarness(t, att, &fakeDetector{})
		h.dash.Poll(context.Background())
		rr := h.do(uploadRequest(t, []byte("jpeg"), ""))
		if rr.Code != http.StatusPreconditionFailed {
			t.Fatalf("expected 412, got %d", rr.Code)
		}
		if att.calls() != 0 {
			t.Fatalf("store must not be called without a class")
		}
		notice := decode(t, rr)["notice"].(map[string]any)
		if notice["title"] != "No Active Class" {
			t.Fatalf("unexpected notice: %v", notice)
		}
	})

	t.Run("no image", func(t *testing.T) {
		h := newHarness(t, &fakeAttendance{session: reconcile.Session{ID: "CS101"}}, &fakeDetector{})
		h.dash.Poll(context.Background())
		if rr := h.do(uploadRequest(t, nil, "")); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("session override", func(t *testing.T) {
		att := &fakeAttendance{scanned: 3}
		h := newHarness(t, att, &fakeDetector{count: 3})
		rr := h.do(uploadRequest(t, []byte("jpeg"), "CS202"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
		}
		res := decode(t, rr)["result"].(map[string]any)
		if res["session_id"] != "CS202" || res["status"] != "match" {
			t.Fatalf("unexpected result: %v", res)
		}
	})

	t.Run("stats unavailable", func(t *testing.T) {
		att := &fakeAttendance{statsErr: &upstream.StatusError{Target: "attendance", Code: 500, Message: "db down"}}
		h := newHarness(t, att, &fakeDetector{})
		rr := h.do(uploadRequest(t, []byte("jpeg"), "CS101"))
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rr.Code)
		}
		if got := decode(t, rr)["error"]; got != "db down" {
			t.Fatalf("expected server message, got %v", got)
		}
	})
}

func TestReconcileRejectsOverlappingRun(t *testing.T) {
	testlog.Start(t)
	det := &fakeDetector{count: 1, entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, &fakeAttendance{scanned: 1}, det)

	firstReq := uploadRequest(t, []byte("jpeg"), "CS101")
	first := make(chan int, 1)
	go func() {
		first <- h.do(firstReq).Code
	}()
	<-det.entered

	rr := h.do(uploadRequest(t, []byte("jpeg"), "CS101"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", rr.Code)
	}
	state := decode(t, h.do(httptest.NewRequest(http.MethodGet, "/api/reconcile", nil)))
	if state["in_flight"] != true {
		t.Fatalf("expected in_flight, got %v", state)
	}

	close(det.release)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first run status=%d", code)
	}
}

func TestManualCheckin(t *testing.T) {
	testlog.Start(t)
	att := &fakeAttendance{}
	h := newHarness(t, att, &fakeDetector{})

	rr := h.do(httptest.NewRequest(http.MethodPost, "/api/checkin/S1", nil))
	if rr.Code != http.StatusOK || decode(t, rr)["student_id"] != "S1" {
		t.Fatalf("unexpected checkin response: %d %s", rr.Code, rr.Body.String())
	}
	if h.dash.refreshes.Load() != 1 {
		t.Fatalf("expected dashboard refresh after checkin")
	}

	att.checkinErr = &upstream.StatusError{Target: "attendance", Code: http.StatusConflict, Message: "Student S1 already checked in"}
	rr = h.do(httptest.NewRequest(http.MethodPost, "/api/checkin/S1", nil))
	if rr.Code != http.StatusConflict || decode(t, rr)["error"] != "Student S1 already checked in" {
		t.Fatalf("expected upstream conflict passthrough, got %d %s", rr.Code, rr.Body.String())
	}

	att.checkinErr = errors.New("dial tcp: connection refused")
	if rr := h.do(httptest.NewRequest(http.MethodPost, "/api/checkin/S1", nil)); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on transport error, got %d", rr.Code)
	}
}

func TestDashboardStreamPushesSnapshots(t *testing.T) {
	testlog.Start(t)
	att := &fakeAttendance{session: reconcile.Session{ID: "CS101"}, scanned: 4}
	h := newHarness(t, att, &fakeDetector{})
	h.dash.Poll(context.Background())

	ts := httptest.NewServer(h.srv.HTTPRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/dashboard/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap dashboard.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if snap.ScannedCount != 4 {
		t.Fatalf("unexpected replayed snapshot: %+v", snap)
	}

	att.mu.Lock()
	att.scanned = 5
	att.mu.Unlock()
	h.dash.Poll(context.Background())
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if snap.ScannedCount != 5 {
		t.Fatalf("unexpected pushed snapshot: %+v", snap)
	}
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, &fakeAttendance{}, &fakeDetector{})
	ts := httptest.NewServer(h.srv.HTTPRouter())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/dashboard/stream"
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected foreign origin to be rejected")
	}
}
