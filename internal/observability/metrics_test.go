package observability

import (
	"testing"
	"time"

	"github.com/danmuck/rollcall/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("console", "GET", "/health", 200, 12*time.Millisecond)
	RecordUpstream("attendance", "GET", "/api/dashboard/stats", 200, 24*time.Millisecond, true)
	RecordDashboardPoll(true)

	before := testutil.ToFloat64(reconcileRuns.WithLabelValues("match"))
	RecordReconcile("match")
	after := testutil.ToFloat64(reconcileRuns.WithLabelValues("match"))
	if after-before != 1 {
		t.Fatalf("expected reconcile counter to advance by 1, got %v", after-before)
	}

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}
