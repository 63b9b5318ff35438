package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_RunAndSlots(t *testing.T) {
	m := New()

	m.RunStarted()
	m.SlotProcessed("archive", 3, 1, 1, 0, false)
	m.SlotProcessed("skip_single", 0, 0, 2, 1, false)
	m.SlotProcessed("archive", 2, 2, 0, 2, true)
	m.RunFinished("success", 90*time.Second, time.Unix(1700000000, 0))

	out := scrape(t, m.Handler(nil))

	want := []string{
		`oviss_slots_total{decision="archive"} 2`,
		`oviss_slots_total{decision="skip_single"} 1`,
		`oviss_files_written_total{kind="frame"} 5`,
		`oviss_files_written_total{kind="placeholder"} 3`,
		`oviss_acquire_failures_total 3`,
		`oviss_frames_rejected_monochrome_total 3`,
		`oviss_archive_write_errors_total 1`,
		`oviss_runs_total{result="success"} 1`,
		`oviss_run_active 0`,
		`oviss_last_run_timestamp_seconds 1.7e+09`,
		`oviss_run_duration_seconds_count 1`,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("scrape missing %q", w)
		}
	}
}

func TestMetrics_HandlerRefreshesGauges(t *testing.T) {
	m := New()
	calls := 0
	h := m.Handler(func() {
		calls++
		m.SetAcquireStats(12, 8, 1, map[string]uint64{"network": 3, "auth": 1})
	})

	out := scrape(t, h)
	if calls != 1 {
		t.Errorf("updateGauges called %d times", calls)
	}
	for _, w := range []string{
		`oviss_acquire_attempts{outcome="total"} 12`,
		`oviss_acquire_attempts{outcome="exhausted"} 1`,
		`oviss_acquire_errors{category="network"} 3`,
	} {
		if !strings.Contains(out, w) {
			t.Errorf("scrape missing %q", w)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	out := scrape(t, m.Handler(nil))
	if !strings.Contains(out, "oviss_http_requests_total 2") {
		t.Error("expected 2 requests")
	}
	if !strings.Contains(out, "oviss_http_errors_total 1") {
		t.Error("expected 1 error")
	}
}
