package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	statuses := []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound, http.StatusOK}
	for _, code := range statuses {
		h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	out := scrape(t, m, nil)
	for _, want := range []string{
		"castnote_requests_total 4",
		"castnote_errors_total 2",
		"castnote_not_found_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestMetrics_domainSeries(t *testing.T) {
	m := New()
	m.IncForbidden(ReasonDevice)
	m.IncForbidden(ReasonToken)
	m.IncForbidden(ReasonToken)
	m.IncDevicesObserved()
	m.IncCasts(ResultOK)
	m.IncCasts(ResultError)

	out := scrape(t, m, func() { m.SetActiveCast(true) })
	for _, want := range []string{
		`castnote_forbidden_total{reason="device"} 1`,
		`castnote_forbidden_total{reason="token"} 2`,
		"castnote_devices_observed_total 1",
		`castnote_casts_total{result="ok"} 1`,
		`castnote_casts_total{result="error"} 1`,
		"castnote_active_cast 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	m.SetActiveCast(false)
	if out := scrape(t, m, nil); !strings.Contains(out, "castnote_active_cast 0") {
		t.Errorf("gauge not reset:\n%s", out)
	}
}
