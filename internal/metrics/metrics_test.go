package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.SessionStarted("CLIENT")
	m.SessionFinished("CLIENT", "COMMITTED", "completed")
	m.Retry("CommitPreparationRequest")
	m.Drop("bad_signature")
	m.Compensation(false)
	m.Recovery("resume")
	m.Anomaly()
	m.Stage("CLIENT", "LOCKING", time.Second)

	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.SessionStarted("SERVER")
	m.SessionStarted("SERVER")
	m.SessionFinished("SERVER", "ABORTED", "timeout")
	m.Anomaly()
	m.Compensation(true)
	m.Compensation(false)

	out := scrape(t, m)

	for _, want := range []string{
		`ferry_active_sessions{role="SERVER"} 1`,
		`ferry_sessions_total{outcome="ABORTED",reason="timeout",role="SERVER"} 1`,
		`ferry_recovery_anomalies_total 1`,
		`ferry_compensations_total{result="failed"} 1`,
		`ferry_compensations_total{result="ok"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

// scrape renders the registry through the HTTP handler.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read exposition: %v", err)
	}

	return string(body)
}

func TestHandlerIncludesRuntime(t *testing.T) {
	if out := scrape(t, New()); !strings.Contains(out, "go_goroutines") {
		t.Error("runtime collectors not registered")
	}
}
