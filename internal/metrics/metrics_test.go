package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_HandlerExposesCounters(t *testing.T) {
	m := New()
	m.Emitted.WithLabelValues("wc", "split").Add(3)
	m.WorkerTransitions.WithLabelValues("DEAD").Inc()

	if got := testutil.ToFloat64(m.Emitted.WithLabelValues("wc", "split")); got != 3 {
		t.Errorf("Esperaba 3 emitidos, obtuvo %v", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{"ministorm_tuples_emitted_total", "ministorm_worker_transitions_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("Falta la metrica %s en la salida", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Dos instancias no deben chocar al registrar los mismos nombres
	a, b := New(), New()
	a.Epoch.Set(5)
	if testutil.ToFloat64(b.Epoch) != 0 {
		t.Error("Las instancias deberian ser independientes")
	}
}
