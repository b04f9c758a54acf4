package obs

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

func TestInstrumentUsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	r := mux.NewRouter()
	r.Use(m.Instrument)
	r.HandleFunc("/api/rooms/{roomId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/"+id, nil))
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `http_requests_total{method="GET",path="/api/rooms/{roomId}",status="418"} 2`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics output missing %s:\n%s", want, rec.Body.String())
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.MessagesRecorded.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "messages_recorded_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown", "room", "r1")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"room":"r1"`) {
		t.Fatalf("unexpected log output: %s", buf.String())
	}

	if _, err := NewLogger(&buf, "loud", "text"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}
