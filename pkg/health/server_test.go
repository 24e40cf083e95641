package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAlwaysOK(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyFollowsFlagAndChecks(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	if rec := get(t, s, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before SetReady, got %d", rec.Code)
	}

	s.SetReady(true)
	if rec := get(t, s, "/ready"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after SetReady, got %d", rec.Code)
	}

	s.RegisterCheck("telegram", func() error { return errors.New("polling stopped") })
	rec := get(t, s, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing check, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "polling stopped") {
		t.Fatalf("expected failing check in body: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected default go collector output")
	}
}
