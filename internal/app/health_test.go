package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"checkit/api/internal/store"
)

func newTestServiceWithHealth(events *fakeEvents) *Service {
	return New(Options{
		Remote: &fakeRemote{},
		Events: events,
		Logger: quietLogger(),
	})
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestServiceWithHealth(&fakeEvents{MemoryStore: store.NewMemoryStore()})
	server := NewHTTPServer(svc, "*", quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
		wantCheck  string
	}{
		{
			name:       "review log healthy",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantCheck:  "ok",
		},
		{
			name:       "review log down",
			pingErr:    errors.New("connection refused"),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantCheck:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{
				MemoryStore: store.NewMemoryStore(),
				pingFn: func(context.Context) error {
					return tt.pingErr
				},
			}
			server := NewHTTPServer(newTestServiceWithHealth(events), "*", quietLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rr.Code)
			}

			var response map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if status := response["status"]; status != tt.wantStatus {
				t.Errorf("expected status=%s, got %v", tt.wantStatus, status)
			}

			checks, ok := response["checks"].(map[string]any)
			if !ok {
				t.Fatalf("expected checks object, got %v", response["checks"])
			}
			logCheck, ok := checks["reviewLog"].(map[string]any)
			if !ok {
				t.Fatalf("expected reviewLog check, got %v", checks["reviewLog"])
			}
			if got := logCheck["status"]; got != tt.wantCheck {
				t.Errorf("expected reviewLog status=%s, got %v", tt.wantCheck, got)
			}
			if tt.pingErr != nil && logCheck["error"] != tt.pingErr.Error() {
				t.Errorf("expected error %q, got %v", tt.pingErr.Error(), logCheck["error"])
			}
			if _, exists := checks["sessionCache"]; exists {
				t.Errorf("session cache is not configured and must not be reported")
			}
		})
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	server := NewHTTPServer(newTestServiceWithHealth(&fakeEvents{MemoryStore: store.NewMemoryStore()}), "*", quietLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/publications", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	server := NewHTTPServer(newTestServiceWithHealth(&fakeEvents{MemoryStore: store.NewMemoryStore()}), "https://review.example.org", quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://review.example.org" {
		t.Errorf("expected configured CORS origin, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if id := rr.Header().Get("X-Request-ID"); id != "req-42" {
		t.Errorf("expected request id to be echoed, got %v", id)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestServiceWithHealth(&fakeEvents{MemoryStore: store.NewMemoryStore()})
	svc.metrics.transition("resolve", outcomeSettled)
	server := NewHTTPServer(svc, "*", quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `checkit_transitions_total{operation="resolve",outcome="settled"} 1`) {
		t.Errorf("expected transition counter in exposition, got:\n%s", rr.Body.String())
	}
}
