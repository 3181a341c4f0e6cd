package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInspectorReturnsRequests(t *testing.T) {
	inspector := NewInspector("http://127.0.0.1:3000")

	inspector.AddRequest(&InspectedRequest{
		ID:         "req-1",
		Method:     "POST",
		Path:       "/webhook",
		StatusCode: 200,
	})

	req := httptest.NewRequest("GET", "/api/requests", nil)
	rec := httptest.NewRecorder()
	inspector.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var requests []InspectedRequest
	if err := json.NewDecoder(rec.Body).Decode(&requests); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("len = %d, want 1", len(requests))
	}
	if requests[0].ID != "req-1" {
		t.Errorf("ID = %q, want %q", requests[0].ID, "req-1")
	}
}

func TestInspectorCapsHistorySize(t *testing.T) {
	inspector := NewInspector("http://127.0.0.1:3000")
	inspector.maxSize = 2

	inspector.AddRequest(&InspectedRequest{ID: "a"})
	inspector.AddRequest(&InspectedRequest{ID: "b"})
	inspector.AddRequest(&InspectedRequest{ID: "c"})

	inspector.mu.RLock()
	defer inspector.mu.RUnlock()
	if len(inspector.requests) != 2 {
		t.Fatalf("len = %d, want 2", len(inspector.requests))
	}
	if inspector.requests[0].ID != "c" {
		t.Errorf("most recent request = %q, want %q", inspector.requests[0].ID, "c")
	}
}

func TestInspectorGetRequestByID(t *testing.T) {
	inspector := NewInspector("http://127.0.0.1:3000")
	inspector.AddRequest(&InspectedRequest{ID: "req-1", Method: "GET", Path: "/ping"})

	req := httptest.NewRequest("GET", "/api/requests/req-1", nil)
	rec := httptest.NewRecorder()
	inspector.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got InspectedRequest
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Path != "/ping" {
		t.Errorf("Path = %q, want %q", got.Path, "/ping")
	}
}

func TestInspectorGetRequestUnknownID(t *testing.T) {
	inspector := NewInspector("http://127.0.0.1:3000")

	req := httptest.NewRequest("GET", "/api/requests/nonexistent", nil)
	rec := httptest.NewRecorder()
	inspector.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestInspectorReplayUnknownID(t *testing.T) {
	inspector := NewInspector("http://127.0.0.1:3000")

	req := httptest.NewRequest("POST", "/api/replay/nonexistent", nil)
	rec := httptest.NewRecorder()
	inspector.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestInspectorReplayHitsLocalService(t *testing.T) {
	hits := make(chan *http.Request, 1)
	local := startClientTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer local.Close()

	inspector := NewInspector(local.URL)
	inspector.AddRequest(&InspectedRequest{ID: "req-1", Method: "GET", Path: "/replayed"})

	req := httptest.NewRequest("POST", "/api/replay/req-1", nil)
	rec := httptest.NewRecorder()
	inspector.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	select {
	case hit := <-hits:
		if hit.URL.Path != "/replayed" {
			t.Errorf("Path = %q, want %q", hit.URL.Path, "/replayed")
		}
	default:
		t.Error("local server was not hit by replay")
	}
}
