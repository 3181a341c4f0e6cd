package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/registry"
)

func TestNewHandlerWithoutBilling(t *testing.T) {
	reg := registry.New(0)
	h, err := NewHandler(reg, nil, "")
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	if h == nil {
		t.Fatal("NewHandler returned nil")
	}
}

func TestDashboardListsTunnels(t *testing.T) {
	reg := registry.New(0)
	reg.Create("my-app", 3000, nil)

	h, err := NewHandler(reg, nil, "")
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/dashboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "my-app") {
		t.Errorf("dashboard body missing tunnel name: %s", rec.Body.String())
	}
}

func TestDashboardRequiresAdminKeyWhenConfigured(t *testing.T) {
	reg := registry.New(0)
	h, err := NewHandler(reg, nil, "admin-secret")
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/dashboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest("GET", "/dashboard", nil)
	req2.Header.Set("x-api-key", "admin-secret")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with valid key", rec2.Code)
	}
}

func TestTunnelDetailUnknownID(t *testing.T) {
	reg := registry.New(0)
	h, err := NewHandler(reg, nil, "")
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/dashboard/tunnels/nonexistent", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
		{5368709120, "5.00 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestFormatTime(t *testing.T) {
	testTime := time.Date(2025, 12, 5, 15, 30, 0, 0, time.UTC)
	result := formatTime(testTime)
	expected := "Dec 5, 2025 3:30 PM"
	if result != expected {
		t.Errorf("formatTime() = %s, want %s", result, expected)
	}
}
