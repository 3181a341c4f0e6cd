package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/tunnel"
)

func startClientTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping test server start: %v", err)
		}
		t.Fatalf("listen error: %v", err)
	}

	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = ln
	srv.Start()
	return srv
}

func TestForwardRequestHitsLocalService(t *testing.T) {
	localHits := make(chan *http.Request, 1)
	local := startClientTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		localHits <- r
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer local.Close()

	c := New(local.URL, "https://gateway.tunnelforge.dev", "my-app", 3000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &tunnel.Request{RequestID: "req-1", Method: "GET", Path: "/api/widgets"}
	resp := c.forwardRequest(ctx, req)

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.Body != "created" {
		t.Errorf("Body = %q, want %q", resp.Body, "created")
	}

	select {
	case hit := <-localHits:
		if hit.URL.Path != "/api/widgets" {
			t.Errorf("Path = %q, want %q", hit.URL.Path, "/api/widgets")
		}
	case <-time.After(time.Second):
		t.Error("local server not hit")
	}
}

func TestForwardRequestDecodesBase64Body(t *testing.T) {
	var gotBody []byte
	local := startClientTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 3)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer local.Close()

	c := New(local.URL, "https://gateway.tunnelforge.dev", "my-app", 3000)
	wireBody, _ := tunnel.EncodeBody([]byte{0x01, 0x02, 0x03}, "application/octet-stream")
	req := &tunnel.Request{
		RequestID: "req-1",
		Method:    "POST",
		Path:      "/upload",
		Headers:   map[string][]string{tunnel.BodyEncodingHeader: {tunnel.BodyEncodingBase64}},
		Body:      wireBody,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := c.forwardRequest(ctx, req)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if len(gotBody) != 3 || gotBody[0] != 0x01 {
		t.Errorf("gotBody = %v, want decoded binary body", gotBody)
	}
}

func TestForwardRequestReturnsBadGatewayWhenLocalUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "https://gateway.tunnelforge.dev", "my-app", 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := &tunnel.Request{RequestID: "req-1", Method: "GET", Path: "/"}
	resp := c.forwardRequest(ctx, req)

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
}

func TestForwardRequestReturnsGatewayTimeoutWhenLocalServiceHangs(t *testing.T) {
	local := startClientTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer local.Close()

	c := New(local.URL, "https://gateway.tunnelforge.dev", "my-app", 3000)
	c.httpClient = &http.Client{Timeout: 20 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &tunnel.Request{RequestID: "req-1", Method: "GET", Path: "/"}
	resp := c.forwardRequest(ctx, req)

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusGatewayTimeout)
	}
}

func TestForwardRequestReturnsInternalErrorWithJSONBodyOnBadEncoding(t *testing.T) {
	c := New("http://127.0.0.1:3000", "https://gateway.tunnelforge.dev", "my-app", 3000)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := &tunnel.Request{
		RequestID: "req-1",
		Method:    "GET",
		Path:      "/",
		Headers:   map[string][]string{tunnel.BodyEncodingHeader: {tunnel.BodyEncodingBase64}},
		Body:      "not valid base64!!",
	}
	resp := c.forwardRequest(ctx, req)

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if got := resp.Headers["Content-Type"]; len(got) != 1 || got[0] != "application/json" {
		t.Errorf("Content-Type = %v, want [application/json]", got)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &payload); err != nil {
		t.Fatalf("body is not valid JSON: %v (body=%q)", err, resp.Body)
	}
	if payload.Error == "" {
		t.Error("expected non-empty error message")
	}
}

func TestChannelURLDerivesWSScheme(t *testing.T) {
	c := New("http://localhost:3000", "https://gateway.tunnelforge.dev", "my-app", 3000)
	c.TunnelID = "abc12345"

	got, err := c.channelURL()
	if err != nil {
		t.Fatalf("channelURL() error: %v", err)
	}
	want := "wss://gateway.tunnelforge.dev/api/tunnel/connect/abc12345"
	if got != want {
		t.Errorf("channelURL() = %q, want %q", got, want)
	}
}
