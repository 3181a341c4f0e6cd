// integration_test.go
package integration_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/client"
	"github.com/tunnelforge/tunnelforge/internal/logging"
	"github.com/tunnelforge/tunnelforge/internal/registry"
	"github.com/tunnelforge/tunnelforge/internal/relay"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logging.New() error: %v", err)
	}
	return log
}

func TestEndToEndTunnel(t *testing.T) {
	// 1. Start a local HTTP server that we want to expose
	localServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Local-Server", "true")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello from local"))
	}))
	defer localServer.Close()

	// 2. Start the gateway (in-memory registry, no real TLS)
	reg := registry.New(0)
	cfg := relay.DefaultConfig()
	cfg.OwnerAPIKey = "owner-secret"
	cfg.AdminAPIKey = "admin-secret"
	cfg.BaseURL = func(id string) string { return "http://gateway.test/" + id }
	gateway := relay.NewServer(reg, cfg, testLogger(t), nil, nil)
	gatewayHTTP := httptest.NewServer(gateway)
	defer gatewayHTTP.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 3. Create and connect the tunnel client
	tunnelClient := client.New(localServer.URL, gatewayHTTP.URL, "test-app", 3000)

	if _, err := tunnelClient.CreateTunnel(ctx, "owner-secret"); err != nil {
		t.Fatalf("CreateTunnel() error: %v", err)
	}

	readyCh := make(chan struct{})
	tunnelClient.SetOnReady(func() { close(readyCh) })

	clientErr := make(chan error, 1)
	go func() {
		clientErr <- tunnelClient.Run(ctx)
	}()

	select {
	case <-readyCh:
	case err := <-clientErr:
		t.Fatalf("client error before ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tunnel to become ready")
	}

	tun, ok := reg.Get(tunnelClient.TunnelID)
	if !ok {
		t.Fatal("tunnel not registered")
	}
	if tun.Status() != registry.StatusActive {
		t.Fatalf("tunnel status = %v, want active", tun.Status())
	}

	// 4. Make a request to the gateway's public ingress path for this tunnel
	req, err := http.NewRequest("GET", gatewayHTTP.URL+"/"+tunnelClient.TunnelID+"/api/test", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request through tunnel: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, []byte("hello from local")) {
		t.Errorf("body = %q, want %q", string(body), "hello from local")
	}
	if resp.Header.Get("X-Local-Server") != "true" {
		t.Error("missing X-Local-Server header from local server")
	}

	cancel()
	<-clientErr
}

func TestTunnelHandshake(t *testing.T) {
	reg := registry.New(0)
	cfg := relay.DefaultConfig()
	cfg.OwnerAPIKey = "owner-secret"
	cfg.AdminAPIKey = "admin-secret"
	cfg.BaseURL = func(id string) string { return "http://gateway.test/" + id }
	gateway := relay.NewServer(reg, cfg, testLogger(t), nil, nil)
	gatewayHTTP := httptest.NewServer(gateway)
	defer gatewayHTTP.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tunnelClient := client.New("http://localhost:3000", gatewayHTTP.URL, "myapp", 3000)

	if _, err := tunnelClient.CreateTunnel(ctx, "owner-secret"); err != nil {
		t.Fatalf("CreateTunnel() error: %v", err)
	}

	if err := tunnelClient.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer tunnelClient.Close()

	tun, ok := reg.Get(tunnelClient.TunnelID)
	if !ok {
		t.Fatal("tunnel not registered after Connect()")
	}
	if tun.Status() != registry.StatusActive {
		t.Errorf("tunnel status = %v, want active", tun.Status())
	}
}
