package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelforge/tunnelforge/internal/registry"
	"github.com/tunnelforge/tunnelforge/internal/tunnel"
)

func TestChannelRequiresAuthWithinTimeout(t *testing.T) {
	reg := registry.New(0)
	tun, _ := reg.Create("app", 3000, nil)

	h := NewChannelHandler(reg, time.Second, time.Hour, testLogger(t))
	mux := testMux(h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + channelPathPrefix + tun.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	raw, err := tunnel.Marshal(tunnel.TypeAuth, map[string]string{"auth_token": "wrong-token"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}

	_, respRaw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	env, err := tunnel.Unmarshal(respRaw)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if env.Type != tunnel.TypeError {
		t.Errorf("Type = %q, want %q", env.Type, tunnel.TypeError)
	}
	if tun.Status() != registry.StatusConnecting {
		t.Errorf("Status = %v, want unchanged CONNECTING after failed auth", tun.Status())
	}
}

func TestChannelAcceptsValidAuth(t *testing.T) {
	reg := registry.New(0)
	tun, _ := reg.Create("app", 3000, nil)

	h := NewChannelHandler(reg, time.Second, time.Hour, testLogger(t))
	mux := testMux(h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + channelPathPrefix + tun.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	raw, _ := tunnel.Marshal(tunnel.TypeAuth, map[string]string{"auth_token": tun.AuthToken})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}

	_, respRaw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	env, err := tunnel.Unmarshal(respRaw)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if env.Type != tunnel.TypeConnected {
		t.Errorf("Type = %q, want %q", env.Type, tunnel.TypeConnected)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tun.Status() == registry.StatusActive {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tun.Status() != registry.StatusActive {
		t.Errorf("Status = %v, want ACTIVE", tun.Status())
	}
}

func testMux(h *ChannelHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tunnelID := strings.TrimPrefix(r.URL.Path, channelPathPrefix)
		h.ServeHTTP(w, r, tunnelID)
	})
}
