package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelforge/tunnelforge/internal/logging"
	"github.com/tunnelforge/tunnelforge/internal/registry"
	"github.com/tunnelforge/tunnelforge/internal/tunnel"
)

// authWaitTimeout bounds how long a newly upgraded connection is given to
// present its auth envelope before the relay gives up and closes it.
const authWaitTimeout = 10 * time.Second

// writeQueueDepth is how many outbound envelopes may be buffered for a
// tunnel's writer goroutine before Send blocks.
const writeQueueDepth = 64

// wsChannel adapts a gorilla/websocket connection to registry.Channel.
// gorilla/websocket forbids concurrent writers on one connection, so every
// outbound envelope funnels through a single writer goroutine reading off
// outbox; readLoop is the connection's sole reader.
type wsChannel struct {
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}
	closer func()
}

func newWSChannel(conn *websocket.Conn, closer func()) *wsChannel {
	return &wsChannel{
		conn:   conn,
		outbox: make(chan []byte, writeQueueDepth),
		done:   make(chan struct{}),
		closer: closer,
	}
}

func (c *wsChannel) Send(t tunnel.Type, data any) error {
	raw, err := tunnel.Marshal(t, data)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- raw:
		return nil
	case <-c.done:
		return errors.New("relay: channel closed")
	}
}

func (c *wsChannel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	if c.closer != nil {
		c.closer()
	}
	return c.conn.Close()
}

// writeLoop is the one goroutine allowed to call conn.WriteMessage.
func (c *wsChannel) writeLoop() {
	for {
		select {
		case msg := <-c.outbox:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// upgrader accepts any origin: the tunnel owner is authenticated by
// auth_token inside the channel, not by the browser same-origin model.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChannelHandler upgrades incoming owner connections, runs the auth
// handshake, and dispatches envelopes for the lifetime of the channel.
type ChannelHandler struct {
	registry          *registry.Registry
	requestTimeout    time.Duration
	heartbeatInterval time.Duration
	log               *logging.Logger
}

// NewChannelHandler builds a handler bound to a registry.
func NewChannelHandler(reg *registry.Registry, requestTimeout, heartbeatInterval time.Duration, log *logging.Logger) *ChannelHandler {
	return &ChannelHandler{
		registry:          reg,
		requestTimeout:    requestTimeout,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

type authPayload struct {
	AuthToken string `json:"auth_token"`
}

// ServeHTTP upgrades the connection, authenticates it against a tunnel_id
// path parameter, and blocks until the channel is torn down.
func (h *ChannelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request, tunnelID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("channel upgrade failed for %s: %v", tunnelID, err)
		return
	}

	tun, ok := h.registry.Get(tunnelID)
	if !ok {
		h.writeAuthError(conn, "unknown tunnel")
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(authWaitTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.log.Warn("channel %s: no auth frame received: %v", tunnelID, err)
		h.writeAuthError(conn, "authentication timeout")
		conn.Close()
		return
	}

	env, err := tunnel.Unmarshal(raw)
	if err != nil {
		h.log.Warn("channel %s: malformed auth frame: %v", tunnelID, err)
		h.writeAuthError(conn, "expected auth envelope")
		conn.Close()
		return
	}
	if env.Type != tunnel.TypeAuth {
		h.log.Warn("channel %s: expected auth envelope, got type %q", tunnelID, env.Type)
		h.writeAuthError(conn, "expected auth envelope")
		conn.Close()
		return
	}
	var auth authPayload
	if err := env.DecodeData(&auth); err != nil {
		h.log.Warn("channel %s: malformed auth payload: %v", tunnelID, err)
		h.writeAuthError(conn, "malformed auth envelope")
		conn.Close()
		return
	}

	ch := newWSChannel(conn, nil)
	if _, ok := h.registry.Attach(tunnelID, auth.AuthToken, ch); !ok {
		h.writeAuthError(conn, "authentication failed")
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	go ch.writeLoop()
	ch.Send(tunnel.TypeConnected, map[string]string{"tunnel_id": tunnelID, "message": "tunnel connected"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.heartbeatLoop(ctx, tun, ch)

	h.readLoop(tun, ch)

	h.registry.Detach(tunnelID)
	ch.Close()
}

func (h *ChannelHandler) writeAuthError(conn *websocket.Conn, reason string) {
	raw, err := tunnel.Marshal(tunnel.TypeError, map[string]string{"reason": reason})
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, raw)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

// readLoop is the channel's sole reader. It dispatches response envelopes
// to the matching pending slot and answers pings/pongs, until the
// connection errors out or is closed from the writer side.
func (h *ChannelHandler) readLoop(tun *registry.Tunnel, ch *wsChannel) {
	for {
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		tun.UpdateActivity()

		env, err := tunnel.Unmarshal(raw)
		if err != nil {
			h.log.Warn("channel %s: dropping malformed frame: %v", tun.ID, err)
			continue
		}

		switch env.Type {
		case tunnel.TypeResponse:
			var resp tunnel.Response
			if err := env.DecodeData(&resp); err != nil {
				h.log.Warn("channel %s: malformed response envelope: %v", tun.ID, err)
				continue
			}
			tun.ResolvePending(&resp)
		case tunnel.TypePong:
			// heartbeat acknowledged, UpdateActivity above already covers it
		case tunnel.TypePing:
			ch.Send(tunnel.TypePong, nil)
		default:
			h.log.Warn("channel %s: unexpected envelope type %q", tun.ID, env.Type)
		}
	}
}

func (h *ChannelHandler) heartbeatLoop(ctx context.Context, tun *registry.Tunnel, ch *wsChannel) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.Send(tunnel.TypePing, nil); err != nil {
				return
			}
			tun.UpdateActivity()
		}
	}
}
