// Package client implements the tunnel owner's side: creating a tunnel
// through the control API, attaching to its duplex channel, and forwarding
// incoming requests to a local service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelforge/tunnelforge/internal/tunnel"
)

// Client owns one tunnel's lifetime on the owner's machine: it forwards
// requests arriving over the duplex channel to LocalAddr and ships the
// response back.
type Client struct {
	LocalAddr   string
	GatewayAddr string // base HTTP(S) address of the gateway, e.g. https://gateway.tunnelforge.dev
	Name        string
	LocalPort   int

	TunnelID  string
	AuthToken string

	Inspector *Inspector

	httpClient *http.Client
	conn       *websocket.Conn
	onReady    func()
}

// New builds a Client bound to a gateway and a local service address.
func New(localAddr, gatewayAddr, name string, localPort int) *Client {
	return &Client{
		LocalAddr:   localAddr,
		GatewayAddr: gatewayAddr,
		Name:        name,
		LocalPort:   localPort,
		Inspector:   NewInspector(localAddr),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SetOnReady registers a callback invoked once the channel is attached and
// the "connected" envelope has been received.
func (c *Client) SetOnReady(fn func()) {
	c.onReady = fn
}

type createTunnelRequest struct {
	Name      string `json:"name"`
	LocalPort int    `json:"local_port"`
}

type createTunnelResponse struct {
	TunnelID  string `json:"tunnel_id"`
	AuthToken string `json:"auth_token"`
	URL       string `json:"url"`
}

// CreateTunnel calls the control API to mint a new tunnel, storing the
// returned id and secret on the client. apiKey is sent as x-api-key.
func (c *Client) CreateTunnel(ctx context.Context, apiKey string) (string, error) {
	body, err := json.Marshal(createTunnelRequest{Name: c.Name, LocalPort: c.LocalPort})
	if err != nil {
		return "", fmt.Errorf("marshal create request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.GatewayAddr, "/") + "/api/tunnels/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create tunnel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create tunnel: %s: %s", resp.Status, string(detail))
	}

	var out createTunnelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}

	c.TunnelID = out.TunnelID
	c.AuthToken = out.AuthToken
	return out.URL, nil
}

// Connect dials the gateway's duplex channel endpoint and performs the auth
// handshake, blocking until the "connected" envelope arrives or ctx expires.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.channelURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.conn = conn

	raw, err := tunnel.Marshal(tunnel.TypeAuth, map[string]string{"auth_token": c.AuthToken})
	if err != nil {
		conn.Close()
		return fmt.Errorf("marshal auth envelope: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		return fmt.Errorf("send auth envelope: %w", err)
	}

	_, respRaw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	env, err := tunnel.Unmarshal(respRaw)
	if err != nil {
		conn.Close()
		return fmt.Errorf("parse auth response: %w", err)
	}
	if env.Type == tunnel.TypeError {
		var payload struct {
			Reason string `json:"reason"`
		}
		env.DecodeData(&payload)
		conn.Close()
		return fmt.Errorf("authentication rejected: %s", payload.Reason)
	}
	if env.Type != tunnel.TypeConnected {
		conn.Close()
		return fmt.Errorf("unexpected envelope type %q during handshake", env.Type)
	}

	if c.onReady != nil {
		c.onReady()
	}
	return nil
}

func (c *Client) channelURL() (string, error) {
	u, err := url.Parse(c.GatewayAddr)
	if err != nil {
		return "", fmt.Errorf("parse gateway address: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/tunnel/connect/" + c.TunnelID
	return u.String(), nil
}

// Run blocks, dispatching request/ping envelopes until the channel errors
// out or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			_, raw, err := c.conn.ReadMessage()
			if err != nil {
				errCh <- fmt.Errorf("read envelope: %w", err)
				return
			}

			env, err := tunnel.Unmarshal(raw)
			if err != nil {
				continue
			}

			switch env.Type {
			case tunnel.TypeRequest:
				var req tunnel.Request
				if err := env.DecodeData(&req); err != nil {
					continue
				}
				resp := c.forwardRequest(ctx, &req)
				respRaw, err := tunnel.Marshal(tunnel.TypeResponse, resp)
				if err != nil {
					continue
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, respRaw); err != nil {
					errCh <- fmt.Errorf("write response: %w", err)
					return
				}
			case tunnel.TypePing:
				pongRaw, _ := tunnel.Marshal(tunnel.TypePong, nil)
				if err := c.conn.WriteMessage(websocket.TextMessage, pongRaw); err != nil {
					errCh <- fmt.Errorf("write pong: %w", err)
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		c.conn.Close()
		return ctx.Err()
	case err := <-errCh:
		c.conn.Close()
		return err
	}
}

// forwardRequest forwards a tunneled HTTP request to the local service,
// translating any local-side failure into an error response (502, 504 on
// timeout, or 500) rather than propagating the error up (the tunnel owner's process must stay up even
// when the local service is down).
func (c *Client) forwardRequest(ctx context.Context, req *tunnel.Request) *tunnel.Response {
	start := time.Now()
	resp := c.doForward(ctx, req)
	if c.Inspector != nil {
		c.Inspector.AddRequest(&InspectedRequest{
			ID:              req.RequestID,
			Method:          req.Method,
			Path:            req.Path,
			StatusCode:      resp.StatusCode,
			RequestHeaders:  req.Headers,
			ResponseHeaders: resp.Headers,
			RequestBody:     req.Body,
			ResponseBody:    resp.Body,
			DurationMs:      time.Since(start).Milliseconds(),
		})
	}
	return resp
}

// doForward performs the actual local round trip for one tunneled request.
// Failures are classified per the local service's reachability, mirroring
// the distinction httpx.ConnectError/httpx.TimeoutException/Exception draw
// on the owner side: a refused connection is a 502, a timed-out one is a
// 504, and anything else (a malformed request we built ourselves, a body we
// can't decode, a response we can't read) is an internal 500.
func (c *Client) doForward(ctx context.Context, req *tunnel.Request) *tunnel.Response {
	localURL, err := url.Parse(c.LocalAddr)
	if err != nil {
		return internalErrorResponse(req.RequestID, "invalid local address: "+err.Error())
	}
	localURL.Path = req.Path
	if len(req.QueryParams) > 0 {
		q := localURL.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		localURL.RawQuery = q.Encode()
	}

	base64Encoded := tunnel.HeaderHasBodyEncoding(req.Headers)
	body, err := tunnel.DecodeBody(req.Body, base64Encoded)
	if err != nil {
		return internalErrorResponse(req.RequestID, "bad request body encoding: "+err.Error())
	}

	headers := tunnel.StripHeader(req.Headers, tunnel.BodyEncodingHeader)
	headers = tunnel.StripHeader(headers, "Host")

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, localURL.String(), bytes.NewReader(body))
	if err != nil {
		return internalErrorResponse(req.RequestID, "building local request: "+err.Error())
	}
	for k, v := range headers {
		httpReq.Header[k] = v
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeoutErr(err) {
			return errorResponse(req.RequestID, http.StatusGatewayTimeout, "local request timed out: "+err.Error())
		}
		return errorResponse(req.RequestID, http.StatusBadGateway, "local request failed: "+err.Error())
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return internalErrorResponse(req.RequestID, "reading local response: "+err.Error())
	}

	wireBody, b64 := tunnel.EncodeBody(respBody, httpResp.Header.Get("Content-Type"))
	respHeaders := map[string][]string(httpResp.Header)
	if b64 {
		respHeaders = tunnel.SetHeader(respHeaders, tunnel.BodyEncodingHeader, tunnel.BodyEncodingBase64)
	}

	return &tunnel.Response{
		RequestID:  req.RequestID,
		StatusCode: httpResp.StatusCode,
		Headers:    respHeaders,
		Body:       wireBody,
	}
}

// isTimeoutErr reports whether err stems from a deadline/timeout rather
// than, say, a refused or reset connection.
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorResponse(requestID string, status int, detail string) *tunnel.Response {
	return &tunnel.Response{
		RequestID:  requestID,
		StatusCode: status,
		Headers:    map[string][]string{"Content-Type": {"text/plain"}},
		Body:       detail,
	}
}

// internalErrorResponse reports a non-network failure (a request we
// couldn't even build, a body we couldn't decode) as a 500 with a JSON
// body, distinct from the plain-text 502/504 network-failure responses.
func internalErrorResponse(requestID, detail string) *tunnel.Response {
	payload, _ := json.Marshal(map[string]string{"error": detail})
	return &tunnel.Response{
		RequestID:  requestID,
		StatusCode: http.StatusInternalServerError,
		Headers:    map[string][]string{"Content-Type": {"application/json"}},
		Body:       string(payload),
	}
}

// Close tears down the duplex channel, if connected.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
