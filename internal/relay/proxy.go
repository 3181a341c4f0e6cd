package relay

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelforge/tunnelforge/internal/logging"
	"github.com/tunnelforge/tunnelforge/internal/registry"
	"github.com/tunnelforge/tunnelforge/internal/tunnel"
)

// Proxy is the public ingress surface: it maps /{tunnel_id}/{path} onto the
// owner's local service by round-tripping the request over the tunnel's
// duplex channel.
type Proxy struct {
	registry       *registry.Registry
	requestTimeout time.Duration
	log            *logging.Logger
	usage          UsageRecorder
}

// UsageRecorder is an optional, best-effort hook for recording bandwidth per
// tunnel. It must never block or fail the request it is recording.
type UsageRecorder interface {
	RecordBandwidth(tunnelID string, bytesIn, bytesOut int64)
}

// NewProxy builds a Proxy bound to a registry. usage may be nil.
func NewProxy(reg *registry.Registry, requestTimeout time.Duration, log *logging.Logger, usage UsageRecorder) *Proxy {
	return &Proxy{registry: reg, requestTimeout: requestTimeout, log: log, usage: usage}
}

// splitTunnelPath splits "/{tunnel_id}/{path...}" into its two parts. path
// always begins with "/", even when the remainder is empty.
func splitTunnelPath(raw string) (tunnelID, path string) {
	trimmed := strings.TrimPrefix(raw, "/")
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return trimmed, "/"
	}
	return trimmed[:idx], trimmed[idx:]
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tunnelID, path := splitTunnelPath(r.URL.Path)
	if tunnelID == "" {
		http.NotFound(w, r)
		return
	}

	tun, ok := p.registry.Get(tunnelID)
	if !ok {
		p.log.Warn("proxy: tunnel not found: %s", tunnelID)
		http.Error(w, "tunnel not found", http.StatusNotFound)
		return
	}
	if tun.Status() != registry.StatusActive || tun.Channel() == nil {
		p.log.Warn("proxy: tunnel not active: %s (status=%s)", tunnelID, tun.Status())
		http.Error(w, "tunnel not active", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadGateway)
		return
	}

	requestID := uuid.NewString()
	wireBody, base64Encoded := tunnel.EncodeBody(body, r.Header.Get("Content-Type"))
	headers := map[string][]string(r.Header)
	if base64Encoded {
		headers = tunnel.SetHeader(headers, tunnel.BodyEncodingHeader, tunnel.BodyEncodingBase64)
	}

	req := tunnel.Request{
		RequestID: requestID,
		Method:    r.Method,
		Path:      path,
		Headers:   headers,
		Body:      wireBody,
	}
	if rawQuery := r.URL.RawQuery; rawQuery != "" {
		req.QueryParams = flattenQuery(r.URL.Query())
	}

	slot := tun.BeginPending(requestID)
	if err := tun.Channel().Send(tunnel.TypeRequest, req); err != nil {
		tun.RemovePending(requestID)
		p.log.Error("proxy: failed to send request %s to tunnel %s: %v", requestID, tunnelID, err)
		http.Error(w, "failed to reach tunnel", http.StatusBadGateway)
		return
	}
	tun.UpdateActivity()

	resp, err := slot.Wait(r.Context(), p.requestTimeout)
	if err != nil {
		tun.RemovePending(requestID)
		p.writeUpstreamError(w, tunnelID, requestID, err)
		return
	}

	if p.usage != nil {
		p.usage.RecordBandwidth(tunnelID, int64(len(body)), int64(len(resp.Body)))
	}

	p.writeResponse(w, resp)
}

const maxProxyBodyBytes = 32 << 20 // 32MiB, matches a sane HTTP upload ceiling

func flattenQuery(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

func (p *Proxy) writeUpstreamError(w http.ResponseWriter, tunnelID, requestID string, err error) {
	switch err {
	case tunnel.ErrTunnelDisconnected, tunnel.ErrTunnelDeleted:
		p.log.Warn("proxy: tunnel %s gone while awaiting response to %s: %v", tunnelID, requestID, err)
		http.Error(w, "tunnel disconnected", http.StatusBadGateway)
	default:
		p.log.Error("proxy: timed out waiting for tunnel %s, request %s: %v", tunnelID, requestID, err)
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}
}

func (p *Proxy) writeResponse(w http.ResponseWriter, resp *tunnel.Response) {
	headers := tunnel.StripHeader(resp.Headers, tunnel.BodyEncodingHeader)
	for k, vals := range headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	base64Encoded := tunnel.HeaderHasBodyEncoding(resp.Headers)
	body, err := tunnel.DecodeBody(resp.Body, base64Encoded)
	if err != nil {
		p.log.Error("proxy: bad body encoding in response %s: %v", resp.RequestID, err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(body)
}
