package relay

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/logging"
	"github.com/tunnelforge/tunnelforge/internal/registry"
)

// APIKeyHeader is the shared-secret header the control API authenticates
// every request against.
const APIKeyHeader = "x-api-key"

// ControlAPI exposes tunnel lifecycle management: create, list, status,
// delete. Every handler requires a valid x-api-key header and is rate
// limited per client IP.
type ControlAPI struct {
	registry   *registry.Registry
	ownerKey   string
	adminKey   string
	log        *logging.Logger
	baseURL    func(tunnelID string) string
	audit      AuditRecorder
}

// AuditRecorder is an optional, best-effort hook for recording control-plane
// events. It must never block or fail the request it is recording.
type AuditRecorder interface {
	RecordEvent(tunnelID, event string)
}

// NewControlAPI builds a control API bound to a registry. adminKey may equal
// ownerKey if no separate admin tier is configured. baseURL renders the
// public URL returned from tunnel creation.
func NewControlAPI(reg *registry.Registry, ownerKey, adminKey string, log *logging.Logger, baseURL func(string) string, audit AuditRecorder) *ControlAPI {
	return &ControlAPI{registry: reg, ownerKey: ownerKey, adminKey: adminKey, log: log, baseURL: baseURL, audit: audit}
}

func (a *ControlAPI) authenticate(r *http.Request) bool {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.ownerKey)) == 1 ||
		subtle.ConstantTimeCompare([]byte(key), []byte(a.adminKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

type createTunnelRequest struct {
	Name      string         `json:"name"`
	LocalPort int            `json:"local_port"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type createTunnelResponse struct {
	TunnelID  string `json:"tunnel_id"`
	AuthToken string `json:"auth_token"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

type tunnelInfoResponse struct {
	ID         string         `json:"tunnel_id"`
	Name       string         `json:"name"`
	LocalPort  int            `json:"local_port"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	CreatedAt  string         `json:"created_at"`
	LastActive string         `json:"last_active"`
	Connected  bool           `json:"connected"`
}

func toInfoResponse(info registry.Info) tunnelInfoResponse {
	return tunnelInfoResponse{
		ID:         info.ID,
		Name:       info.Name,
		LocalPort:  info.LocalPort,
		Metadata:   info.Metadata,
		Status:     info.Status.String(),
		CreatedAt:  info.CreatedAt.Format(time.RFC3339),
		LastActive: info.LastActive.Format(time.RFC3339),
		Connected:  info.Connected,
	}
}

// HandleCreate implements POST /api/tunnels/create.
func (a *ControlAPI) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tun, err := a.registry.Create(req.Name, req.LocalPort, req.Metadata)
	if err != nil {
		a.log.Error("control: failed to create tunnel: %v", err)
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.log.Info("control: created tunnel %s", tun.ID)
	if a.audit != nil {
		a.audit.RecordEvent(tun.ID, "created")
	}

	writeJSON(w, http.StatusOK, createTunnelResponse{
		TunnelID:  tun.ID,
		AuthToken: tun.AuthToken,
		URL:       a.baseURL(tun.ID),
		CreatedAt: tun.CreatedAt.Format(time.RFC3339),
	})
}

// HandleDelete implements DELETE /api/tunnels/{tunnel_id}.
func (a *ControlAPI) HandleDelete(w http.ResponseWriter, r *http.Request, tunnelID string) {
	if !a.registry.Delete(tunnelID) {
		writeErr(w, http.StatusNotFound, "tunnel not found")
		return
	}
	a.log.Info("control: deleted tunnel %s", tunnelID)
	if a.audit != nil {
		a.audit.RecordEvent(tunnelID, "deleted")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "id": tunnelID})
}

// HandleList implements GET /api/tunnels/list.
func (a *ControlAPI) HandleList(w http.ResponseWriter, r *http.Request) {
	infos := a.registry.List()
	out := make([]tunnelInfoResponse, len(infos))
	for i, info := range infos {
		out[i] = toInfoResponse(info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tunnels": out, "total": len(out)})
}

// HandleStatus implements GET /api/tunnels/{tunnel_id}/status.
func (a *ControlAPI) HandleStatus(w http.ResponseWriter, r *http.Request, tunnelID string) {
	tun, ok := a.registry.Get(tunnelID)
	if !ok {
		writeErr(w, http.StatusNotFound, "tunnel not found")
		return
	}
	writeJSON(w, http.StatusOK, toInfoResponse(tun.Info()))
}

// clientIP extracts the caller's address for rate limiting, preferring
// X-Forwarded-For's first hop when the gateway sits behind a trusted proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		if _, err := strconv.Atoi(host[i+1:]); err == nil {
			return host[:i]
		}
	}
	return host
}
