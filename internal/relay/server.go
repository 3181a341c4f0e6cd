// Package relay implements the public-facing gateway: the control API that
// manages tunnels, the WebSocket endpoint tunnel owners attach to, and the
// ingress proxy that forwards public HTTP traffic through an active tunnel.
package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/logging"
	"github.com/tunnelforge/tunnelforge/internal/registry"
)

// Config holds the tunable parameters a Server is built from.
type Config struct {
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	OwnerAPIKey       string
	AdminAPIKey       string
	BaseURL           func(tunnelID string) string

	CreateRateLimitPerMin int
	DeleteRateLimitPerMin int
	ListRateLimitPerMin   int
	StatusRateLimitPerMin int
}

// DefaultConfig mirrors the original service's documented defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:        30 * time.Second,
		HeartbeatInterval:     10 * time.Second,
		CreateRateLimitPerMin: 10,
		DeleteRateLimitPerMin: 20,
		ListRateLimitPerMin:   30,
		StatusRateLimitPerMin: 60,
	}
}

// Server is the gateway's single HTTP entry point: it dispatches to the
// control API, the owner-facing WebSocket channel, and the public ingress
// proxy based on path shape, rather than the teacher's per-customer-hostname
// routing (there is no subdomain concept here — every tunnel shares one
// host and is addressed by path).
type Server struct {
	registry *registry.Registry
	config   Config
	log      *logging.Logger

	channelHandler *ChannelHandler
	proxy          *Proxy
	api            *ControlAPI

	createLimiter *IPRateLimiter
	deleteLimiter *IPRateLimiter
	listLimiter   *IPRateLimiter
	statusLimiter *IPRateLimiter
}

// NewServer wires a Server's components together. usage and audit are
// optional best-effort recorders; either may be nil when no database is
// configured.
func NewServer(reg *registry.Registry, cfg Config, log *logging.Logger, usage UsageRecorder, audit AuditRecorder) *Server {
	return &Server{
		registry:       reg,
		config:         cfg,
		log:            log,
		channelHandler: NewChannelHandler(reg, cfg.RequestTimeout, cfg.HeartbeatInterval, log),
		proxy:          NewProxy(reg, cfg.RequestTimeout, log, usage),
		api:            NewControlAPI(reg, cfg.OwnerAPIKey, cfg.AdminAPIKey, log, cfg.BaseURL, audit),
		createLimiter:  NewIPRateLimiter(orOne(cfg.CreateRateLimitPerMin)),
		deleteLimiter:  NewIPRateLimiter(orOne(cfg.DeleteRateLimitPerMin)),
		listLimiter:    NewIPRateLimiter(orOne(cfg.ListRateLimitPerMin)),
		statusLimiter:  NewIPRateLimiter(orOne(cfg.StatusRateLimitPerMin)),
	}
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

const (
	channelPathPrefix = "/api/tunnel/connect/"
	controlPrefix     = "/api/tunnels/"
)

// ServeHTTP is the gateway's sole entry point. Routing is by path shape: the
// control API owns /api/tunnels/..., the duplex channel owns
// /api/tunnel/connect/{tunnel_id}, and everything else is public ingress
// traffic addressed to /{tunnel_id}/....
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health":
		s.handleHealth(w, r)
	case strings.HasPrefix(r.URL.Path, channelPathPrefix):
		tunnelID := strings.TrimPrefix(r.URL.Path, channelPathPrefix)
		s.channelHandler.ServeHTTP(w, r, tunnelID)
	case strings.HasPrefix(r.URL.Path, controlPrefix):
		s.routeControl(w, r)
	default:
		s.proxy.ServeHTTP(w, r)
	}
}

func (s *Server) routeControl(w http.ResponseWriter, r *http.Request) {
	if !s.api.authenticate(r) {
		if r.Header.Get(APIKeyHeader) == "" {
			writeErr(w, http.StatusUnauthorized, "API key required")
		} else {
			writeErr(w, http.StatusForbidden, "invalid API key")
		}
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, controlPrefix)

	switch {
	case rest == "create" && r.Method == http.MethodPost:
		s.createLimiter.Middleware(s.api.HandleCreate)(w, r)
	case rest == "list" && r.Method == http.MethodGet:
		s.listLimiter.Middleware(s.api.HandleList)(w, r)
	case strings.HasSuffix(rest, "/status") && r.Method == http.MethodGet:
		tunnelID := strings.TrimSuffix(rest, "/status")
		s.statusLimiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
			s.api.HandleStatus(w, r, tunnelID)
		})(w, r)
	case rest != "" && !strings.Contains(rest, "/") && r.Method == http.MethodDelete:
		tunnelID := rest
		s.deleteLimiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
			s.api.HandleDelete(w, r, tunnelID)
		})(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"tunnels": s.registry.Len(),
	})
}
