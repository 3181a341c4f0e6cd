package registry

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/tunnel"
)

const (
	tunnelIDLength  = 8
	tunnelIDCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	idRetryBudget   = 10
)

// Registry is the process-wide directory of live tunnels, keyed by
// tunnel_id. All mutating operations serialize on the registry-wide guard;
// the guard is never held while awaiting channel or HTTP I/O.
type Registry struct {
	mu         sync.RWMutex
	tunnels    map[string]*Tunnel
	maxTunnels int
}

// New builds an empty registry. maxTunnels <= 0 means unbounded.
func New(maxTunnels int) *Registry {
	return &Registry{
		tunnels:    make(map[string]*Tunnel),
		maxTunnels: maxTunnels,
	}
}

func generateTunnelID() (string, error) {
	// Bytes at or above limit are rejected so every charset index is equally
	// likely.
	limit := 256 - 256%len(tunnelIDCharset)
	buf := make([]byte, 1)
	id := make([]byte, 0, tunnelIDLength)
	for len(id) < tunnelIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if int(buf[0]) >= limit {
			continue
		}
		id = append(id, tunnelIDCharset[int(buf[0])%len(tunnelIDCharset)])
	}
	return string(id), nil
}

// Create mints a new tunnel in CONNECTING state with no attached channel.
// tunnel_id is generated by uniform sampling over lowercase letters and
// digits, retrying on collision up to idRetryBudget times.
func (r *Registry) Create(name string, localPort int, metadata map[string]any) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxTunnels > 0 && len(r.tunnels) >= r.maxTunnels {
		return nil, tunnel.ErrCapacityExhausted
	}

	var id string
	for attempt := 0; ; attempt++ {
		candidate, err := generateTunnelID()
		if err != nil {
			return nil, err
		}
		if _, exists := r.tunnels[candidate]; !exists {
			id = candidate
			break
		}
		if attempt >= idRetryBudget {
			return nil, tunnel.ErrCapacityExhausted
		}
	}

	authToken, err := generateAuthToken()
	if err != nil {
		return nil, err
	}

	t := newTunnel(id, authToken, name, localPort, metadata)
	r.tunnels[id] = t
	return t, nil
}

// Attach authenticates a presented auth_token against the named tunnel and,
// on success, attaches the duplex channel and transitions the tunnel to
// ACTIVE. A mismatch leaves all state untouched and returns false — no
// lockout, no failure counter. A tunnel that is already attached rejects a
// second attach (single-attach policy, §9).
func (r *Registry) Attach(id, authToken string, ch Channel) (*Tunnel, bool) {
	r.mu.RLock()
	t, ok := r.tunnels[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(t.AuthToken), []byte(authToken)) != 1 {
		return nil, false
	}
	if t.channel != nil {
		return nil, false
	}

	t.channel = ch
	t.status = StatusActive
	now := time.Now()
	if now.After(t.lastActive) {
		t.lastActive = now
	}
	return t, true
}

// Detach clears the attached channel, marks the tunnel DISCONNECTED, and
// fails every pending request with ErrTunnelDisconnected. Idempotent: a
// tunnel that is already detached is left unchanged.
func (r *Registry) Detach(id string) {
	r.mu.RLock()
	t, ok := r.tunnels[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	if t.channel == nil && t.status == StatusDisconnected {
		t.mu.Unlock()
		return
	}
	t.channel = nil
	t.status = StatusDisconnected
	t.mu.Unlock()

	t.FailAllPending(tunnel.ErrTunnelDisconnected)
}

// Delete removes the tunnel from the registry, closes any attached channel,
// and fails all pending requests with ErrTunnelDeleted. Returns whether a
// tunnel was actually removed — deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	t, ok := r.tunnels[id]
	if ok {
		delete(r.tunnels, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.status = StatusExpired
	t.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	t.FailAllPending(tunnel.ErrTunnelDeleted)
	return true
}

// Get returns a tunnel by id, or ok=false if none is registered.
func (r *Registry) Get(id string) (*Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[id]
	return t, ok
}

// List returns a snapshot of all tunnels, safe for concurrent iteration.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, t.Info())
	}
	return out
}

// UpdateActivity touches a tunnel's last_active timestamp.
func (r *Registry) UpdateActivity(id string) {
	r.mu.RLock()
	t, ok := r.tunnels[id]
	r.mu.RUnlock()
	if ok {
		t.UpdateActivity()
	}
}

// Len reports how many tunnels are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// idleTunnelIDs returns the ids of every registered tunnel for which isIdle
// reports true. Used by the sweeper, which supplies the expiry rule.
func (r *Registry) idleTunnelIDs(isIdle func(t *Tunnel) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, t := range r.tunnels {
		if isIdle(t) {
			ids = append(ids, id)
		}
	}
	return ids
}
