package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// TLSManager provisions and serves a certificate for the gateway's single
// public hostname via ACME. Unlike the per-customer-subdomain model this is
// adapted from, there is exactly one allowed host: every tunnel is
// addressed by path under it, not by its own subdomain.
type TLSManager struct {
	ServiceHost string
	certManager *autocert.Manager
}

// NewTLSManager builds a manager that only ever issues a certificate for
// serviceHost, caching issued certificates under cacheDir.
func NewTLSManager(serviceHost, cacheDir string) *TLSManager {
	mgr := &TLSManager{ServiceHost: serviceHost}
	mgr.certManager = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: mgr.HostPolicy,
		Cache:      autocert.DirCache(cacheDir),
	}
	return mgr
}

// HostPolicy rejects every SNI hostname except the configured service host.
func (m *TLSManager) HostPolicy(ctx context.Context, host string) error {
	if host == m.ServiceHost {
		return nil
	}
	return fmt.Errorf("host %q not allowed", host)
}

// TLSConfig returns a tls.Config that serves certificates via ACME,
// suitable for http.Server.TLSConfig.
func (m *TLSManager) TLSConfig() *tls.Config {
	return m.certManager.TLSConfig()
}

// HTTPHandler returns the handler that must be mounted on the plaintext
// port 80 listener to serve ACME HTTP-01 challenges; any non-challenge
// request falls through to fallback.
func (m *TLSManager) HTTPHandler(fallback http.Handler) http.Handler {
	return m.certManager.HTTPHandler(fallback)
}

// GetCertificate satisfies tls.Config.GetCertificate directly, for callers
// that build their own tls.Config instead of using TLSConfig().
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return m.certManager.GetCertificate(hello)
}
