// Package dashboard serves a small read-only operator view of the gateway:
// live tunnels and, when billing is configured, their bandwidth usage. It
// has no bearing on the dispatch plane itself.
package dashboard

import (
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/tunnelforge/tunnelforge/internal/billing"
	"github.com/tunnelforge/tunnelforge/internal/registry"
)

//go:embed templates/*.html
var content embed.FS

// TunnelRow is one tunnel as rendered on the dashboard.
type TunnelRow struct {
	registry.Info
	UsageGB float64
	OverLimit bool
}

// Handler serves the read-only operator dashboard.
type Handler struct {
	registry  *registry.Registry
	billing   *billing.Service
	adminKey  string
	templates *template.Template
	mux       *http.ServeMux
}

// NewHandler builds a Handler. billingSvc may be nil to disable usage
// columns. adminKey, if non-empty, is required as either the x-api-key
// header or an `?key=` query parameter.
func NewHandler(reg *registry.Registry, billingSvc *billing.Service, adminKey string) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatBytes": formatBytes,
		"formatTime":  formatTime,
		"lower":       strings.ToLower,
	}).ParseFS(content, "templates/*.html")
	if err != nil {
		return nil, err
	}

	h := &Handler{
		registry:  reg,
		billing:   billingSvc,
		adminKey:  adminKey,
		templates: tmpl,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("/dashboard", h.requireAdmin(h.handleDashboard))
	h.mux.HandleFunc("/dashboard/tunnels/", h.requireAdmin(h.handleTunnelDetail))

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminKey == "" {
			next(w, r)
			return
		}
		key := r.Header.Get("x-api-key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.adminKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.List()
	rows := make([]TunnelRow, 0, len(infos))
	for _, info := range infos {
		row := TunnelRow{Info: info}
		if h.billing != nil {
			if summary, err := h.billing.GetUsageSummary(r.Context(), info.ID); err == nil {
				row.UsageGB = summary.UsedGB
				row.OverLimit = summary.OverLimit
			}
		}
		rows = append(rows, row)
	}

	h.render(w, "dashboard.html", map[string]any{
		"Tunnels": rows,
		"Count":   len(rows),
	})
}

func (h *Handler) handleTunnelDetail(w http.ResponseWriter, r *http.Request) {
	tunnelID := strings.TrimPrefix(r.URL.Path, "/dashboard/tunnels/")
	info, ok := h.registry.Get(tunnelID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var summary *billing.UsageSummary
	if h.billing != nil {
		summary, _ = h.billing.GetUsageSummary(r.Context(), tunnelID)
	}

	h.render(w, "tunnel.html", map[string]any{
		"Tunnel": info.Info(),
		"Usage":  summary,
	})
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func formatTime(t time.Time) string {
	return t.Format("Jan 2, 2006 3:04 PM")
}
