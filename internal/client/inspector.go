package client

import (
	"bytes"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"
)

//go:embed static/*
var staticFiles embed.FS

type InspectedRequest struct {
	ID              string              `json:"id"`
	Method          string              `json:"method"`
	Path            string              `json:"path"`
	StatusCode      int                 `json:"status_code"`
	RequestHeaders  map[string][]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty"`
	RequestBody     string              `json:"request_body,omitempty"`
	ResponseBody    string              `json:"response_body,omitempty"`
	DurationMs      int64               `json:"duration_ms"`
	Timestamp       time.Time           `json:"timestamp"`
}

type Inspector struct {
	mu         sync.RWMutex
	requests   []*InspectedRequest
	maxSize    int
	mux        *http.ServeMux
	localAddr  string
	httpClient *http.Client
}

// NewInspector builds an inspector that replays requests against localAddr.
func NewInspector(localAddr string) *Inspector {
	i := &Inspector{
		requests:   make([]*InspectedRequest, 0, 100),
		maxSize:    100,
		mux:        http.NewServeMux(),
		localAddr:  localAddr,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	// API routes
	i.mux.HandleFunc("/api/requests", i.handleListRequests)
	i.mux.HandleFunc("/api/requests/", i.handleGetRequest)
	i.mux.HandleFunc("/api/replay/", i.handleReplay)

	// Static files
	staticFS, _ := fs.Sub(staticFiles, "static")
	i.mux.Handle("/", http.FileServer(http.FS(staticFS)))

	return i
}

func (i *Inspector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i.mux.ServeHTTP(w, r)
}

func (i *Inspector) AddRequest(req *InspectedRequest) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	i.requests = append([]*InspectedRequest{req}, i.requests...)

	if len(i.requests) > i.maxSize {
		i.requests = i.requests[:i.maxSize]
	}
}

func (i *Inspector) handleListRequests(w http.ResponseWriter, r *http.Request) {
	i.mu.RLock()
	requests := make([]*InspectedRequest, len(i.requests))
	copy(requests, i.requests)
	i.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requests)
}

func (i *Inspector) find(id string) *InspectedRequest {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, req := range i.requests {
		if req.ID == id {
			return req
		}
	}
	return nil
}

func (i *Inspector) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	req := i.find(id)
	if req == nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

func (i *Inspector) handleReplay(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/replay/")
	original := i.find(id)
	if original == nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}

	localURL := strings.TrimSuffix(i.localAddr, "/") + original.Path
	replayReq, err := http.NewRequestWithContext(r.Context(), original.Method, localURL, bytes.NewReader([]byte(original.RequestBody)))
	if err != nil {
		http.Error(w, "building replay request: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for k, vals := range original.RequestHeaders {
		for _, v := range vals {
			replayReq.Header.Add(k, v)
		}
	}

	resp, err := i.httpClient.Do(replayReq)
	if err != nil {
		http.Error(w, "replay failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status_code": resp.StatusCode,
	})
}
