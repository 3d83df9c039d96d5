package server

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/metrics"
)

// Handler assembles the HTTP surface: the WebSocket endpoint, the
// upload/storage bridge, legacy blocking adapters, admin REST, and
// metrics. Tests mount this on httptest directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/v1/ws", s.handleWebSocket)

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /v1/upload", s.handleUpload)
	mux.HandleFunc("GET /storage/{key}", s.handleStorageGet)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("POST /superres", s.handleSuperres)

	mux.HandleFunc("GET /api/models/status", s.handleModelsStatus)
	mux.HandleFunc("GET /api/modes", s.handleModesList)
	mux.HandleFunc("POST /api/modes/switch", s.handleModeSwitch)
	mux.HandleFunc("POST /api/modes/reload", s.handleModesReload)
	mux.HandleFunc("PUT /api/modes", s.handleModesReplace)
	mux.HandleFunc("POST /api/modes/{name}", s.handleModeUpsert)
	mux.HandleFunc("DELETE /api/modes/{name}", s.handleModeDelete)
	mux.HandleFunc("GET /api/vram", s.handleVRAM)

	mux.HandleFunc("GET /api/workflows", s.handleWorkflowsList)
	mux.HandleFunc("GET /api/workflows/{name}", s.handleWorkflowGet)
	mux.HandleFunc("POST /api/workflows/reload", s.handleWorkflowsReload)
	mux.HandleFunc("PUT /api/workflows", s.handleWorkflowsReplace)
	mux.HandleFunc("POST /api/workflows/{name}", s.handleWorkflowUpsert)
	mux.HandleFunc("DELETE /api/workflows/{name}", s.handleWorkflowDelete)

	mux.HandleFunc("POST /api/telemetry", s.handleTelemetryHTTP)

	mux.Handle("GET /metrics", metrics.Handler())

	return s.corsMiddleware(mux)
}

// corsMiddleware mirrors the websocket origin policy onto the REST
// surface and answers preflights.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin gates websocket upgrades. Non-browser clients send no
// Origin header and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

// originAllowed accepts configured origins by prefix and always admits
// localhost for development.
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// findAvailablePort probes upward from the preferred port.
func findAvailablePort(host string, port int) (int, error) {
	for p := port; p < port+100; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			ln.Close()
			return p, nil
		}
	}
	return 0, errors.Newf("no available port in range %d-%d", port, port+99)
}
