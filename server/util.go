package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/qacompanion/qac/config"
)

// getUpgrader creates a WebSocket upgrader with origin checking from config
func (s *Server) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates request origin against configured allowed origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., curl, direct WebSocket clients)
	if origin == "" {
		return true
	}

	// Prefix matching so any port on an allowed host passes
	for _, allowed := range s.cfg.GetServerAllowedOrigins() {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}

	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost")
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(host string, port int) bool {
	addr := fmt.Sprintf("%s:%d", host, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close() // Best-effort check, caller retries on actual bind
	return true
}

// findAvailablePort tries the requested port first, then the default
// port, then a high fallback range.
func findAvailablePort(host string, requestedPort int) (int, error) {
	if isPortAvailable(host, requestedPort) {
		return requestedPort, nil
	}

	if requestedPort != config.DefaultServerPort && isPortAvailable(host, config.DefaultServerPort) {
		return config.DefaultServerPort, nil
	}

	fallbackStart := 58787
	for i := 0; i < 10; i++ {
		port := fallbackStart + i
		if isPortAvailable(host, port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available ports found (tried %d, %d, and range %d-%d)",
		requestedPort, config.DefaultServerPort, fallbackStart, fallbackStart+9)
}
