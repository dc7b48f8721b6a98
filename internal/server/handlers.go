// HTTP handlers: the WebSocket upgrade (where the session handshake
// happens) and the health check.
package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler authenticates the handshake and upgrades the
// connection. The session token travels in the "token" query parameter;
// an invalid token refuses the connection before the upgrade, so a failed
// handshake never reaches the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	username, err := s.authn.Resolve(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s.hub, s, username, r.RemoteAddr, s.cfg, s.log)
	// Register, then the connect transition, then the pumps: the read
	// pump's disconnect path assumes Connected has already run.
	s.hub.Register(client)
	s.sessions.Connected(r.Context(), client)
	s.hub.Start(client)
}

// HealthHandler reports that the relay is up.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Halcyon relay is running!")
}
