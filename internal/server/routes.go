// Route wiring for the Halcyon HTTP surface.
package server

import "net/http"

// Routes configures and returns the ServeMux with the websocket endpoint,
// health check, and the JSON API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)

	mux.HandleFunc("POST /api/register", s.RegisterHandler)
	mux.HandleFunc("POST /api/login", s.LoginHandler)
	mux.HandleFunc("GET /api/me", s.MeHandler)
	mux.HandleFunc("POST /api/profile", s.ProfileHandler)
	mux.HandleFunc("GET /api/search_user", s.SearchUserHandler)
	mux.HandleFunc("POST /api/create_chat", s.CreateChatHandler)
	mux.HandleFunc("GET /api/contacts", s.ContactsHandler)
	mux.HandleFunc("GET /api/history", s.HistoryHandler)
	return mux
}
