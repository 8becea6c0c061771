package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"sicet-backend-go/internal/services"
)

func (s *Server) DashboardStats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dates, err := services.ParseDateRange(query.Get("startDate"), query.Get("endDate"), s.location(), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := services.LoadDashboardStats(r.Context(), s.DB, s.Clock, dates)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// DashboardSocket streams dashboard snapshots. Browsers cannot set headers on
// websocket requests, so the access token comes in the query string.
func (s *Server) DashboardSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	caller, err := authenticate(r.Context(), s.Tokens, s.loadCaller, tokenStr)
	if err != nil {
		if !mapServiceError(w, err) {
			s.fail(w, r, err)
		}
		return
	}
	if !caller.Can(services.ResourceDashboard, services.ActionRead) {
		WriteError(w, http.StatusForbidden, "Not allowed")
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: s.allowedOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.Hub.Add(conn)
	defer func() {
		s.Hub.Remove(conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.Config.CorsOrigins) == 0 {
		return true
	}
	for _, allowed := range s.Config.CorsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
