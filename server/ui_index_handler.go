package server

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/jrsteele09/go-auth-client/gate"
	"github.com/jrsteele09/go-auth-client/users"
)

// IndexHandler sends visitors to the dashboard, which applies the session gate
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, RouteDashboard, http.StatusSeeOther)
	}
}

// DashboardHandler renders the protected home page. It only runs behind gate.RequireSession.
func (s *Server) DashboardHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := gate.UserFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, RouteLogin, http.StatusSeeOther)
			return
		}
		s.render(w, tmpl, http.StatusOK, map[string]interface{}{
			"AppName": s.appName,
			"User":    user,
		})
	}
}

// SessionState is the JSON view of the session for scripts polling the dashboard
type SessionState struct {
	Status      string      `json:"status"`
	Initialized bool        `json:"initialized"`
	Decision    string      `json:"decision"`
	User        *users.User `json:"user,omitempty"`
}

func (s *Server) SessionStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.session.State()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(SessionState{
			Status:      string(state.Status),
			Initialized: state.Initialized,
			Decision:    gate.Decide(state).String(),
			User:        state.User,
		})
	}
}
