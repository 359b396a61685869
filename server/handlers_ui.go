package server

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-client/gate"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

const contentTypeHTML = "text/html; charset=utf-8"

type pages struct {
	login          *template.Template
	register       *template.Template
	dashboard      *template.Template
	forgotPassword *template.Template
	resetPassword  *template.Template
}

func (s *Server) parsePages() (pages, error) {
	var p pages
	for name, dst := range map[string]**template.Template{
		"login.html":           &p.login,
		"register.html":        &p.register,
		"dashboard.html":       &p.dashboard,
		"forgot_password.html": &p.forgotPassword,
		"reset_password.html":  &p.resetPassword,
	} {
		tmpl, err := ParseTemplate(name)
		if err != nil {
			return pages{}, autherrors.Wrapf(err, "parse %s", name)
		}
		*dst = tmpl
	}
	return p, nil
}

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	AppName string
	Next    string
	Email   string // Preserve email on error
	Error   string
	Notice  string
}

// RegisterPageData contains data for rendering the signup page
type RegisterPageData struct {
	AppName      string
	Email        string
	DisplayName  string
	Organization string
	Error        string
}

// PasswordPageData is used by the forgot and reset password pages
type PasswordPageData struct {
	AppName string
	Email   string
	Token   string
	Error   string
	Notice  string
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, status int, data any) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		s.logger.Err(err).Msg("Failed to render template")
	}
}

// errorStatus maps a failed operation to the status the page is rendered with.
func errorStatus(err error) int {
	switch autherrors.KindOf(err) {
	case autherrors.KindValidation:
		return http.StatusBadRequest
	case autherrors.KindInvalidCredentials:
		return http.StatusUnauthorized
	case autherrors.KindNetwork:
		return http.StatusBadGateway
	}
	var e *autherrors.Error
	if autherrors.As(err, &e) && e.Status >= 400 && e.Status < 500 {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// LoginPageHandler displays the login page (GET /login)
func (s *Server) LoginPageHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		next := gate.SafeNext(q.Get("next"), RouteDashboard)
		if s.session.State().Authenticated() {
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
		s.render(w, tmpl, http.StatusOK, LoginPageData{
			AppName: s.appName,
			Next:    next,
			Email:   q.Get("email"),
			Notice:  q.Get("notice"),
		})
	}
}

// LoginSubmissionHandler processes the login form submission
func (s *Server) LoginSubmissionHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		email := strings.TrimSpace(r.PostFormValue("email"))
		next := gate.SafeNext(r.PostFormValue("next"), RouteDashboard)

		if _, err := s.session.Login(r.Context(), email, r.PostFormValue("password")); err != nil {
			s.render(w, tmpl, errorStatus(err), LoginPageData{
				AppName: s.appName,
				Next:    next,
				Email:   email,
				Error:   autherrors.UserMessage(err),
			})
			return
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}

// LogoutHandler signs out and returns to the login page
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.Logout(r.Context()); err != nil {
			s.logger.Err(err).Msg("logout could not clear local tokens")
		}
		http.Redirect(w, r, RouteLogin, http.StatusSeeOther)
	}
}

func (s *Server) RegisterPageHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusOK, RegisterPageData{AppName: s.appName})
	}
}

func (s *Server) RegisterSubmissionHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		profile := oauthmodel.RegisterRequest{
			Email:           strings.TrimSpace(r.PostFormValue("email")),
			Password:        r.PostFormValue("password"),
			ConfirmPassword: r.PostFormValue("confirm_password"),
			DisplayName:     strings.TrimSpace(r.PostFormValue("display_name")),
			Organization:    strings.TrimSpace(r.PostFormValue("organization")),
		}

		if _, err := s.session.Register(r.Context(), profile); err != nil {
			s.render(w, tmpl, errorStatus(err), RegisterPageData{
				AppName:      s.appName,
				Email:        profile.Email,
				DisplayName:  profile.DisplayName,
				Organization: profile.Organization,
				Error:        autherrors.UserMessage(err),
			})
			return
		}
		http.Redirect(w, r, RouteDashboard, http.StatusSeeOther)
	}
}

func (s *Server) ForgotPasswordGetHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusOK, PasswordPageData{AppName: s.appName, Email: r.URL.Query().Get("email")})
	}
}

func (s *Server) ForgotPasswordPostHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		email := strings.TrimSpace(r.PostFormValue("email"))
		if err := s.session.ForgotPassword(r.Context(), email); err != nil {
			s.render(w, tmpl, errorStatus(err), PasswordPageData{AppName: s.appName, Email: email, Error: autherrors.UserMessage(err)})
			return
		}
		s.render(w, tmpl, http.StatusOK, PasswordPageData{
			AppName: s.appName,
			Notice:  "If an account exists for " + email + ", a reset link is on its way.",
		})
	}
}

func (s *Server) ResetPasswordGetHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusOK, PasswordPageData{AppName: s.appName, Token: r.URL.Query().Get("token")})
	}
}

func (s *Server) ResetPasswordPostHandler(tmpl, loginTmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		resetToken := r.PostFormValue("token")
		err := s.session.ResetPassword(r.Context(), resetToken, r.PostFormValue("new_password"), r.PostFormValue("confirm_password"))
		if err != nil {
			s.render(w, tmpl, errorStatus(err), PasswordPageData{AppName: s.appName, Token: resetToken, Error: autherrors.UserMessage(err)})
			return
		}
		s.render(w, loginTmpl, http.StatusOK, LoginPageData{
			AppName: s.appName,
			Next:    RouteDashboard,
			Notice:  "Your password has been updated. Please sign in.",
		})
	}
}
