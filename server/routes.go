package server

import (
	"net/http"

	"github.com/jrsteele09/go-auth-client/gate"
)

func (s *Server) initRoutes() error {
	pages, err := s.parsePages()
	if err != nil {
		return err
	}
	requireSession := gate.RequireSession(s.session, gate.WithLoginPath(RouteLogin))

	s.RegisterRouteFunc("GET "+RouteIndex+"{$}", ChainMiddleware(s.IndexHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteDashboard, ChainMiddleware(s.DashboardHandler(pages.dashboard), s.HTMLMiddleWare(requireSession)...))

	// LOGIN
	s.RegisterRouteFunc("GET "+RouteLogin, ChainMiddleware(s.LoginPageHandler(pages.login), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLogin, ChainMiddleware(s.LoginSubmissionHandler(pages.login), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// SIGNUP
	s.RegisterRouteFunc("GET "+RouteRegister, ChainMiddleware(s.RegisterPageHandler(pages.register), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteRegister, ChainMiddleware(s.RegisterSubmissionHandler(pages.register), s.HTMLMiddleWare()...))

	// PASSWORD RESET
	s.RegisterRouteFunc("GET "+RouteForgotPassword, ChainMiddleware(s.ForgotPasswordGetHandler(pages.forgotPassword), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteForgotPassword, ChainMiddleware(s.ForgotPasswordPostHandler(pages.forgotPassword), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RouteResetPassword, ChainMiddleware(s.ResetPasswordGetHandler(pages.resetPassword), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("POST "+RouteResetPassword, ChainMiddleware(s.ResetPasswordPostHandler(pages.resetPassword, pages.login), s.HTMLMiddleWare()...))

	// API routes
	s.RegisterRouteFunc("GET "+RouteAPISession, ChainMiddleware(s.SessionStateHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.metricsHandler != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metricsHandler)
	}
	return nil
}
