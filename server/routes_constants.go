package server

// Route path constants
// All dashboard routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex     = "/"
	RouteDashboard = "/dashboard"

	// Auth Routes
	RouteLogin          = "/login"
	RouteLogout         = "/logout"
	RouteRegister       = "/register"
	RouteForgotPassword = "/forgot-password"
	RouteResetPassword  = "/reset-password"

	// API Routes
	RouteAPISession = "/api/session"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
