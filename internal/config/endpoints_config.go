package config

type EndpointsConfig interface {
	GetLoginPath() string
	GetRegisterPath() string
	GetRefreshPath() string
	GetWhoAmIPath() string
	GetLogoutPath() string
	GetForgotPasswordPath() string
	GetResetPasswordPath() string
}

// Endpoints uses the /auth/* family. Each path can be overridden for
// deployments still serving an older route family.
type Endpoints struct{}

var _ EndpointsConfig = Endpoints{}

func (Endpoints) GetLoginPath() string {
	return GetEnv("AUTH_LOGIN_PATH", "/auth/login")
}

func (Endpoints) GetRegisterPath() string {
	return GetEnv("AUTH_REGISTER_PATH", "/auth/register")
}

func (Endpoints) GetRefreshPath() string {
	return GetEnv("AUTH_REFRESH_PATH", "/auth/refresh")
}

func (Endpoints) GetWhoAmIPath() string {
	return GetEnv("AUTH_WHOAMI_PATH", "/auth/me")
}

func (Endpoints) GetLogoutPath() string {
	return GetEnv("AUTH_LOGOUT_PATH", "/auth/logout")
}

func (Endpoints) GetForgotPasswordPath() string {
	return GetEnv("AUTH_FORGOT_PASSWORD_PATH", "/auth/forgot-password")
}

func (Endpoints) GetResetPasswordPath() string {
	return GetEnv("AUTH_RESET_PASSWORD_PATH", "/auth/reset-password")
}
