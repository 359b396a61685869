package config

import "time"

type Config interface {
	EnvConfig
	EndpointsConfig
	TokenConfig
	HTTPConfig
}

type EnvConfig interface {
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
	GetLogLevel() string
	GetListenAddr() string
}

type HTTPConfig interface {
	GetRequestTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetLogoutTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Endpoints
	Tokens
	HTTP
}

func New() Config {
	return mainConfig{}
}
