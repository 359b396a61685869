package config

import "time"

const (
	TokenStoreFile   = "file"
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

type TokenConfig interface {
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetTokenStore() string
	GetTokenFile() string
	GetTokenStoreKey() string
	GetRedisURL() string
	GetTokenNamespace() string
}

type Tokens struct{}

var _ TokenConfig = Tokens{}

func (Tokens) GetAccessTokenTTL() time.Duration {
	return GetEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour)
}

func (Tokens) GetRefreshTokenTTL() time.Duration {
	return GetEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour) // 7 days
}

// GetTokenStore selects the token backend: "file", "memory" or "redis".
func (Tokens) GetTokenStore() string {
	return GetEnv("TOKEN_STORE", TokenStoreFile)
}

func (Tokens) GetTokenFile() string {
	return GetEnv("TOKEN_FILE", ".authctl-tokens.json")
}

// GetTokenStoreKey is a hex encoded 32 byte key. When set, the token file is sealed at rest.
func (Tokens) GetTokenStoreKey() string {
	return GetEnv("TOKEN_STORE_KEY", "")
}

func (Tokens) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

// GetTokenNamespace scopes stored credentials, the equivalent of a browser origin.
func (Tokens) GetTokenNamespace() string {
	return GetEnv("TOKEN_NAMESPACE", "default")
}
