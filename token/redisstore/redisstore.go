// Package redisstore keeps the credential pair in Redis for deployments where
// a backend-for-frontend holds a user's tokens. Each half is its own key with
// its own expiry.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authclient"

var _ token.Store = (*Store)(nil)

type Store struct {
	client    redis.UniversalClient
	namespace string
}

// New creates a store whose keys are scoped by namespace, e.g. a browser
// session id or a CLI profile name.
func New(client redis.UniversalClient, namespace string) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] client is required")
	}
	if namespace == "" {
		return nil, errors.New("[redisstore.New] namespace is required")
	}
	return &Store{client: client, namespace: namespace}, nil
}

// Dial parses a redis:// URL and creates a store on a new client.
func Dial(redisURL, namespace string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("[redisstore.Dial] parse url: %w", err)
	}
	return New(redis.NewClient(opts), namespace)
}

func (s *Store) key(kind token.Kind) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, s.namespace, kind)
}

func (s *Store) Get(ctx context.Context, kind token.Kind) (string, error) {
	if kind != token.Access && kind != token.Refresh {
		return "", token.ErrUnknownKind
	}
	value, err := s.client.Get(ctx, s.key(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return "", autherrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis_token_get_failed: %w", err)
	}
	return value, nil
}

// Set writes both keys in one MULTI/EXEC so a reader sees the old pair or the new one.
func (s *Store) Set(ctx context.Context, pair token.Pair, ttls token.TTLs) error {
	if !pair.Complete() {
		return token.ErrIncompletePair
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(token.Access), pair.AccessToken, ttls.Access)
		pipe.Set(ctx, s.key(token.Refresh), pair.RefreshToken, ttls.Refresh)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_token_set_failed: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(token.Access), s.key(token.Refresh)).Err(); err != nil {
		return fmt.Errorf("redis_token_clear_failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
