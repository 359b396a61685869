package filestore_test

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/filestore"
	"github.com/stretchr/testify/require"
)

var testTTLs = token.TTLs{Access: 24 * time.Hour, Refresh: 7 * 24 * time.Hour}

func newStore(t *testing.T, options ...filestore.Option) (*filestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile", "tokens.json")
	s, err := filestore.New(path, options...)
	require.NoError(t, err)
	return s, path
}

func TestRoundTripAndPersistence(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t)

	_, err := s.Get(ctx, token.Access)
	require.ErrorIs(t, err, autherrors.ErrNotFound)

	require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "t1", RefreshToken: "r1"}, testTTLs))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := filestore.New(path)
	require.NoError(t, err)
	access, err := reopened.Get(ctx, token.Access)
	require.NoError(t, err)
	require.Equal(t, "t1", access)
	refresh, err := reopened.Get(ctx, token.Refresh)
	require.NoError(t, err)
	require.Equal(t, "r1", refresh)
}

func TestIndependentExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newStore(t, filestore.WithNowTime(func() time.Time { return now }))

	require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "t1", RefreshToken: "r1"}, testTTLs))

	now = now.Add(2 * 24 * time.Hour)
	_, err := s.Get(ctx, token.Access)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
	refresh, err := s.Get(ctx, token.Refresh)
	require.NoError(t, err)
	require.Equal(t, "r1", refresh)

	now = now.Add(6 * 24 * time.Hour)
	_, err = s.Get(ctx, token.Refresh)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "t1", RefreshToken: "r1"}, testTTLs))
	require.NoError(t, s.Clear(ctx))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = s.Get(ctx, token.Refresh)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestIncompletePairKeepsPriorPair(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "t1", RefreshToken: "r1"}, testTTLs))

	require.ErrorIs(t, s.Set(ctx, token.Pair{RefreshToken: "r2"}, testTTLs), token.ErrIncompletePair)

	access, err := s.Get(ctx, token.Access)
	require.NoError(t, err)
	require.Equal(t, "t1", access)
}

func TestSealedAtRest(t *testing.T) {
	ctx := context.Background()
	key, err := filestore.ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	s, path := newStore(t, filestore.WithKey(key))

	require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "secret-access", RefreshToken: "secret-refresh"}, testTTLs))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-access")

	access, err := s.Get(ctx, token.Access)
	require.NoError(t, err)
	require.Equal(t, "secret-access", access)

	otherKey, err := filestore.ParseKey(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	other, err := filestore.New(path, filestore.WithKey(otherKey))
	require.NoError(t, err)
	_, err = other.Get(ctx, token.Access)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestParseKey(t *testing.T) {
	key, err := filestore.ParseKey("")
	require.NoError(t, err)
	require.Nil(t, key)

	_, err = filestore.ParseKey("abcd")
	require.ErrorIs(t, err, filestore.ErrInvalidKey)
	_, err = filestore.ParseKey(strings.Repeat("zz", 32))
	require.ErrorIs(t, err, filestore.ErrInvalidKey)
}

func TestCorruptFileReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := s.Get(ctx, token.Access)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "t0", RefreshToken: "r0"}, testTTLs))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Set(ctx, token.Pair{AccessToken: "t1", RefreshToken: "r1"}, testTTLs))
		}()
		go func() {
			defer wg.Done()
			access, err := s.Get(ctx, token.Access)
			require.NoError(t, err)
			require.Contains(t, []string{"t0", "t1"}, access)
		}()
	}
	wg.Wait()
}

func TestNewRequiresPath(t *testing.T) {
	_, err := filestore.New("")
	require.Error(t, err)
}
