// Package filestore persists the credential pair in a single file, the
// process-level counterpart of a browser's per-origin cookie jar.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
	fileMode  = 0o600
)

var _ token.Store = (*Store)(nil)

// ErrInvalidKey is returned for keys that are not 32 hex encoded bytes.
var ErrInvalidKey = errors.New("token store key must be 32 hex encoded bytes")

type fileContents struct {
	Access  token.Entry `json:"access_token"`
	Refresh token.Entry `json:"refresh_token"`
}

// Store keeps both tokens in one JSON file written with a temp file and
// rename, so readers never observe half a pair.
type Store struct {
	path   string
	key    *[keySize]byte
	now    func() time.Time
	logger zerolog.Logger
	mu     sync.RWMutex
}

type Option func(*Store)

// WithKey seals the file at rest with secretbox.
func WithKey(key *[keySize]byte) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.now = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store backed by path. The file is created on first Set.
func New(path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore.New] path is required")
	}
	s := &Store{
		path:   path,
		now:    time.Now,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "filestore").Logger()
	return s, nil
}

// ParseKey decodes a hex encoded 32 byte key. An empty string yields a nil key.
func ParseKey(encoded string) (*[keySize]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

func (s *Store) Get(_ context.Context, kind token.Kind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contents, err := s.load()
	if err != nil {
		return "", err
	}

	var entry token.Entry
	switch kind {
	case token.Access:
		entry = contents.Access
	case token.Refresh:
		entry = contents.Refresh
	default:
		return "", token.ErrUnknownKind
	}
	if !entry.Live(s.now()) {
		return "", autherrors.ErrNotFound
	}
	return entry.Value, nil
}

func (s *Store) Set(_ context.Context, pair token.Pair, ttls token.TTLs) error {
	if !pair.Complete() {
		return token.ErrIncompletePair
	}
	access, refresh := token.NewEntries(pair, ttls, s.now())
	data, err := json.Marshal(fileContents{Access: access, Refresh: refresh})
	if err != nil {
		return fmt.Errorf("[filestore.Set] marshal: %w", err)
	}
	if s.key != nil {
		if data, err = seal(data, s.key); err != nil {
			return fmt.Errorf("[filestore.Set] seal: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(data)
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("[filestore.Clear] remove: %w", err)
	}
	return nil
}

// load reads the file. A missing file is ErrNotFound; an unreadable one is
// logged and treated as empty so a corrupt file never blocks a fresh login.
func (s *Store) load() (fileContents, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileContents{}, autherrors.ErrNotFound
	}
	if err != nil {
		return fileContents{}, fmt.Errorf("[filestore] read: %w", err)
	}
	if s.key != nil {
		opened, ok := open(data, s.key)
		if !ok {
			s.logger.Warn().Str("path", s.path).Msg("token file could not be opened with the configured key")
			return fileContents{}, autherrors.ErrNotFound
		}
		data = opened
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("token file is corrupt")
		return fileContents{}, autherrors.ErrNotFound
	}
	return contents, nil
}

func (s *Store) writeAtomic(data []byte) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("[filestore] mkdir: %w", err)
		}
	}
	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, fileMode); err != nil {
		return fmt.Errorf("[filestore] write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf("[filestore] rename temp file: %v; remove temp file: %w", err, removeErr)
		}
		return fmt.Errorf("[filestore] rename temp file: %w", err)
	}
	return nil
}

func seal(data []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], data, &nonce, key), nil
}

func open(data []byte, key *[keySize]byte) ([]byte, bool) {
	if len(data) < nonceSize+secretbox.Overhead {
		return nil, false
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	return secretbox.Open(nil, data[nonceSize:], &nonce, key)
}
