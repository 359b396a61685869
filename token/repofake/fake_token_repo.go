package tokenfakerepo

import (
	"context"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
)

var _ token.Store = (*FakeTokenStore)(nil)

// FakeTokenStore keeps the pair in memory. Used by tests and TOKEN_STORE=memory.
type FakeTokenStore struct {
	access  token.Entry
	refresh token.Entry
	now     func() time.Time
	lock    sync.RWMutex

	sets   int
	clears int
}

func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{now: time.Now}
}

// WithNowTime sets the clock used for expiry checks
func (ts *FakeTokenStore) WithNowTime(nowFunc func() time.Time) *FakeTokenStore {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	ts.now = nowFunc
	return ts
}

func (ts *FakeTokenStore) Get(_ context.Context, kind token.Kind) (string, error) {
	ts.lock.RLock()
	defer ts.lock.RUnlock()

	var entry token.Entry
	switch kind {
	case token.Access:
		entry = ts.access
	case token.Refresh:
		entry = ts.refresh
	default:
		return "", token.ErrUnknownKind
	}
	if !entry.Live(ts.now()) {
		return "", autherrors.ErrNotFound
	}
	return entry.Value, nil
}

func (ts *FakeTokenStore) Set(_ context.Context, pair token.Pair, ttls token.TTLs) error {
	if !pair.Complete() {
		return token.ErrIncompletePair
	}
	ts.lock.Lock()
	defer ts.lock.Unlock()

	ts.access, ts.refresh = token.NewEntries(pair, ttls, ts.now())
	ts.sets++
	return nil
}

func (ts *FakeTokenStore) Clear(_ context.Context) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	ts.access = token.Entry{}
	ts.refresh = token.Entry{}
	ts.clears++
	return nil
}

// Pair returns the raw stored values, ignoring expiry
func (ts *FakeTokenStore) Pair() token.Pair {
	ts.lock.RLock()
	defer ts.lock.RUnlock()
	return token.Pair{AccessToken: ts.access.Value, RefreshToken: ts.refresh.Value}
}

// Writes returns how many times Set and Clear succeeded
func (ts *FakeTokenStore) Writes() (sets, clears int) {
	ts.lock.RLock()
	defer ts.lock.RUnlock()
	return ts.sets, ts.clears
}
