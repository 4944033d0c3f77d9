package flow

import (
	"sync"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/cache"
	"github.com/dropDatabas3/gatehouse/internal/security/tokens"
)

const (
	statePrefix = "state:"

	// maxStateTTL caps how long an authorization round-trip may take.
	maxStateTTL = 5 * time.Minute
)

// StateStore holds pending authorization states. Each entry is single-use:
// Consume removes it, so a replayed callback finds nothing. The mutex makes
// the get-and-delete atomic within this process; with a shared Redis cache
// a cross-process race window remains, bounded by the TTL.
type StateStore struct {
	mu    sync.Mutex
	cache cache.Cache
	ttl   time.Duration
}

// NewStateStore builds a store over the given cache. TTLs of zero or above
// the cap are clamped to the cap.
func NewStateStore(c cache.Cache, ttl time.Duration) *StateStore {
	if ttl <= 0 || ttl > maxStateTTL {
		ttl = maxStateTTL
	}
	return &StateStore{cache: c, ttl: ttl}
}

// Put records a pending state with the nonce issued alongside it.
func (s *StateStore) Put(state, nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(statePrefix+tokens.SHA256Hex(state), []byte(nonce), s.ttl)
}

// Consume retrieves and deletes the state in one step. The second return
// is false when the state is unknown, expired, or already used.
func (s *StateStore) Consume(state string) (string, bool) {
	if state == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statePrefix + tokens.SHA256Hex(state)
	b, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	s.cache.Delete(key)
	return string(b), true
}
