package rescmgr

import (
	"sync"

	"github.com/rescloud/rescloud/model"
)

// Authorization is what a user was granted for one resource type.
type Authorization struct {
	// MaxResources caps how many resources of the type the user may hold
	// at once. Zero means unlimited.
	MaxResources int `toml:"max-resources" json:"max-resources" yaml:"max-resources"`
	// NiceLevel is the best priority the user may request. Requests asking
	// for a lower nice level are demoted to it.
	NiceLevel int `toml:"nice-level" json:"nice-level" yaml:"nice-level"`
}

// AuthorizationStore answers admission questions per resource type. A type
// with no entry at all is open to everybody.
type AuthorizationStore interface {
	// Lookup returns the grant for user on tp. restricted reports whether
	// the type has any entry, found whether user has one.
	Lookup(user model.User, tp model.ResourceType) (auth Authorization, restricted, found bool)
}

type authKey struct {
	tp   string
	user model.User
}

// MemoryAuthorizationStore is an AuthorizationStore kept in memory.
type MemoryAuthorizationStore struct {
	mu         sync.RWMutex
	grants     map[authKey]Authorization
	restricted map[string]int
}

// NewMemoryAuthorizationStore creates an empty store.
func NewMemoryAuthorizationStore() *MemoryAuthorizationStore {
	return &MemoryAuthorizationStore{
		grants:     make(map[authKey]Authorization),
		restricted: make(map[string]int),
	}
}

// Grant records auth for user on tp, restricting tp to granted users.
func (s *MemoryAuthorizationStore) Grant(user model.User, tp model.ResourceType, auth Authorization) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := authKey{tp: tp.Name(), user: user}
	if _, ok := s.grants[key]; !ok {
		s.restricted[tp.Name()]++
	}
	s.grants[key] = auth
}

// Revoke drops the grant of user on tp. Revoking the last grant opens tp
// to everybody again.
func (s *MemoryAuthorizationStore) Revoke(user model.User, tp model.ResourceType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := authKey{tp: tp.Name(), user: user}
	if _, ok := s.grants[key]; !ok {
		return
	}
	delete(s.grants, key)
	s.restricted[tp.Name()]--
	if s.restricted[tp.Name()] == 0 {
		delete(s.restricted, tp.Name())
	}
}

// Lookup implements AuthorizationStore.
func (s *MemoryAuthorizationStore) Lookup(user model.User, tp model.ResourceType) (Authorization, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auth, found := s.grants[authKey{tp: tp.Name(), user: user}]
	return auth, s.restricted[tp.Name()] > 0, found
}
