package rescmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rescloud/rescloud/model"
)

func TestMemoryAuthorizationStore(t *testing.T) {
	t.Parallel()

	s := NewMemoryAuthorizationStore()
	alice := model.User{Name: "alice", Source: "ldap"}
	bob := model.User{Name: "bob", Source: "ldap"}
	other := model.NewResourceType("other")

	_, restricted, found := s.Lookup(alice, testType)
	require.False(t, restricted)
	require.False(t, found)

	s.Grant(alice, testType, Authorization{MaxResources: 2, NiceLevel: 5})
	auth, restricted, found := s.Lookup(alice, testType)
	require.True(t, restricted)
	require.True(t, found)
	require.Equal(t, Authorization{MaxResources: 2, NiceLevel: 5}, auth)

	_, restricted, found = s.Lookup(bob, testType)
	require.True(t, restricted)
	require.False(t, found)

	// same name from another source is another user
	_, _, found = s.Lookup(model.User{Name: "alice", Source: "local"}, testType)
	require.False(t, found)

	_, restricted, _ = s.Lookup(alice, other)
	require.False(t, restricted)

	// granting twice does not count twice
	s.Grant(alice, testType, Authorization{MaxResources: 1})
	s.Revoke(alice, testType)
	_, restricted, _ = s.Lookup(bob, testType)
	require.False(t, restricted)
	s.Revoke(alice, testType)
}
