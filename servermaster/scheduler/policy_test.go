package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/errors"
	"github.com/rescloud/rescloud/pkg/resource"
	"github.com/rescloud/rescloud/pkg/resourcegroup"
)

var (
	seleniumType = model.NewResourceType("selenium")

	alice = model.User{Name: "alice", Source: "local"}
	bob   = model.User{Name: "bob", Source: "local"}
)

type policyTestEnv struct {
	groups     *resourcegroup.MemoryManager
	restricted *resourcegroup.StaticGroup
	open       *resourcegroup.StaticGroup
	r1, r2, r3 *resource.Host
	o1, o2     *resource.Host
}

// newPolicyTestEnv creates an open group (lower ID) and a group restricted
// to alice (higher ID), so that group order alone would favor the open one.
func newPolicyTestEnv() *policyTestEnv {
	env := &policyTestEnv{
		groups:     resourcegroup.NewMemoryManager(),
		restricted: resourcegroup.NewStaticGroup(seleniumType),
		open:       resourcegroup.NewStaticGroup(seleniumType),
		r1:         resource.NewHost("r1", seleniumType, "r1:4444", false),
		r2:         resource.NewHost("r2", seleniumType, "r2:4444", false),
		r3:         resource.NewHost("r3", seleniumType, "r3:4444", false),
		o1:         resource.NewHost("o1", seleniumType, "o1:4444", false),
		o2:         resource.NewHost("o2", seleniumType, "o2:4444", false),
	}
	env.open.AddResource(env.o1)
	env.open.AddResource(env.o2)
	env.restricted.AddResource(env.r1)
	env.restricted.AddResource(env.r2)
	env.restricted.AddResource(env.r3)
	env.restricted.SetLimitingUsers(true)
	env.restricted.AddAuthorizedUser(alice)

	env.groups.AddGroup("open", env.open)
	env.groups.AddGroup("restricted", env.restricted)
	return env
}

func (env *policyTestEnv) all() []resource.Resource {
	return []resource.Resource{env.o2, env.r3, env.o1, env.r1, env.r2}
}

func TestDefaultPolicyAuthorizedFirst(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	p := NewDefaultPolicy()

	req := model.NewResourceRequest(alice, seleniumType, 0, "job", nil)
	ranked := p.Rank(env.groups, req, env.all())
	require.Equal(t, []resource.Resource{env.r1, env.r2, env.r3, env.o1, env.o2}, ranked.Slice())

	req = model.NewResourceRequest(bob, seleniumType, 0, "job", nil)
	ranked = p.Rank(env.groups, req, env.all())
	require.Equal(t, []resource.Resource{env.o1, env.o2}, ranked.Slice())
	require.False(t, ranked.Contains(env.r1))
	require.Equal(t, 1, ranked.IndexOf(env.o2))
}

func TestDefaultPolicyHonorsGroupOrder(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	env.open.MoveResource(env.o2, true)
	env.restricted.SetLimitingUsers(false)

	req := model.NewResourceRequest(bob, seleniumType, 0, "job", nil)
	ranked := NewDefaultPolicy().Rank(env.groups, req, env.all())
	// Both groups are open now; groups are ranked by ascending ID.
	require.Equal(t, []resource.Resource{env.o2, env.o1, env.r1, env.r2, env.r3}, ranked.Slice())
}

func TestDefaultPolicyIgnoresUnknownResources(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	stray := resource.NewHost("stray", seleniumType, "stray:4444", false)
	req := model.NewResourceRequest(alice, seleniumType, 0, "job", nil)

	ranked := NewDefaultPolicy().Rank(env.groups, req, []resource.Resource{stray, env.o1})
	require.Equal(t, []resource.Resource{env.o1}, ranked.Slice())

	ranked = NewDefaultPolicy().Rank(env.groups, req, nil)
	require.Equal(t, 0, ranked.Len())
}

func TestCandidatesAreImmutable(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	req := model.NewResourceRequest(alice, seleniumType, 0, "job", nil)
	ranked := NewDefaultPolicy().Rank(env.groups, req, env.all())

	s := ranked.Slice()
	s[0] = env.o2
	require.Equal(t, resource.Resource(env.r1), ranked.At(0))
}

func TestRoundRobinSorter(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	p, err := NewPolicyByName(PolicyRoundRobin)
	require.NoError(t, err)
	obs, ok := p.(AssignmentObserver)
	require.True(t, ok)

	req := model.NewResourceRequest(alice, seleniumType, 0, "job", nil)
	idle := []resource.Resource{env.r1, env.r2, env.r3}

	// ranking alone does not rotate
	for i := 0; i < 3; i++ {
		require.Equal(t, resource.Resource(env.r1), p.Rank(env.groups, req, idle).At(0))
	}

	var firsts []resource.Resource
	for i := 0; i < 4; i++ {
		first := p.Rank(env.groups, req, idle).At(0)
		firsts = append(firsts, first)
		obs.Assigned(env.groups, first)
	}
	require.Equal(t, []resource.Resource{env.r1, env.r2, env.r3, env.r1}, firsts)

	// the rotation continues after the resource assigned last, even when
	// it was not the preferred one
	obs.Assigned(env.groups, env.r3)
	require.Equal(t, []resource.Resource{env.r1, env.r2, env.r3}, p.Rank(env.groups, req, idle).Slice())
	obs.Assigned(env.groups, env.o1)
	require.Equal(t, resource.Resource(env.r1), p.Rank(env.groups, req, idle).At(0))
}

func TestDefaultPolicyIgnoresAssignments(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	p := NewDefaultPolicy()
	req := model.NewResourceRequest(alice, seleniumType, 0, "job", nil)
	p.Assigned(env.groups, env.r1)
	p.Assigned(env.groups, resource.NewHost("stray", seleniumType, "", false))
	require.Equal(t, resource.Resource(env.r1), p.Rank(env.groups, req, env.all()).At(0))
}

type freeFirstMerger struct{}

func (freeFirstMerger) Merge(_ *model.ResourceRequest, authorized, free []resource.Resource) []resource.Resource {
	return append(append([]resource.Resource(nil), free...), authorized...)
}

func TestCustomMerger(t *testing.T) {
	t.Parallel()

	env := newPolicyTestEnv()
	p := NewDefaultPolicy(WithMerger(freeFirstMerger{}))
	req := model.NewResourceRequest(alice, seleniumType, 0, "job", nil)
	ranked := p.Rank(env.groups, req, env.all())
	require.Equal(t, []resource.Resource{env.o1, env.o2, env.r1, env.r2, env.r3}, ranked.Slice())
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NotNil(t, r.PolicyFor(seleniumType))
	_, ok := r.Module(seleniumType)
	require.False(t, ok)

	rr, err := NewPolicyByName(PolicyRoundRobin)
	require.NoError(t, err)
	r.Register(seleniumType, "Selenium Hosts", rr)
	m, ok := r.Module(seleniumType)
	require.True(t, ok)
	require.Equal(t, "Selenium Hosts", m.DisplayName)
	require.Same(t, rr, r.PolicyFor(seleniumType))
	require.Len(t, r.Modules(), 1)

	_, err = NewPolicyByName("random")
	require.Error(t, err)
	require.True(t, errors.ErrUnknownPolicy.Equal(err))
}
