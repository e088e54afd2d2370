package resourcegroup

import (
	"sync"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/resource"
)

// StaticGroup is an AuthorizingGroup with a fixed, ordered list of
// resources. A resource's position is its preference: the first one is
// the most preferred.
type StaticGroup struct {
	resourceType model.ResourceType
	collection   *resource.OrderedCollection

	mu         sync.RWMutex
	limitUsers bool
	authorized []model.User
}

func NewStaticGroup(tp model.ResourceType) *StaticGroup {
	return &StaticGroup{
		resourceType: tp,
		collection:   resource.NewOrderedCollection(),
	}
}

func (g *StaticGroup) ResourceType() model.ResourceType {
	return g.resourceType
}

func (g *StaticGroup) Resources() resource.Collection {
	return g.collection
}

// AddResource appends r to the group. Resources of another type are
// rejected.
func (g *StaticGroup) AddResource(r resource.Resource) bool {
	if r.ResourceType() != g.resourceType {
		return false
	}
	g.collection.Add(r)
	return true
}

func (g *StaticGroup) RemoveResource(r resource.Resource) bool {
	return g.collection.Remove(r)
}

// MoveResource moves r one position towards the front (up) or back.
func (g *StaticGroup) MoveResource(r resource.Resource, up bool) {
	g.collection.Move(r, up)
}

func (g *StaticGroup) IsLimitingUsers() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limitUsers
}

func (g *StaticGroup) SetLimitingUsers(limit bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limitUsers = limit
}

// IsUserAuthorized matches users by name and source.
func (g *StaticGroup) IsUserAuthorized(user model.User) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.limitUsers {
		return true
	}
	for _, u := range g.authorized {
		if u == user {
			return true
		}
	}
	return false
}

func (g *StaticGroup) AddAuthorizedUser(user model.User) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, u := range g.authorized {
		if u == user {
			return
		}
	}
	g.authorized = append(g.authorized, user)
}

func (g *StaticGroup) RemoveAuthorizedUser(user model.User) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, u := range g.authorized {
		if u == user {
			g.authorized = append(g.authorized[:i:i], g.authorized[i+1:]...)
			return
		}
	}
}

// AuthorizedUsers returns the configured users, regardless of whether
// the group is currently limiting access.
func (g *StaticGroup) AuthorizedUsers() []model.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]model.User(nil), g.authorized...)
}
