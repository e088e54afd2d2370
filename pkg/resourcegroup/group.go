package resourcegroup

import (
	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/resource"
)

// Group groups resources of a single type.
type Group interface {
	ResourceType() model.ResourceType
	Resources() resource.Collection
}

// AuthorizingGroup is a Group that may restrict its resources to an
// enumerated set of users.
type AuthorizingGroup interface {
	Group

	IsLimitingUsers() bool
	// IsUserAuthorized is always true when the group is not limiting users.
	IsUserAuthorized(user model.User) bool
}

// IsLimitingUsers reports whether g restricts access to specific users.
// Plain groups never do.
func IsLimitingUsers(g Group) bool {
	ag, ok := g.(AuthorizingGroup)
	return ok && ag.IsLimitingUsers()
}

// IsVisibleTo reports whether user may receive resources of g.
func IsVisibleTo(g Group, user model.User) bool {
	ag, ok := g.(AuthorizingGroup)
	if !ok || !ag.IsLimitingUsers() {
		return true
	}
	return ag.IsUserAuthorized(user)
}
