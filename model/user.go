package model

// User identifies a requester. It is only used for authorization lookups
// and for scoping nice levels.
type User struct {
	Name   string `toml:"name" json:"name" yaml:"name"`
	Source string `toml:"source" json:"source" yaml:"source"`
}

func (u User) String() string {
	if u.Source == "" {
		return u.Name
	}
	return u.Name + "@" + u.Source
}
