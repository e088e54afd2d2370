package scheduler

import "github.com/rescloud/rescloud/pkg/resource"

// Candidates is an immutable ranking of resources, most preferred first.
// An empty ranking means there is no capacity for the request right now.
type Candidates struct {
	ranked []resource.Resource
}

// NewCandidates copies ranked into a new Candidates.
func NewCandidates(ranked []resource.Resource) Candidates {
	return Candidates{ranked: append([]resource.Resource(nil), ranked...)}
}

func (c Candidates) Len() int {
	return len(c.ranked)
}

func (c Candidates) At(i int) resource.Resource {
	return c.ranked[i]
}

// IndexOf returns the rank of r, or -1 if r is not a candidate.
func (c Candidates) IndexOf(r resource.Resource) int {
	for i, cand := range c.ranked {
		if cand == r {
			return i
		}
	}
	return -1
}

func (c Candidates) Contains(r resource.Resource) bool {
	return c.IndexOf(r) >= 0
}

// Slice returns a copy of the ranking.
func (c Candidates) Slice() []resource.Resource {
	return append([]resource.Resource(nil), c.ranked...)
}
