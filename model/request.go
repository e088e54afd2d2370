package model

import "fmt"

const (
	// MinNiceLevel is the highest priority a request can have.
	MinNiceLevel = -19
	// MaxNiceLevel is the lowest priority a request can have.
	MaxNiceLevel = 20
)

// ResourceRequest is an immutable request for one resource of a given type.
type ResourceRequest struct {
	user         User
	resourceType ResourceType
	niceLevel    int
	jobName      string
	attributes   map[string]interface{}
}

// NewResourceRequest creates a ResourceRequest. The attributes are copied.
func NewResourceRequest(
	user User,
	resourceType ResourceType,
	niceLevel int,
	jobName string,
	attributes map[string]interface{},
) *ResourceRequest {
	return &ResourceRequest{
		user:         user,
		resourceType: resourceType,
		niceLevel:    niceLevel,
		jobName:      jobName,
		attributes:   copyAttributes(attributes),
	}
}

func (r *ResourceRequest) User() User {
	return r.user
}

func (r *ResourceRequest) ResourceType() ResourceType {
	return r.resourceType
}

// NiceLevel is only comparable between requests of the same user.
// Lower values are served first.
func (r *ResourceRequest) NiceLevel() int {
	return r.niceLevel
}

func (r *ResourceRequest) JobName() string {
	return r.jobName
}

// Attributes returns a copy of the custom attributes.
func (r *ResourceRequest) Attributes() map[string]interface{} {
	return copyAttributes(r.attributes)
}

// WithNiceLevel returns a copy of the request using the given nice level.
func (r *ResourceRequest) WithNiceLevel(niceLevel int) *ResourceRequest {
	return &ResourceRequest{
		user:         r.user,
		resourceType: r.resourceType,
		niceLevel:    niceLevel,
		jobName:      r.jobName,
		attributes:   r.attributes,
	}
}

func (r *ResourceRequest) String() string {
	return fmt.Sprintf("%s[user=%s, nice=%d, job=%q]", r.resourceType, r.user, r.niceLevel, r.jobName)
}

func copyAttributes(attrs map[string]interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		ret[k] = v
	}
	return ret
}

// RequestState is the scheduling state of a managed request.
type RequestState int32

const (
	// The request is queued and waits for a resource.
	RequestWaiting RequestState = iota
	// A resource has been assigned and accepted by a listener.
	RequestReady
	// The consumer has started working with the resource.
	RequestWorking
	// The resource has been released.
	RequestFinished
	// The request was abandoned or its resource was recovered.
	RequestOrphaned
)

var requestStateNames = map[RequestState]string{
	RequestWaiting:  "WAITING",
	RequestReady:    "READY",
	RequestWorking:  "WORKING",
	RequestFinished: "FINISHED",
	RequestOrphaned: "ORPHANED",
}

func (s RequestState) String() string {
	if name, ok := requestStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RequestState(%d)", int32(s))
}

// IsTerminal returns true for FINISHED and ORPHANED.
func (s RequestState) IsTerminal() bool {
	return s == RequestFinished || s == RequestOrphaned
}
