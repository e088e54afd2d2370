package errors

import (
	"github.com/pingcap/errors"
)

// Admission errors. A request failing with one of these can never be served
// and is not queued.
var (
	ErrNoVisibleResourceGroup = errors.Normalize(
		"no resource group of type %s is visible to user %s",
		errors.RFCCodeText("RESCLOUD:ErrNoVisibleResourceGroup"),
	)
	ErrUserNotAuthorized = errors.Normalize(
		"user %s is not authorized for resource type %s",
		errors.RFCCodeText("RESCLOUD:ErrUserNotAuthorized"),
	)
	ErrInvalidNiceLevel = errors.Normalize(
		"nice level %d out of range [%d, %d]",
		errors.RFCCodeText("RESCLOUD:ErrInvalidNiceLevel"),
	)
)

// Manager lifecycle errors.
var (
	ErrManagerNotStarted = errors.Normalize(
		"resource manager is not started",
		errors.RFCCodeText("RESCLOUD:ErrManagerNotStarted"),
	)
	ErrManagerAlreadyStarted = errors.Normalize(
		"resource manager is already started",
		errors.RFCCodeText("RESCLOUD:ErrManagerAlreadyStarted"),
	)
)

// Deferred result errors.
var (
	ErrRequestCanceled = errors.Normalize(
		"request %s has been canceled",
		errors.RFCCodeText("RESCLOUD:ErrRequestCanceled"),
	)
	ErrRequestOrphaned = errors.Normalize(
		"request %s has been orphaned",
		errors.RFCCodeText("RESCLOUD:ErrRequestOrphaned"),
	)
	ErrResourceWaitTimeout = errors.Normalize(
		"timed out waiting for a resource for request %s",
		errors.RFCCodeText("RESCLOUD:ErrResourceWaitTimeout"),
	)
)

// Configuration errors.
var (
	ErrConfigDecode = errors.Normalize(
		"failed to decode config file %s",
		errors.RFCCodeText("RESCLOUD:ErrConfigDecode"),
	)
	ErrConfigUnknownItem = errors.Normalize(
		"config file contains unknown items: %s",
		errors.RFCCodeText("RESCLOUD:ErrConfigUnknownItem"),
	)
	ErrConfigInvalid = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("RESCLOUD:ErrConfigInvalid"),
	)
	ErrUnknownResourceType = errors.Normalize(
		"unknown resource type %s",
		errors.RFCCodeText("RESCLOUD:ErrUnknownResourceType"),
	)
	ErrUnknownPolicy = errors.Normalize(
		"unknown selection policy %s",
		errors.RFCCodeText("RESCLOUD:ErrUnknownPolicy"),
	)
)
