package exam

import "errors"

// Sentinel errors the HTTP layer maps onto status codes. Wrap with %w so
// callers can errors.Is against them.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConfig     = errors.New("configuration error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrState      = errors.New("invalid state transition")
	ErrDeadline   = errors.New("attempt deadline passed")
)
