package sentinel

import "errors"

// Sentinel errors returned by stores. Services translate them into domain
// errors at their boundary.
//
//   - ErrNotFound: the row or key does not exist
//   - ErrConflict: a unique key was already written by someone else
//   - ErrUnavailable: the backing store cannot be reached right now
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
