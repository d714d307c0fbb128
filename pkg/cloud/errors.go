package cloud

import "github.com/pkg/errors"

// Sentinel errors the reconcilers classify HTTP responses against, per the
// error taxonomy in §7.
var (
	// ErrNotFound is a 404 response — "absent" for optional resources.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden is a 401/403 response — logged and skipped for route
	// table access (other tenants'/peered-access-denied tables are common).
	ErrForbidden = errors.New("access denied")
	// ErrConflict is any 409 response. With the edge-zone fallback enabled,
	// SafePut consumes the InvalidExtendedLocation 409 before callers see it.
	ErrConflict = errors.New("conflict")
)

// RequestError carries the HTTP status code and upstream message of a failed
// GET/PUT, so callers can classify it against the sentinels above with
// errors.Is while still logging the underlying detail.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == 404
	case ErrForbidden:
		return e.Code == 401 || e.Code == 403
	case ErrConflict:
		return e.Code == 409
	}
	return false
}
