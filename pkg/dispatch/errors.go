package dispatch

import "errors"

// Request level error taxonomy. Callers wrap these with fmt.Errorf("%w")
// and the HTTP edge maps them to status codes with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrUnauthenticated  = errors.New("missing authorization")
	ErrUnverifiable     = errors.New("credential rejected")
	ErrForbidden        = errors.New("uid mismatch")
	ErrValidation       = errors.New("missing text")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrRecordStore      = errors.New("record store failure")
)
