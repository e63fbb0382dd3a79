package provider

import "fmt"

// ErrorKind classifies a provider-boundary failure.
type ErrorKind string

const (
	// ErrSpawn means the backend executable is missing or failed to launch.
	ErrSpawn ErrorKind = "spawn"
	// ErrTimeout means the turn exceeded its idle or overall deadline.
	ErrTimeout ErrorKind = "timeout"
	// ErrIO means the backend pipe broke mid-turn.
	ErrIO ErrorKind = "io"
	// ErrNoResponse means the backend exited without producing any output.
	ErrNoResponse ErrorKind = "no_response"
	// ErrQuota means the backend reported an exhausted rate or usage limit.
	ErrQuota ErrorKind = "quota"
	// ErrParse means the backend produced output that could not be decoded.
	ErrParse ErrorKind = "parse"
)

// Error is the typed failure returned by Receive. Provider calls never
// panic; every failure path becomes one of these.
type Error struct {
	Kind    ErrorKind
	Backend string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func newError(kind ErrorKind, backend, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Backend: backend, Message: fmt.Sprintf(format, args...)}
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	pe, ok := err.(*Error)
	return ok && pe.Kind == ErrTimeout
}
