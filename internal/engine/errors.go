package engine

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every acquisition and generation component.
var (
	// ErrNotFound means a strategy yielded nothing. Expected; cascades to the next strategy.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned by a generation backend on quota exhaustion.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotAuthorized means the credential may not use the requested model.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrUnrecognizedURL is fatal: no strategy can run without a video id.
	ErrUnrecognizedURL = errors.New("unrecognized video url")
)

// UpstreamError is an unexpected failure of a remote call.
type UpstreamError struct {
	Op     string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an *UpstreamError.
func Upstream(op string, status int, err error) error {
	if err == nil {
		err = errors.New("unexpected response")
	}
	return &UpstreamError{Op: op, Status: status, Err: err}
}

// IsNotFound reports whether err is an expected "nothing here" outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
