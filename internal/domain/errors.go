package domain

import (
	"context"
	"errors"
)

// Session error taxonomy. Callers match with errors.Is; adapters wrap
// these with detail using fmt.Errorf("%w: ...").
var (
	ErrInvalidBroadcast  = errors.New("invalid broadcast id")
	ErrNetwork           = errors.New("network error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrJoin              = errors.New("join rejected")
	ErrAborted           = errors.New("operation aborted")
	ErrTimeout           = errors.New("operation timed out")
	ErrConnectionLost    = errors.New("connection lost")
	ErrNotPublished      = errors.New("track not published")
)

// FromContext maps a context error to ErrAborted or ErrTimeout.
// Any other error is returned unchanged.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return ErrAborted
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	return err
}

// IsAborted reports whether err is a deliberate cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// UserMessage turns a session error into the short text shown to a viewer.
func UserMessage(err error) string {
	switch {
	case err == nil, IsAborted(err):
		return ""
	case errors.Is(err, ErrMalformedResponse):
		return "The live video is not available right now."
	case errors.Is(err, ErrInvalidBroadcast):
		return "This live video does not exist."
	case errors.Is(err, ErrJoin):
		return "Could not join the live video."
	case errors.Is(err, ErrTimeout):
		return "Connecting to the live video took too long."
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the live video was lost."
	case errors.Is(err, ErrNetwork):
		return "Network error, please try again."
	}
	return "Something went wrong."
}
