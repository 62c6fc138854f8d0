package core

import "errors"

// ErrBackpressure is returned by TrySend when the outbound queue is full.
var ErrBackpressure = errors.New("backpressure")

// Frame is a raw text payload pushed to a shell connection.
type Frame []byte

// ShellConnection abstracts the messaging transport of a mounted viewer.
// Owned by the adapter; the adapter must Close() it.
type ShellConnection interface {
	TrySend(Frame) error
	Close()
}
