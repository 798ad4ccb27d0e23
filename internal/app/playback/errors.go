// Package playback defines the commands, events and error taxonomy exchanged
// with the session coordinator.
package playback

import "github.com/cockroachdb/errors"

// Command submission errors.
var (
	ErrShuttingDown = errors.New("coordinator is shutting down")
	ErrQueueFull    = errors.New("command queue is full")
)

// ErrNoItem is returned by players asked to act before anything was loaded.
var ErrNoItem = errors.New("no item loaded")
