package stream

import "errors"

var (
	// ErrConfig reports an out-of-range session parameter.
	ErrConfig = errors.New("stream: invalid configuration")
	// ErrSequence reports an operation that is not valid in the session's
	// current state, such as feeding after finish.
	ErrSequence = errors.New("stream: operation not valid in current state")
	// ErrResource reports that a session could not be created.
	ErrResource = errors.New("stream: resource unavailable")
	// ErrOverrun is a warning: fed audio was discarded because the ring was
	// full. The session keeps running.
	ErrOverrun = errors.New("stream: audio overrun")
	// ErrFreed is returned by every operation after Close.
	ErrFreed = errors.New("stream: session freed")
)
