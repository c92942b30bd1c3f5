package mcap

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerClosed is returned by any call made after Finish.
	ErrContainerClosed = errors.New("container is closed")
	// ErrNotStarted is returned when records are written before Start.
	ErrNotStarted = errors.New("container not started")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("container already started")
)

// UnknownSchemaError is returned when a channel names a schema id that was
// never registered.
type UnknownSchemaError struct {
	SchemaID uint16
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("unknown schema id %d", e.SchemaID)
}

// UnknownChannelError is returned when a message targets an unregistered
// channel id.
type UnknownChannelError struct {
	ChannelID uint16
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel id %d", e.ChannelID)
}

// IncompleteWriteError means the footer may not have reached durable
// storage.
type IncompleteWriteError struct {
	Path string
	Err  error
}

func (e *IncompleteWriteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("incomplete write: %v", e.Err)
	}
	return fmt.Sprintf("incomplete write to %s: %v", e.Path, e.Err)
}

func (e *IncompleteWriteError) Unwrap() error { return e.Err }

// FormatError reports a structural problem found while scanning.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return "malformed container: " + e.Reason
	}
	return fmt.Sprintf("malformed container: %s: %v", e.Reason, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
