package backend

import (
	"errors"
	"fmt"
)

var (
	ErrClosed      = errors.New("backend closed")
	ErrInvalidRank = errors.New("invalid rank layout")
)

// LoadError reports that a backend could not bring up its model or runtime.
// At process start it is fatal; afterwards it surfaces inside an Error.
type LoadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s backend unavailable: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("load %s backend from %s: %v", e.Kind, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Error is a recoverable failure of a single call.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func newLoadError(kind Kind, path string, err error) error {
	return &LoadError{Kind: kind, Path: path, Err: err}
}
