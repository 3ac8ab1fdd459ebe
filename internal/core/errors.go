package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStream      = errors.New("stream must be one of stdout, stderr, both")
	ErrNilHandler         = errors.New("log handler must not be nil")
	ErrSubscriberOverflow = errors.New("subscriber fell behind and its buffer overflowed")
)

// InvalidFilterError reports a container filter that cannot be used.
type InvalidFilterError struct {
	Path    string
	Message string
}

func NewInvalidFilterError(path, message string) *InvalidFilterError {
	return &InvalidFilterError{Path: path, Message: message}
}

func (e *InvalidFilterError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid container filter: %s", e.Message)
	}
	return fmt.Sprintf("invalid container filter %q: %s", e.Path, e.Message)
}
