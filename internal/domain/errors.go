package domain

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrorKind classifies failures surfaced to the user.
type ErrorKind string

const (
	KindSourceUnreadable ErrorKind = "source_unreadable"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindCaptureFailed    ErrorKind = "capture_failed"
	KindResultMissing    ErrorKind = "result_missing"
	KindSaveFailed       ErrorKind = "save_failed"
)

// ErrModelUnavailable is returned when work is requested before a model is loaded.
var ErrModelUnavailable = &Error{Kind: KindModelUnavailable, Message: "no detection model loaded"}

// Error is a kind-tagged failure carrying the offending path.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// NewError builds a kind-tagged error.
func NewError(kind ErrorKind, path, message string, err error) *Error {
	return &Error{Kind: kind, Path: path, Message: message, Err: err}
}

// Error formats the failure with the file name when one is known.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, filepath.Base(e.Path))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf returns the error kind or an empty string for untagged errors.
func KindOf(err error) ErrorKind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return ""
}

// PathOf returns the offending path carried by err, if any.
func PathOf(err error) string {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Path
	}
	return ""
}
