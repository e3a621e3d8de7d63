// Package apperr holds sentinel errors shared across service boundaries.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrRunInProgress = errors.New("run already in progress")
	ErrUnavailable   = errors.New("store unavailable")
)
