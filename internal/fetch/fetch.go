// Package fetch retrieves raw tariff payloads with bounded concurrency and
// retry.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

// Fetcher retrieves the raw payload for one identifier. Implementations
// classify failures with Transient or Permanent; unclassified errors are
// retried.
type Fetcher interface {
	Fetch(ctx context.Context, code hscode.Code) (models.RawPayload, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, code hscode.Code) (models.RawPayload, error)

func (f FetcherFunc) Fetch(ctx context.Context, code hscode.Code) (models.RawPayload, error) {
	return f(ctx, code)
}

// Kind is the retry class of a fetch error.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Status int // HTTP status, 0 when not applicable
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return &Error{Kind: KindPermanent, Err: err} }

// IsPermanent reports whether err was classified permanent.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}
