package service

import (
	"context"

	"swipeskills/internal/docstore"

	"github.com/pkg/errors"
)

// Error taxonomy surfaced to callers. Handlers map these with errors.Is.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrTransient        = errors.New("temporarily unavailable")
)

type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return ErrTransient.Error() + ": " + e.cause.Error()
}

func (e *transientError) Is(target error) bool {
	return target == ErrTransient
}

func (e *transientError) Unwrap() error {
	return e.cause
}

// classify maps store errors onto the taxonomy. Errors already in the
// taxonomy pass through; anything unrecognised is transient.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrTransient):
		return err
	case errors.Is(err, docstore.ErrNotFound):
		return errors.Wrap(ErrNotFound, err.Error())
	case errors.Is(err, docstore.ErrAlreadyExists):
		return errors.Wrap(ErrAlreadyExists, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &transientError{cause: err}
}

func requireActor(actorID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// notFound turns a missing document read into ErrNotFound with what
func notFound(err error, what string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, "%s not found", what)
	}
	return err
}
