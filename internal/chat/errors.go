package chat

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/pkg/errors"
)

// Error taxonomy shared by the router and both transports.
var (
	ErrInvalidParticipants = errors.New("sender and receiver must be present and distinct")
	ErrEmptyMessage        = errors.New("message text is empty")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrWriteFailed         = errors.New("write failed")
	ErrPartialIndexWrite   = errors.New("chat index written for one participant only")
	ErrUnknownEvent        = errors.New("unknown event")
)

// PartialIndexWriteError reports a chat that reached one participant's
// index but not the other's. The chat is not usable until repaired.
type PartialIndexWriteError struct {
	ChatID  string
	Written string // participant whose index holds the chat
	Missing string // participant whose index write failed
	Err     error
}

func (e *PartialIndexWriteError) Error() string {
	return fmt.Sprintf("chat %s indexed for %s but not for %s: %v", e.ChatID, e.Written, e.Missing, e.Err)
}

func (e *PartialIndexWriteError) Unwrap() error { return e.Err }

// Is matches ErrPartialIndexWrite.
func (e *PartialIndexWriteError) Is(target error) bool { return target == ErrPartialIndexWrite }

// StoreError classifies a store failure as ErrStorageUnavailable or
// ErrWriteFailed while keeping the driver error in the chain.
type StoreError struct {
	Kind error
	Op   string
	Err  error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches the classification sentinel.
func (e *StoreError) Is(target error) bool { return target == e.Kind }

// storeErr wraps a store failure. Connectivity problems are always
// ErrStorageUnavailable; other write failures are ErrWriteFailed.
func storeErr(op string, err error, write bool) error {
	kind := ErrStorageUnavailable
	unreachable := errors.Is(err, data.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if write && !unreachable {
		kind = ErrWriteFailed
	}
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// ClientMessage is the text sent back to a client for err. Driver details
// stay in the logs.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParticipants):
		return ErrInvalidParticipants.Error()
	case errors.Is(err, ErrEmptyMessage):
		return ErrEmptyMessage.Error()
	case errors.Is(err, ErrNotAuthenticated):
		return ErrNotAuthenticated.Error()
	case errors.Is(err, ErrPartialIndexWrite):
		return ErrPartialIndexWrite.Error()
	case errors.Is(err, ErrStorageUnavailable):
		return ErrStorageUnavailable.Error()
	case errors.Is(err, ErrWriteFailed):
		return ErrWriteFailed.Error()
	case errors.Is(err, ErrUnknownEvent):
		return ErrUnknownEvent.Error()
	default:
		return "internal error"
	}
}
