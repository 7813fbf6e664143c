// Package apperr defines the error taxonomy shared by the store, the save
// pipeline and the coordinator.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyExists  = errors.New("already exists")
	ErrTransport      = errors.New("transport failure")
	ErrWindowLoad     = errors.New("window load failed")
	ErrDrainCancelled = errors.New("drain cancelled")
	ErrInvalidState   = errors.New("invalid state")
	ErrUnknownCard    = errors.New("unknown card")
	ErrCorrupt        = errors.New("corrupt record")
)

// ConflictError reports a revision mismatch on write.
type ConflictError struct {
	ID               string
	ExpectedRevision string
	CurrentRevision  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s: expected %q, current %q", e.ID, e.ExpectedRevision, e.CurrentRevision)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransportError wraps a failure to reach the underlying storage engine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport wraps err as a TransportError unless it is nil or already
// classified as not-found or conflict.
func Transport(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrTransport) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// CorruptError reports a stored record that exists but cannot be decoded.
type CorruptError struct {
	ID  string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("card %s: corrupt record: %v", e.ID, e.Err)
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// WindowLoadError reports that a card's window or content host never became
// ready. It is fatal for that card only.
type WindowLoadError struct {
	ID  string
	Err error
}

func (e *WindowLoadError) Error() string {
	return fmt.Sprintf("card %s: window load: %v", e.ID, e.Err)
}

func (e *WindowLoadError) Is(target error) bool {
	return target == ErrWindowLoad
}

func (e *WindowLoadError) Unwrap() error {
	return e.Err
}
