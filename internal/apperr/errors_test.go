package apperr

import (
	"errors"
	"io"
	"testing"
)

func TestConflictErrorIs(t *testing.T) {
	var err error = &ConflictError{ID: "a", ExpectedRevision: "1-x", CurrentRevision: "2-y"}
	if !errors.Is(err, ErrConflict) {
		t.Fatal("ConflictError should match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("ConflictError should not match ErrNotFound")
	}
}

func TestTransportWrapsOnlyUnclassified(t *testing.T) {
	if Transport("get", nil) != nil {
		t.Fatal("nil should stay nil")
	}
	if err := Transport("get", ErrNotFound); err != ErrNotFound {
		t.Errorf("not found was rewrapped: %v", err)
	}
	err := Transport("get", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestWindowLoadError(t *testing.T) {
	err := &WindowLoadError{ID: "c1", Err: io.EOF}
	if !errors.Is(err, ErrWindowLoad) || !errors.Is(err, io.EOF) {
		t.Errorf("unexpected chain: %v", err)
	}
}

func TestCorruptError(t *testing.T) {
	err := &CorruptError{ID: "c1", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, ErrCorrupt) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("unexpected chain: %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Error("corrupt record classified as transport failure")
	}
}
