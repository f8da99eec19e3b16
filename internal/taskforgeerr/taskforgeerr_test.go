package taskforgeerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfAndIs(t *testing.T) {
	err := New(KindNotFound, "task %s missing", "t1")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", KindOf(err))
	}
	if !Is(err, KindNotFound) {
		t.Fatal("expected Is to match")
	}
	if Is(err, KindAlreadyExists) {
		t.Fatal("expected Is to not match")
	}
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIOError, cause, "writing task %s", "t1")

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be discoverable via errors.Is")
	}
	if KindOf(err) != KindIOError {
		t.Fatal("expected KindIOError")
	}
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("expected KindUnknown for a plain error")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("expected KindUnknown for nil")
	}
}

func TestErrorsIsAcrossWrappedFmt(t *testing.T) {
	base := New(KindVersionConflict, "stale version")
	wrapped := fmt.Errorf("cas failed: %w", base)
	if !Is(wrapped, KindVersionConflict) {
		t.Fatal("expected Kind to propagate through fmt.Errorf wrap")
	}
}
