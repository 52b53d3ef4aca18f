package gateerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorIs_MatchesByKind(t *testing.T) {
	err := New(NotFound, "approval.get", "request abc not found")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrAlreadyDecided) {
		t.Fatal("did not expect match with ErrAlreadyDecided")
	}

	wrapped := fmt.Errorf("poll status: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected wrapped error to match ErrNotFound")
	}
	if got := KindOf(wrapped); got != NotFound {
		t.Fatalf("expected kind %q, got %q", NotFound, got)
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	err := Wrap(UpstreamUnavailable, "channel.publish", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if err.Error() != "channel.publish: unexpected EOF" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("expected empty kind, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %q", got)
	}
}
