package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrCodecInconsistent, "codec sizes disagree").
		WithCause(root).
		WithHTTPStatus(500).
		WithRetryable(false)

	if GetErrorCode(err) != ErrCodecInconsistent {
		t.Fatalf("expected code %s, got %s", ErrCodecInconsistent, GetErrorCode(err))
	}
	if IsRetryable(err) {
		t.Fatalf("expected non-retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCorruptEntry, "bad frame").WithRetryable(true)
	wrapped := fmt.Errorf("get entry: %w", inner)

	if !IsErrorCode(wrapped, ErrCorruptEntry) {
		t.Fatalf("expected wrapped error to carry %s", ErrCorruptEntry)
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("expected wrapped error to be retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
