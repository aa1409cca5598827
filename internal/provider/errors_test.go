package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestSendErrorRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		class ErrorClass
		want  bool
	}{
		{ClassTransient, true},
		{ClassValidation, false},
		{ClassPolicy, false},
		{ClassRejected, false},
		{ClassDisconnected, false},
	}

	for _, tc := range cases {
		e := NewSendError(tc.class, "x", "boom")
		if e.Retryable() != tc.want {
			t.Fatalf("Retryable() for class %q = %v, want %v", tc.class, e.Retryable(), tc.want)
		}
	}
}

func TestClassOf_WrappedAndPlainErrors(t *testing.T) {
	t.Parallel()

	se := NewSendError(ClassPolicy, "window_expired", "window expired")
	wrapped := fmt.Errorf("send failed: %w", se)

	if got := ClassOf(wrapped); got != ClassPolicy {
		t.Fatalf("expected policy class through wrapping, got %q", got)
	}
	if got := CodeOf(wrapped); got != "window_expired" {
		t.Fatalf("expected window_expired code, got %q", got)
	}

	// Plain errors stay retryable.
	if got := ClassOf(errors.New("connection reset")); got != ClassTransient {
		t.Fatalf("expected transient class for plain error, got %q", got)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassDisconnected},
		{403, ClassDisconnected},
		{408, ClassTransient},
		{429, ClassTransient},
		{500, ClassTransient},
		{503, ClassTransient},
		{400, ClassRejected},
		{422, ClassRejected},
	}

	for _, tc := range cases {
		e := FromHTTPStatus(tc.status, "boom")
		if e.Class != tc.want {
			t.Fatalf("FromHTTPStatus(%d) class = %q, want %q", tc.status, e.Class, tc.want)
		}
	}
}

func TestWrapTransientPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: timeout")
	e := WrapTransient("network", cause)

	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
	if e.Class != ClassTransient {
		t.Fatalf("expected transient class, got %q", e.Class)
	}
}
