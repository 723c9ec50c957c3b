package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ocrbatch/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrBatch, "submit", "request urls", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrBatch) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"submit", "request urls", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestFailureKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("poll: %w", context.Canceled), "interrupted"},
		{services.Wrap(services.ErrTimeout, "poll", "wait", "", nil), "timeout"},
		{services.Wrap(services.ErrLocked, "pipeline", "lock", "", nil), "locked"},
		{services.Wrap(services.ErrNotFound, "detect", "scan", "", nil), "not_found"},
		{services.Wrap(services.ErrConfiguration, "config", "", "", nil), "configuration"},
		{services.Wrap(services.ErrBatch, "submit", "", "", nil), "batch"},
		{services.Wrap(services.ErrItem, "materialize", "", "", nil), "item"},
		{services.Wrap(services.ErrTransient, "mineru", "", "", nil), "transient"},
		{errors.New("other"), "error"},
	}
	for _, tc := range cases {
		if got := services.FailureKind(tc.err); got != tc.want {
			t.Fatalf("FailureKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
