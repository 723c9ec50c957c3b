package services_test

import (
	"context"
	"testing"

	"ocrbatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithBatchID(ctx, "batch-9")
	ctx = services.WithStage(ctx, "poll")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if id, ok := services.BatchIDFromContext(ctx); !ok || id != "batch-9" {
		t.Fatalf("unexpected batch id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "poll" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
}

func TestBlankValuesKeepOuterValue(t *testing.T) {
	ctx := services.WithStage(context.Background(), "submit")
	ctx = services.WithStage(ctx, "")
	ctx = services.WithRunID(ctx, "")
	if stage, _ := services.StageFromContext(ctx); stage != "submit" {
		t.Fatalf("stage = %q, want submit", stage)
	}
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected blank run id to be ignored")
	}
}
