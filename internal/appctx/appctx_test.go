package appctx

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func TestLogger_RoundTrip(t *testing.T) {
	l := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := WithLogger(context.Background(), l)

	if got := Logger(ctx); got != l {
		t.Error("expected logger from context")
	}
}

func TestLogger_FallsBackToDefault(t *testing.T) {
	if got := Logger(context.Background()); got == nil {
		t.Error("expected default logger, got nil")
	}
}
