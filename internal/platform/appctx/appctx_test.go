package appctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithLogger_And_LoggerFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	ctx := WithLogger(context.Background(), logger)

	got, ok := LoggerFromContext(ctx)
	if !ok {
		t.Fatal("Expected LoggerFromContext to return true")
	}
	if got != logger {
		t.Error("Expected same logger instance")
	}
}

func TestLoggerFromContext_NilLogger(t *testing.T) {
	ctx := context.WithValue(context.Background(), loggerKey{}, (*slog.Logger)(nil))

	got, ok := LoggerFromContext(ctx)
	if ok {
		t.Error("Expected LoggerFromContext to return false for nil logger")
	}
	if got != nil {
		t.Error("Expected nil logger")
	}
}

func TestGetLogger_FallsBackToDefault(t *testing.T) {
	if got := GetLogger(context.Background()); got != slog.Default() {
		t.Error("Expected slog.Default() when no logger is attached")
	}
}

func TestWithLogAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = WithLogAttrs(ctx, "resource_id", "res-1")

	GetLogger(ctx).Info("hello")

	if !strings.Contains(buf.String(), "resource_id=res-1") {
		t.Errorf("expected enriched logger output, got %q", buf.String())
	}
}

func TestWithLogAttrs_NoArgs(t *testing.T) {
	ctx := context.Background()
	if WithLogAttrs(ctx) != ctx {
		t.Error("expected unchanged context when no attributes are given")
	}
}
