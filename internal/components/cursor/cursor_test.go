package cursor

import (
	"context"
	"testing"

	"github.com/calrelay/calrelay/internal/platform/kv/memory"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(0)
	defer mem.Close()
	s := New(mem)

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "" {
		t.Errorf("absent cursor should be empty, got %q", got)
	}

	if err := s.Set(ctx, "tok-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "tok-2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := s.Get(ctx); got != "tok-2" {
		t.Errorf("last writer should win, got %q", got)
	}

	raw, err := mem.Get(ctx, Key)
	if err != nil || string(raw) != "tok-2" {
		t.Errorf("expected raw value under %q, got %q (%v)", Key, raw, err)
	}
}

func TestStore_EmptyTokenClears(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(0)
	defer mem.Close()
	s := New(mem)

	s.Set(ctx, "tok-1")
	if err := s.Set(ctx, ""); err != nil {
		t.Fatalf("Set(\"\") error = %v", err)
	}
	if got, _ := s.Get(ctx); got != "" {
		t.Errorf("expected cleared cursor, got %q", got)
	}
}

func TestStore_ResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(0)
	defer mem.Close()
	s := New(mem)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() on empty store error = %v", err)
	}
}
