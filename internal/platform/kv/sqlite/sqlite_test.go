package sqlite_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/calrelay/calrelay/internal/platform/kv"
	"github.com/calrelay/calrelay/internal/platform/kv/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), &sqlite.Config{
		DataDir:  t.TempDir(),
		FileName: "test.db",
	})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CRUD(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "next_sync_token", []byte("tok-1"), kv.NoExpiry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "next_sync_token", []byte("tok-2"), kv.NoExpiry); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.Get(ctx, "next_sync_token")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "tok-2" {
		t.Errorf("expected upserted value tok-2, got %q", got)
	}

	deleted, err := s.Delete(ctx, "next_sync_token")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v; want true, nil", deleted, err)
	}
	deleted, err = s.Delete(ctx, "next_sync_token")
	if err != nil || deleted {
		t.Fatalf("second Delete = %v, %v; want false, nil", deleted, err)
	}
	if _, err := s.Get(ctx, "next_sync_token"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Expiry(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if err := s.Set(ctx, "watch-r:1", []byte("{}"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Get(ctx, "watch-r:1"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	now = now.Add(2 * time.Minute)

	if _, err := s.Get(ctx, "watch-r:1"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
	keys, err := s.Keys(ctx, "watch-")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no live keys, got %v", keys)
	}
}

func TestStore_KeysPrefixIsCaseSensitive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, k := range []string{"watch-Res_1:a", "watch-res_1:b", "watch-Res_1:c", "watch-ResX1:d"} {
		if err := s.Set(ctx, k, []byte("x"), time.Hour); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "watch-Res_1:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if want := []string{"watch-Res_1:a", "watch-Res_1:c"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}
}

func TestDriverRegistered(t *testing.T) {
	store, err := kv.NewFromConfig("sqlite", map[string]any{
		"sqlite": map[string]any{"data_dir": t.TempDir()},
	})
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer store.Close()
}
