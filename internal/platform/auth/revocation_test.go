package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryRevocation_RevokeAndCheck(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()

	if err := store.Revoke(ctx, "token-abc-123", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "token-abc-123")
	if err != nil || !revoked {
		t.Errorf("expected token to be revoked, got %v (%v)", revoked, err)
	}
	revoked, _ = store.IsRevoked(ctx, "unknown-jti")
	if revoked {
		t.Error("expected unknown JTI to not be revoked")
	}
}

func TestMemoryRevocation_ExpiredEntriesDropped(t *testing.T) {
	store := NewMemoryRevocationStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Revoke(ctx, "old", now.Add(time.Minute))
	now = now.Add(2 * time.Minute)

	revoked, _ := store.IsRevoked(ctx, "old")
	if revoked {
		t.Error("expected expired revocation to lapse")
	}

	_ = store.Revoke(ctx, "a", now.Add(time.Minute))
	_ = store.Revoke(ctx, "b", now.Add(time.Hour))
	now = now.Add(5 * time.Minute)
	_ = store.Revoke(ctx, "c", now.Add(time.Hour))

	if store.Count() != 2 {
		t.Errorf("expected 2 live entries, got %d", store.Count())
	}
}

func TestMemoryRevocation_Concurrent(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jti := string(rune('a' + i%26))
			_ = store.Revoke(ctx, jti, time.Now().Add(time.Hour))
			_, _ = store.IsRevoked(ctx, jti)
		}(i)
	}
	wg.Wait()

	if store.Count() != 26 {
		t.Errorf("expected 26 entries, got %d", store.Count())
	}
}
