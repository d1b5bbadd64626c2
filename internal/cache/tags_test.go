package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestTagRegistry_DefaultVersion(t *testing.T) {
	ctx := context.Background()
	reg := NewTagRegistry(NewMemoryStore(), nil, nil)

	if v := reg.Version(ctx, "trips"); v != 1 {
		t.Errorf("Version(unset) = %d, want 1", v)
	}
}

func TestTagRegistry_BumpChangesVersionedKey(t *testing.T) {
	ctx := context.Background()
	reg := NewTagRegistry(NewMemoryStore(), nil, nil)

	before := reg.VersionedKey(ctx, "trips", "search:abc")
	if !strings.HasPrefix(before, "trips:v1:") {
		t.Fatalf("VersionedKey = %q, want trips:v1: prefix", before)
	}

	v, err := reg.Bump(ctx, "trips")
	if err != nil {
		t.Fatalf("Bump() error = %v", err)
	}
	if v != 2 {
		t.Errorf("first Bump() = %d, want 2", v)
	}

	after := reg.VersionedKey(ctx, "trips", "search:abc")
	if after == before {
		t.Errorf("VersionedKey unchanged after bump: %q", after)
	}
}

func TestTagRegistry_ConcurrentBumps(t *testing.T) {
	ctx := context.Background()
	reg := NewTagRegistry(NewMemoryStore(), nil, nil)

	const bumps = 50
	var wg sync.WaitGroup
	for i := 0; i < bumps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Bump(ctx, "itineraries"); err != nil {
				t.Errorf("Bump() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if v := reg.Version(ctx, "itineraries"); v != bumps+1 {
		t.Errorf("Version after %d bumps = %d, want %d", bumps, v, bumps+1)
	}
}

func TestTagRegistry_BumpTags(t *testing.T) {
	ctx := context.Background()
	reg := NewTagRegistry(NewMemoryStore(), nil, nil)

	versions, err := reg.BumpTags(ctx, []string{"trips", "itineraries"})
	if err != nil {
		t.Fatalf("BumpTags() error = %v", err)
	}
	if versions["trips"] != 2 || versions["itineraries"] != 2 {
		t.Errorf("BumpTags() = %v, want both at 2", versions)
	}
}

func TestTagRegistry_StoreOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := NewTagRegistry(store, nil, nil)

	if _, err := reg.Bump(ctx, "trips"); err != nil {
		t.Fatalf("Bump() error = %v", err)
	}

	store.Unavailable = true
	if v := reg.Version(ctx, "trips"); v != 1 {
		t.Errorf("Version during outage = %d, want fail-open 1", v)
	}
	if _, err := reg.Bump(ctx, "trips"); err == nil {
		t.Error("Bump during outage should surface an error")
	}
}
