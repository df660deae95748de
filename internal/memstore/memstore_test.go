package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ridedispatch/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGeoIndex_NearbyAscendingWithinRadius(t *testing.T) {
	ctx := context.Background()
	idx := NewGeoIndex()
	center := domain.Point{Lat: 40.7128, Lng: -74.0060}

	idx.Update(ctx, domain.EntityDriver, "far", domain.Point{Lat: 40.7589, Lng: -73.9851})   // ~5.4 km
	idx.Update(ctx, domain.EntityDriver, "near", domain.Point{Lat: 40.7138, Lng: -74.0060})  // ~0.1 km
	idx.Update(ctx, domain.EntityDriver, "mid", domain.Point{Lat: 40.7228, Lng: -74.0060})   // ~1.1 km
	idx.Update(ctx, domain.EntityDriver, "outside", domain.Point{Lat: 41.5, Lng: -74.0060})  // ~87 km
	idx.Update(ctx, domain.EntityUser, "user-near", domain.Point{Lat: 40.7129, Lng: -74.0060})

	hits, err := idx.Nearby(ctx, domain.EntityDriver, center, 10, 0)
	if err != nil {
		t.Fatalf("Nearby() error = %v", err)
	}

	want := []string{"near", "mid", "far"}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d: %+v", len(hits), len(want), hits)
	}
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("hits[%d] = %s, want %s", i, hits[i].ID, id)
		}
		if i > 0 && hits[i].DistanceKm < hits[i-1].DistanceKm {
			t.Errorf("hits not ascending at %d", i)
		}
	}

	limited, _ := idx.Nearby(ctx, domain.EntityDriver, center, 10, 2)
	if len(limited) != 2 {
		t.Fatalf("limit not applied: %d hits", len(limited))
	}
}

func TestGeoIndex_Remove(t *testing.T) {
	ctx := context.Background()
	idx := NewGeoIndex()
	p := domain.Point{Lat: 1, Lng: 1}
	idx.Update(ctx, domain.EntityUser, "u1", p)
	idx.Remove(ctx, domain.EntityUser, "u1")

	hits, _ := idx.Nearby(ctx, domain.EntityUser, p, 1, 0)
	if len(hits) != 0 {
		t.Fatalf("expected no hits after Remove, got %+v", hits)
	}
}

func TestAlertStore_TryMarkDebouncesUntilExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewAlertStore(clock.Now)

	ok, _ := store.TryMark(ctx, "ride", "user", clock.Now(), 30*time.Second)
	if !ok {
		t.Fatal("first TryMark should succeed")
	}
	ok, _ = store.TryMark(ctx, "ride", "user", clock.Now(), 30*time.Second)
	if ok {
		t.Fatal("second TryMark inside window should fail")
	}
	if ok, _ := store.TryMark(ctx, "ride", "other-user", clock.Now(), 30*time.Second); !ok {
		t.Fatal("different user should not be debounced")
	}

	clock.Advance(31 * time.Second)
	if got, _ := store.Get(ctx, "ride", "user"); got != nil {
		t.Fatalf("record should have expired, got %v", got)
	}
	if ok, _ := store.TryMark(ctx, "ride", "user", clock.Now(), 30*time.Second); !ok {
		t.Fatal("TryMark after expiry should succeed")
	}
}

func TestAlertStore_GetSetEvict(t *testing.T) {
	ctx := context.Background()
	store := NewAlertStore(nil)
	at := time.Now()

	store.Set(ctx, "r", "u", at, time.Minute)
	got, err := store.Get(ctx, "r", "u")
	if err != nil || got == nil || got.UnixNano() != at.UnixNano() {
		t.Fatalf("Get() = %v, %v; want %v", got, err, at)
	}

	store.Evict(ctx, "r", "u")
	if got, _ := store.Get(ctx, "r", "u"); got != nil {
		t.Fatalf("expected nil after Evict, got %v", got)
	}
}

func TestTTLMap_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := newTTLMap(clock.Now)
	m.Set("a", "1", time.Second)
	m.Set("b", "1", time.Hour)

	clock.Advance(2 * time.Second)
	if removed := m.Sweep(); removed != 1 {
		t.Fatalf("Sweep() removed %d, want 1", removed)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestLockStore_ConcurrentAcquireOneHolder(t *testing.T) {
	ctx := context.Background()
	store := NewLockStore(nil)

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := "ride-" + string(rune('a'+i))
			if ok, _ := store.AcquireDriverLock(ctx, "driver-1", holder, time.Minute); ok {
				atomic.AddInt32(&acquired, 1)
			}
		}(i)
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected 1 holder, got %d", acquired)
	}

	holder, _ := store.DriverLockHolder(ctx, "driver-1")
	if ok, _ := store.AcquireDriverLock(ctx, "driver-1", holder, time.Minute); !ok {
		t.Fatal("re-acquire by the same holder should succeed")
	}

	store.ReleaseDriverLock(ctx, "driver-1")
	if holder, _ := store.DriverLockHolder(ctx, "driver-1"); holder != "" {
		t.Fatalf("holder after release = %q", holder)
	}
}
