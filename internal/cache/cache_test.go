package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 10})

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected hit with %q, got %q ok=%v", "v", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 10})
	now := time.Now()

	c.SetAt("k", "v", 100*time.Millisecond, now)

	if got, ok := c.GetAt("k", now.Add(50*time.Millisecond)); !ok || got != "v" {
		t.Fatalf("expected hit before expiry, got ok=%v", ok)
	}

	if _, ok := c.GetAt("k", now.Add(150*time.Millisecond)); ok {
		t.Error("expected miss after expiry")
	}
	if size := c.SizeAt(now.Add(150 * time.Millisecond)); size != 0 {
		t.Errorf("expired entry should be removed from size count, got %d", size)
	}
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxSize: 2})
	now := time.Now()

	c.SetAt("a", 1, time.Minute, now)
	c.SetAt("b", 2, time.Minute, now.Add(time.Millisecond))
	c.SetAt("c", 3, time.Minute, now.Add(2*time.Millisecond))

	if _, ok := c.GetAt("a", now.Add(3*time.Millisecond)); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.GetAt(k, now.Add(3*time.Millisecond)); !ok {
			t.Errorf("entry %q should survive eviction", k)
		}
	}
	if stats := c.Stats(); stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 10})

	c.Set("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
	if stats.Size != 1 {
		t.Errorf("size = %d, want 1", stats.Size)
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxSize: 2})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3)

	if v, ok := c.Get("a"); !ok || v != 3 {
		t.Errorf("overwrite lost: got %d ok=%v", v, ok)
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("overwrite of existing key should not evict others")
	}
}

func TestToolKey_Deterministic(t *testing.T) {
	a := ToolKey("u1", "search", json.RawMessage(`{"query":"go","limit":5}`))
	b := ToolKey("u1", "search", json.RawMessage(`{"limit":5,"query":"go"}`))
	if a != b {
		t.Errorf("parameter order should not change the key: %s vs %s", a, b)
	}

	c := ToolKey("u2", "search", json.RawMessage(`{"query":"go","limit":5}`))
	if a == c {
		t.Error("different users must not share cache keys")
	}

	d := ToolKey("u1", "fetch", json.RawMessage(`{"query":"go","limit":5}`))
	if a == d {
		t.Error("different tools must not share cache keys")
	}
}

func TestResponseCache_TokensSaved(t *testing.T) {
	c := NewResponseCache(Options{TTL: time.Minute, MaxSize: 10})

	response := "this response is forty characters long!!"
	c.Set("k", response)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit")
	}
	if saved := c.TokensSaved(); saved != int64(len(response)/4) {
		t.Errorf("tokens saved = %d, want %d", saved, len(response)/4)
	}

	c.Get("k")
	if saved := c.TokensSaved(); saved != 2*int64(len(response)/4) {
		t.Errorf("tokens saved should accumulate, got %d", saved)
	}
}
