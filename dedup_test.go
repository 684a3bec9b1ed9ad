package photopath

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func newTestDedup(t *testing.T, store Store) (*DuplicateCache, *Config) {
	t.Helper()
	cfg := &Config{Store: store, Now: fixedClock(t, "2024-03-15T10:00:00Z"), Location: time.UTC}
	return NewDuplicateCache(cfg), cfg
}

var testScores = Scores{Composition: 7.2, Light: 6.8, Color: 7.5, Technical: 6.0, Expression: 8.1, Overall: 7.1}

func TestDuplicateCache_Scenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDedup(t, NewMemoryStore())
	src := EncodeDataURL(pngBytes(t, blockImage(64, 4)), "image/png")

	fp, match := d.CheckImage(ctx, src)
	if fp == "" {
		t.Fatal("CheckImage returned empty fingerprint")
	}
	if match != nil {
		t.Fatalf("first upload matched %+v", match)
	}

	if err := d.SaveResult(ctx, fp, "Golden Street", testScores, Analysis{Diagnosis: "warm"}, "https://example.com/a.jpg"); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Same bytes again, from a fresh session.
	d2 := NewDuplicateCache(d.cfg)
	fp2, match := d2.CheckImage(ctx, src)
	if fp2 != fp {
		t.Errorf("fingerprint changed: %s vs %s", fp2, fp)
	}
	if match == nil {
		t.Fatal("re-upload did not match")
	}
	if match.Title != "Golden Street" || match.DateStored != "2024-03-15" {
		t.Errorf("match = %q %q, want Golden Street 2024-03-15", match.Title, match.DateStored)
	}
	if d2.Warning() == nil {
		t.Error("Warning() = nil after match")
	}

	d2.ClearWarning()
	if d2.Warning() != nil {
		t.Error("ClearWarning did not clear")
	}
	if d2.Current() != fp {
		t.Error("ClearWarning dropped the current fingerprint")
	}
	d2.ClearAll()
	if d2.Current() != "" {
		t.Error("ClearAll kept the current fingerprint")
	}
	if len(d2.Entries(ctx)) != 1 {
		t.Error("ClearAll touched persisted entries")
	}
}

func TestDuplicateCache_Bound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDedup(t, NewMemoryStore())

	for i := 0; i < MaxCacheEntries+1; i++ {
		fp := Fingerprint(fmt.Sprintf("fp-%02d", i))
		if err := d.SaveResult(ctx, fp, fmt.Sprintf("title %d", i), testScores, Analysis{}, ""); err != nil {
			t.Fatalf("SaveResult(%d): %v", i, err)
		}
	}

	entries := d.Entries(ctx)
	if len(entries) != MaxCacheEntries {
		t.Fatalf("len = %d, want %d", len(entries), MaxCacheEntries)
	}
	if d.Lookup(ctx, "fp-00") != nil {
		t.Error("oldest entry was not evicted")
	}
	if entries[0].Fingerprint != "fp-01" || entries[len(entries)-1].Fingerprint != "fp-30" {
		t.Errorf("order = %s..%s, want fp-01..fp-30", entries[0].Fingerprint, entries[len(entries)-1].Fingerprint)
	}
}

func TestDuplicateCache_LookupDoesNotReorder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDedup(t, NewMemoryStore())
	for i := 0; i < MaxCacheEntries; i++ {
		_ = d.SaveResult(ctx, Fingerprint(fmt.Sprintf("fp-%02d", i)), "", testScores, Analysis{}, "")
	}

	// A hit on the oldest entry must not protect it from eviction.
	if d.Lookup(ctx, "fp-00") == nil {
		t.Fatal("fp-00 missing")
	}
	_ = d.SaveResult(ctx, "fp-new", "", testScores, Analysis{}, "")
	if d.Lookup(ctx, "fp-00") != nil {
		t.Error("looked-up entry survived eviction")
	}
}

func TestDuplicateCache_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDedup(t, NewMemoryStore())

	_ = d.SaveResult(ctx, "a", "first", testScores, Analysis{}, "")
	_ = d.SaveResult(ctx, "b", "other", testScores, Analysis{}, "")
	_ = d.SaveResult(ctx, "a", "second", Scores{Overall: 9}, Analysis{}, "")

	entries := d.Entries(ctx)
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	got := d.Lookup(ctx, "a")
	if got == nil || got.Title != "second" || got.Scores.Overall != 9 {
		t.Errorf("Lookup(a) = %+v, want second write", got)
	}
	if entries[1].Fingerprint != "a" {
		t.Errorf("re-saved entry is not newest: %s", entries[1].Fingerprint)
	}
}

func TestDuplicateCache_EmptyFingerprintIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	d, _ := newTestDedup(t, store)

	if err := d.SaveResult(ctx, "", "x", testScores, Analysis{}, ""); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if _, ok, _ := store.Get(ctx, ImageCacheKey); ok {
		t.Error("empty fingerprint was persisted")
	}
}

func TestDuplicateCache_CorruptStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, ImageCacheKey, "{not json")
	d, _ := newTestDedup(t, store)

	if got := d.Entries(ctx); got != nil {
		t.Errorf("corrupt store read as %v, want empty", got)
	}
	if err := d.SaveResult(ctx, "a", "t", testScores, Analysis{}, ""); err != nil {
		t.Fatalf("SaveResult over corrupt store: %v", err)
	}
	raw, _, _ := store.Get(ctx, ImageCacheKey)
	var entries []CacheEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil || len(entries) != 1 {
		t.Errorf("store not repaired: %q", raw)
	}
}

func TestDuplicateCache_StoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDedup(t, failingStore{})
	src := EncodeDataURL(pngBytes(t, blockImage(32, 1)), "image/png")

	fp, match := d.CheckImage(ctx, src)
	if fp == "" || match != nil {
		t.Errorf("CheckImage = %q, %v; want fingerprint and no match", fp, match)
	}
	if err := d.SaveResult(ctx, fp, "t", testScores, Analysis{}, ""); err == nil {
		t.Error("SaveResult should report the write failure")
	}
}

func TestDuplicateCache_HashFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDedup(t, NewMemoryStore())

	fp, match := d.CheckImage(ctx, EncodeDataURL([]byte("garbage"), "image/jpeg"))
	if fp != "" || match != nil {
		t.Errorf("CheckImage = %q, %v; want \"\", nil", fp, match)
	}
	if d.Warning() != nil || d.Current() != "" {
		t.Error("hash failure left state behind")
	}
}

func TestDuplicateCache_NearDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, cfg := newTestDedup(t, NewMemoryStore())
	cfg.NearDuplicateDistance = 12

	orig := blockImage(64, 6)
	fp, _ := d.CheckImage(ctx, EncodeDataURL(pngBytes(t, orig), "image/png"))
	_ = d.SaveResult(ctx, fp, "original", testScores, Analysis{}, "")

	// Brighten one cell by a full quantization bucket.
	edited := blockImage(64, 6)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			edited.Pix[y*edited.Stride+x] += 16
		}
	}
	fp2, match := d.CheckImage(ctx, EncodeDataURL(pngBytes(t, edited), "image/png"))
	if fp2 == fp {
		t.Fatal("edit did not change the fingerprint")
	}
	if match == nil || match.Title != "original" {
		t.Errorf("near duplicate not matched: %+v", match)
	}

	// Strict mode ignores it.
	strict := NewDuplicateCache(&Config{Store: cfg.Store})
	if _, m := strict.CheckImage(ctx, EncodeDataURL(pngBytes(t, edited), "image/png")); m != nil {
		t.Errorf("strict mode matched %+v", m)
	}
}
