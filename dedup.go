package photopath

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// DuplicateCache remembers which images have already been analyzed so the
// viewer can be warned before spending quota on the same photo twice.
//
// Persisted shape: a JSON array of CacheEntry under ImageCacheKey, oldest
// first. At most MaxCacheEntries are kept; the oldest-inserted entries are
// evicted first (lookups never reorder).
//
// It is safe for concurrent use.
type DuplicateCache struct {
	cfg *Config

	mu      sync.Mutex
	current Fingerprint
	dhash   uint64
	warning *CacheEntry
}

// NewDuplicateCache returns a cache backed by cfg.Store.
func NewDuplicateCache(cfg *Config) *DuplicateCache {
	cfg.defaults()
	return &DuplicateCache{cfg: cfg}
}

// CheckImage fingerprints src and looks it up. The fingerprint is returned
// so the caller can later SaveResult against it without rehashing.
// Hashing failures are logged and yield ("", nil): duplicate status unknown.
func (d *DuplicateCache) CheckImage(ctx context.Context, src string) (Fingerprint, *CacheEntry) {
	fp, _, match := d.check(ctx, src)
	return fp, match
}

// check is CheckImage that also returns the dHash, so callers juggling
// several images can save against the right one.
func (d *DuplicateCache) check(ctx context.Context, src string) (Fingerprint, uint64, *CacheEntry) {
	fp, dh, err := d.cfg.fingerprint(ctx, src)
	if err != nil {
		slog.Warn("photopath: duplicate check disabled for image", "error", err.Error())
		d.mu.Lock()
		d.current, d.dhash, d.warning = "", 0, nil
		d.mu.Unlock()
		return "", 0, nil
	}

	match := d.lookup(ctx, fp, dh)

	d.mu.Lock()
	d.current, d.dhash, d.warning = fp, dh, match
	d.mu.Unlock()

	if match != nil {
		slog.Debug("photopath: duplicate image", "title", match.Title, "date", match.DateStored)
	}
	return fp, dh, match
}

// Lookup returns the stored entry for fp, if any, without touching the warning state.
func (d *DuplicateCache) Lookup(ctx context.Context, fp Fingerprint) *CacheEntry {
	if fp == "" {
		return nil
	}
	return d.lookup(ctx, fp, 0)
}

func (d *DuplicateCache) lookup(ctx context.Context, fp Fingerprint, dh uint64) *CacheEntry {
	entries := d.load(ctx)
	for i := range entries {
		if entries[i].Fingerprint == fp {
			return &entries[i]
		}
	}

	if d.cfg.NearDuplicateDistance <= 0 || dh == 0 {
		return nil
	}
	best, bestDist := -1, d.cfg.NearDuplicateDistance+1
	for i := range entries {
		dist := dHashDistance(dh, entries[i].DHash)
		if dist >= 0 && dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return nil
	}
	return &entries[best]
}

// SaveResult records an analyzed image. It is a no-op for the empty
// fingerprint. An existing entry for fp is replaced and moves to the newest
// position; the oldest entries are evicted past MaxCacheEntries.
// The dHash is taken from the last CheckImage when it computed fp.
func (d *DuplicateCache) SaveResult(ctx context.Context, fp Fingerprint, title string, scores Scores, analysis Analysis, imageURL string) error {
	d.mu.Lock()
	current, dh := d.current, d.dhash
	d.mu.Unlock()
	if fp != current {
		dh = 0
	}
	return d.save(ctx, fp, dh, title, scores, analysis, imageURL)
}

func (d *DuplicateCache) save(ctx context.Context, fp Fingerprint, dh uint64, title string, scores Scores, analysis Analysis, imageURL string) error {
	if fp == "" {
		return nil
	}

	entry := CacheEntry{
		Fingerprint: fp,
		Title:       title,
		DateStored:  d.cfg.today(),
		Scores:      scores,
		Analysis:    analysis,
		ImageURL:    imageURL,
		DHash:       dh,
	}

	d.cfg.rmw.Lock()
	defer d.cfg.rmw.Unlock()

	entries := d.load(ctx)
	kept := entries[:0]
	for _, e := range entries {
		if e.Fingerprint != fp {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry)
	if over := len(kept) - MaxCacheEntries; over > 0 {
		kept = kept[over:]
	}

	return d.store(ctx, kept)
}

// Warning returns the entry matched by the last CheckImage, or nil.
func (d *DuplicateCache) Warning() *CacheEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warning
}

// Current returns the fingerprint computed by the last CheckImage.
func (d *DuplicateCache) Current() Fingerprint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// ClearWarning dismisses the duplicate warning.
func (d *DuplicateCache) ClearWarning() {
	d.mu.Lock()
	d.warning = nil
	d.mu.Unlock()
}

// ClearAll dismisses the warning and forgets the current fingerprint.
// Persisted entries are untouched.
func (d *DuplicateCache) ClearAll() {
	d.mu.Lock()
	d.current, d.dhash, d.warning = "", 0, nil
	d.mu.Unlock()
}

// Entries returns the persisted entries, oldest first.
func (d *DuplicateCache) Entries(ctx context.Context) []CacheEntry {
	return d.load(ctx)
}

// load treats a missing, unreadable or corrupt store as empty.
func (d *DuplicateCache) load(ctx context.Context) []CacheEntry {
	raw, ok, err := d.cfg.Store.Get(ctx, ImageCacheKey)
	if err != nil {
		slog.Warn("photopath: image cache unreadable, treating as empty", "error", err.Error())
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var entries []CacheEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("photopath: image cache corrupt, treating as empty", "error", err.Error())
		return nil
	}
	return entries
}

func (d *DuplicateCache) store(ctx context.Context, entries []CacheEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode image cache: %w", err)
	}
	if err := d.cfg.Store.Set(ctx, ImageCacheKey, string(data)); err != nil {
		return fmt.Errorf("persist image cache: %w", err)
	}
	return nil
}
