package photopath

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// thumbnailQuality is the JPEG quality of locally generated thumbnails.
const thumbnailQuality = 60

type thumbnailRecord struct {
	ID        string `json:"id"`
	Thumbnail string `json:"thumbnail"`
}

// ThumbnailCache serves small list-view variants of journal images. It is a
// pure latency optimization: on any failure the original source is returned.
type ThumbnailCache struct {
	cfg  *Config
	Size int // longer edge in pixels (default: DefaultThumbnailSize)
}

// NewThumbnailCache returns a cache backed by cfg.SessionStore.
func NewThumbnailCache(cfg *Config) *ThumbnailCache {
	cfg.defaults()
	return &ThumbnailCache{cfg: cfg, Size: DefaultThumbnailSize}
}

// GetThumbnail returns a thumbnail reference for entryID. CDN URLs are
// rewritten to a pre-scaled variant without touching the cache; everything
// else is generated once per session and kept as a JPEG data URL.
func (t *ThumbnailCache) GetThumbnail(ctx context.Context, entryID, src string) string {
	size := t.size()
	if IsCDNURL(src) {
		return ThumbnailURL(src, size, 0)
	}

	if thumb, ok := t.lookup(ctx, entryID); ok {
		return thumb
	}

	thumb, err := t.cfg.GenerateThumbnail(ctx, src, size)
	if err != nil {
		slog.Debug("photopath: thumbnail generation failed, using original", "id", entryID, "error", err.Error())
		return src
	}

	if err := t.store(ctx, entryID, thumb); err != nil {
		slog.Debug("photopath: thumbnail not cached", "id", entryID, "error", err.Error())
	}
	return thumb
}

// GenerateThumbnail decodes src, fits its longer edge to size (smaller images
// are kept as they are) and re-encodes it as a JPEG data URL.
func (cfg *Config) GenerateThumbnail(ctx context.Context, src string, size int) (string, error) {
	img, err := cfg.DecodeImage(ctx, src)
	if err != nil {
		return "", err
	}
	data, err := encodeThumbnail(img, size)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(data, "image/jpeg"), nil
}

func encodeThumbnail(img image.Image, size int) ([]byte, error) {
	small := imaging.Fit(img, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (t *ThumbnailCache) size() int {
	if t.Size <= 0 {
		return DefaultThumbnailSize
	}
	return t.Size
}

func (t *ThumbnailCache) lookup(ctx context.Context, id string) (string, bool) {
	for _, r := range t.load(ctx) {
		if r.ID == id {
			return r.Thumbnail, true
		}
	}
	return "", false
}

func (t *ThumbnailCache) store(ctx context.Context, id, thumb string) error {
	t.cfg.rmw.Lock()
	defer t.cfg.rmw.Unlock()

	records := t.load(ctx)
	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	kept = append(kept, thumbnailRecord{ID: id, Thumbnail: thumb})
	if over := len(kept) - MaxCacheEntries; over > 0 {
		kept = kept[over:]
	}

	data, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	return t.cfg.SessionStore.Set(ctx, ThumbnailKey, string(data))
}

// load treats a missing or corrupt session store as empty.
func (t *ThumbnailCache) load(ctx context.Context) []thumbnailRecord {
	raw, ok, err := t.cfg.SessionStore.Get(ctx, ThumbnailKey)
	if err != nil || !ok || raw == "" {
		return nil
	}
	var records []thumbnailRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil
	}
	return records
}

// Len returns the number of cached thumbnails.
func (t *ThumbnailCache) Len(ctx context.Context) int {
	return len(t.load(ctx))
}
