package photopath

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// LoadImage resolves an image reference to raw bytes and a MIME type.
// Accepted references: data: URIs, http(s) URLs, file:// URLs and local paths.
func (cfg *Config) LoadImage(ctx context.Context, src string) ([]byte, string, error) {
	cfg.defaults()

	switch {
	case src == "":
		return nil, "", fmt.Errorf("load image: empty source")
	case IsDataURL(src):
		return DecodeDataURL(src)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		r, err := cfg.Download(ctx, src, DownloadOpts{Timeout: cfg.DecodeTimeout})
		if err != nil {
			return nil, "", err
		}
		return r.Data, r.MIMEType, nil
	default:
		path := strings.TrimPrefix(src, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("load image: %w", err)
		}
		return data, http.DetectContentType(data), nil
	}
}

// DecodeImage loads and decodes src, giving up after cfg.DecodeTimeout.
// EXIF orientation is applied so every consumer sees the upright picture.
func (cfg *Config) DecodeImage(ctx context.Context, src string) (image.Image, error) {
	cfg.defaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.DecodeTimeout)
	defer cancel()

	type decoded struct {
		img image.Image
		err error
	}
	done := make(chan decoded, 1)
	go func() {
		data, _, err := cfg.LoadImage(ctx, src)
		if err != nil {
			done <- decoded{err: err}
			return
		}
		img, err := decodeBytes(data)
		done <- decoded{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("decode image: %w", ctx.Err())
	case d := <-done:
		return d.img, d.err
	}
}

func decodeBytes(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
