// Package s3 hosts uploaded photos in an S3-compatible bucket (MinIO, AWS).
package s3

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	_ "golang.org/x/image/webp"

	"github.com/anatolykoptev/go-photopath"
)

// ObjectPutter is the part of *minio.Client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config configures Uploader.
type Config struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string // object key prefix (default: "photos/")
	PublicURL string // base URL objects are served from (default: derived from Endpoint)
}

// Uploader implements photopath.Uploader.
type Uploader struct {
	client    ObjectPutter
	bucket    string
	prefix    string
	publicURL string
}

// New connects to the configured endpoint.
func New(cfg Config) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectPutter, cfg Config) *Uploader {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "photos/"
	}
	public := cfg.PublicURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}
	return &Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		publicURL: strings.TrimRight(public, "/"),
	}
}

// Upload stores data under a random key and returns its public URL.
// Dimensions are read from the image header; undecodable headers leave them zero.
func (u *Uploader) Upload(ctx context.Context, data []byte, mimeType string) (*photopath.UploadResult, error) {
	key := u.prefix + uuid.NewString() + extension(mimeType)

	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("%w: put %s: %w", photopath.ErrUploadFailed, key, err)
	}

	res := &photopath.UploadResult{URL: u.publicURL + "/" + key, PublicID: key}
	if c, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		res.Width, res.Height = c.Width, c.Height
	}
	return res, nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
