package s3

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go-photopath"
)

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucket, key, r, size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 30))))
	return buf.Bytes()
}

func TestUploader_Upload(t *testing.T) {
	t.Parallel()

	data := testPNG(t)
	m := &mockPutter{}
	m.On("PutObject", mock.Anything, "photos-bucket",
		mock.MatchedBy(func(key string) bool { return strings.HasPrefix(key, "photos/") && strings.HasSuffix(key, ".png") }),
		mock.Anything, int64(len(data)), minio.PutObjectOptions{ContentType: "image/png"},
	).Return(minio.UploadInfo{}, nil).Once()

	u := NewWithClient(m, Config{Endpoint: "minio.local:9000", Bucket: "photos-bucket"})
	res, err := u.Upload(context.Background(), data, "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.URL, "http://minio.local:9000/photos-bucket/photos/"))
	assert.Equal(t, res.URL, "http://minio.local:9000/photos-bucket/"+res.PublicID)
	assert.Equal(t, 40, res.Width)
	assert.Equal(t, 30, res.Height)
	m.AssertExpectations(t)
}

func TestUploader_PublicURLAndPrefix(t *testing.T) {
	t.Parallel()

	m := &mockPutter{}
	m.On("PutObject", mock.Anything, "b", mock.AnythingOfType("string"), mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)

	u := NewWithClient(m, Config{Bucket: "b", Prefix: "critiques/", PublicURL: "https://img.example.com/"})
	res, err := u.Upload(context.Background(), []byte("not decodable"), "image/jpeg")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.URL, "https://img.example.com/critiques/"))
	assert.True(t, strings.HasSuffix(res.URL, ".jpg"))
	assert.Zero(t, res.Width)
}

func TestUploader_PutFails(t *testing.T) {
	t.Parallel()

	m := &mockPutter{}
	m.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("access denied"))

	u := NewWithClient(m, Config{Bucket: "b"})
	_, err := u.Upload(context.Background(), testPNG(t), "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, photopath.ErrUploadFailed)
	assert.Contains(t, err.Error(), "access denied")
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".jpg", extension("image/jpeg"))
	assert.Equal(t, ".webp", extension("image/webp"))
	assert.Equal(t, "", extension("application/x-unknown-thing"))
}

func TestNew(t *testing.T) {
	t.Parallel()

	u, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/b", u.publicURL)
}
