package photopath

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// maxCloudinaryBytes is the free-tier upload cap.
const maxCloudinaryBytes = 10 * 1024 * 1024

// CloudinaryUploader uploads through an unsigned upload preset.
type CloudinaryUploader struct {
	CloudName    string
	UploadPreset string
	Folder       string       // default: "photopath"
	BaseURL      string       // default: "https://api.cloudinary.com/v1_1"
	HTTPClient   *http.Client // default: http.DefaultClient
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Upload implements Uploader. Files over 10MB and non-image types are
// rejected before any request is made.
func (c *CloudinaryUploader) Upload(ctx context.Context, data []byte, mimeType string) (*UploadResult, error) {
	if len(data) > maxCloudinaryBytes {
		return nil, fmt.Errorf("%w: file is %.1fMB, limit is 10MB", ErrUploadFailed, float64(len(data))/1024/1024)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrUploadFailed, mimeType)
	}

	body, contentType, err := c.form(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: network: %w", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUploadFailed, err)
	}
	var out cloudinaryResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		return nil, cloudinaryStatusError(resp.StatusCode, out.message())
	}
	if out.SecureURL == "" {
		return nil, fmt.Errorf("%w: response has no URL", ErrUploadFailed)
	}
	return &UploadResult{URL: out.SecureURL, PublicID: out.PublicID, Width: out.Width, Height: out.Height}, nil
}

func (r *cloudinaryResponse) message() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return r.Message
}

func cloudinaryStatusError(status int, msg string) error {
	switch {
	case status == http.StatusBadRequest && strings.Contains(msg, "preset"):
		return fmt.Errorf("%w: upload preset misconfigured: %s", ErrUploadFailed, msg)
	case status == http.StatusBadRequest && strings.Contains(msg, "Invalid"):
		return fmt.Errorf("%w: file format not supported: %s", ErrUploadFailed, msg)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: bad request: %s", ErrUploadFailed, msg)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: not authorized", ErrUploadFailed)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", ErrUploadFailed)
	case msg != "":
		return fmt.Errorf("%w: %s", ErrUploadFailed, msg)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUploadFailed, status)
	}
}

func (c *CloudinaryUploader) endpoint() string {
	base := c.BaseURL
	if base == "" {
		base = "https://api.cloudinary.com/v1_1"
	}
	return strings.TrimRight(base, "/") + "/" + c.CloudName + "/image/upload"
}

func (c *CloudinaryUploader) form(data []byte, mimeType string) (io.Reader, string, error) {
	folder := c.Folder
	if folder == "" {
		folder = "photopath"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="photo"`)
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	for k, v := range map[string]string{"upload_preset": c.UploadPreset, "folder": folder} {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
