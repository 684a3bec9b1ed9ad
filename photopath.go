package photopath

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Storage keys. They are part of the persisted format; changing them orphans
// existing data.
const (
	ImageCacheKey = "photopath_image_cache"
	UsageKey      = "photopath_daily_usage"
	ThumbnailKey  = "photopath_thumbnails"
)

const (
	// DefaultAnonymousDailyLimit is the number of analyses an anonymous viewer gets per day.
	DefaultAnonymousDailyLimit = 5
	// DefaultAuthenticatedDailyLimit is the number of analyses a signed-in user gets per day.
	DefaultAuthenticatedDailyLimit = 20

	// MaxCacheEntries bounds both the duplicate cache and the thumbnail cache.
	MaxCacheEntries = 30

	defaultDecodeTimeout  = 10 * time.Second
	defaultAnalyzeTimeout = 90 * time.Second
	defaultUploadTimeout  = 30 * time.Second
)

// ImageInput represents an image handed to a multimodal model.
type ImageInput struct {
	URL      string // data: URI or HTTP URL
	MIMEType string // e.g. "image/jpeg"
}

// Store abstracts the small key-value store the caches and quota live in
// (browser-style local storage, a file, Redis, SQLite).
// Get returns ok=false when the key does not exist.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Analyzer abstracts the remote vision-language critique call.
type Analyzer interface {
	Analyze(ctx context.Context, img ImageInput, actx AnalysisContext) (*AnalysisResult, error)
}

// Uploader abstracts remote image hosting.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mimeType string) (*UploadResult, error)
}

// Journal abstracts persistence of saved critiques.
type Journal interface {
	SaveEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, limit int) ([]Entry, error)
	GetEntry(ctx context.Context, id string) (*Entry, error)
}

// Config holds all dependencies injected by the consumer.
type Config struct {
	Store        Store        // durable store (nil = in-memory)
	SessionStore Store        // session-scoped store for thumbnails (nil = in-memory)
	Analyzer     Analyzer     // required for Session.Analyze
	Uploader     Uploader     // optional: nil = local-only mode
	Journal      Journal      // optional: nil = saves only reach the duplicate cache
	HTTPClient   *http.Client // default: http.DefaultClient
	UserAgent    string       // default: "Mozilla/5.0 (compatible; go-photopath/1.0)"

	// Location is the viewer's time zone for calendar-day rollover (default: time.Local).
	Location *time.Location
	// Now overrides the clock (tests).
	Now func() time.Time

	AnonymousDailyLimit     int // default: DefaultAnonymousDailyLimit (5)
	AuthenticatedDailyLimit int // default: DefaultAuthenticatedDailyLimit (20)

	// NearDuplicateDistance enables fuzzy duplicate matching: a stored entry
	// whose dHash is within this Hamming distance counts as a match.
	// Zero keeps strict fingerprint equality.
	NearDuplicateDistance int

	DecodeTimeout  time.Duration // default: 10s
	AnalyzeTimeout time.Duration // default: 90s
	UploadTimeout  time.Duration // default: 30s

	// ShareCard customizes the renderer. Zero value renders with the embedded Go fonts.
	ShareCard ShareCardOptions

	// OnThinking receives progress stages while an analysis is in flight.
	OnThinking func(ThinkingState)

	// rmw serializes read-modify-write cycles on Store and SessionStore
	// within this process. Writers in other processes are last-write-wins.
	rmw sync.Mutex
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.Store == nil {
		c.Store = NewMemoryStore()
	}
	if c.SessionStore == nil {
		c.SessionStore = NewMemoryStore()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; go-photopath/1.0)"
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.AnonymousDailyLimit <= 0 {
		c.AnonymousDailyLimit = DefaultAnonymousDailyLimit
	}
	if c.AuthenticatedDailyLimit <= 0 {
		c.AuthenticatedDailyLimit = DefaultAuthenticatedDailyLimit
	}
	if c.DecodeTimeout <= 0 {
		c.DecodeTimeout = defaultDecodeTimeout
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = defaultUploadTimeout
	}
}

// now returns the current time in the viewer's location.
func (c *Config) now() time.Time {
	return c.Now().In(c.Location)
}

// today returns the viewer's calendar day as YYYY-MM-DD.
func (c *Config) today() string {
	return c.now().Format(time.DateOnly)
}
