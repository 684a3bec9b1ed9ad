package photopath

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MaxUploadBytes is the largest photo a session accepts.
const MaxUploadBytes = defaultMaxBytes

// Upload is the image currently loaded into a session.
type Upload struct {
	Source      string        // hosted URL, or a data: URL in local-only mode
	MIMEType    string        // sniffed from the bytes
	Exif        *Exif         // nil when the file carries no usable EXIF
	Remote      *UploadResult // nil in local-only mode
	Fingerprint Fingerprint   // empty when hashing failed
	Duplicate   *CacheEntry   // previous analysis of the same image, if any
	LocalOnly   bool          // true when remote upload failed or is not configured

	dhash uint64 // near-duplicate hash paired with Fingerprint
}

// SaveRequest is what the viewer chose before saving a critique.
type SaveRequest struct {
	Title    string   // default: first suggested title, then "Untitled"
	Tags     []string // default: suggested tags
	Location string
	Notes    string
}

// Session drives one viewer's upload → analyze → save flow. It holds at most
// one current image. Every Load starts a new generation; work belonging to an
// older generation is discarded with ErrSuperseded and never charges quota.
//
// It is safe for concurrent use.
type Session struct {
	cfg   *Config
	dedup *DuplicateCache
	quota *QuotaTracker

	mu       sync.Mutex
	gen      uint64
	inFlight bool
	upload   *Upload
	result   *AnalysisResult
}

// NewSession returns a session. quota may be shared between sessions; nil
// creates a private tracker.
func NewSession(cfg *Config, quota *QuotaTracker) *Session {
	cfg.defaults()
	if quota == nil {
		quota = NewQuotaTracker(cfg)
	}
	return &Session{cfg: cfg, dedup: NewDuplicateCache(cfg), quota: quota}
}

// Load makes data the current image. EXIF extraction, remote upload and the
// duplicate check run concurrently. A failed upload degrades to a local data
// URL; a failed hash disables duplicate detection for this image only.
func (s *Session) Load(ctx context.Context, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidImage, MaxUploadBytes)
	}
	mime := mediaType(http.DetectContentType(data))
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, mime)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.upload, s.result, s.inFlight = nil, nil, false
	s.mu.Unlock()
	s.dedup.ClearAll()

	local := EncodeDataURL(data, mime)
	up := &Upload{Source: local, MIMEType: mime, LocalOnly: true}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		up.Exif = ExtractExif(data)
		return nil
	})
	g.Go(func() error {
		res, err := s.uploadRemote(gctx, data, mime)
		if err != nil {
			slog.Warn("photopath: upload failed, using local mode", "error", err.Error())
			return nil
		}
		if res != nil {
			up.Remote = res
		}
		return nil
	})
	g.Go(func() error {
		// Hash the local bytes; the hosted copy may be recompressed.
		up.Fingerprint, up.dhash, up.Duplicate = s.dedup.check(gctx, local)
		return nil
	})
	_ = g.Wait()

	if up.Remote != nil && up.Remote.URL != "" {
		up.Source, up.LocalOnly = up.Remote.URL, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrSuperseded
	}
	s.upload = up
	return up, nil
}

// uploadRemote returns (nil, nil) when no uploader is configured.
func (s *Session) uploadRemote(ctx context.Context, data []byte, mime string) (*UploadResult, error) {
	if s.cfg.Uploader == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()
	return s.cfg.Uploader.Upload(ctx, data, mime)
}

// Analyze critiques the current image for id. Quota is checked before the
// call and charged exactly once, only after a successful result for the image
// that is still current. Failures and superseded results cost nothing.
func (s *Session) Analyze(ctx context.Context, id Identity, note string) (*AnalysisResult, error) {
	if s.cfg.Analyzer == nil {
		return nil, fmt.Errorf("%w: no analyzer configured", ErrAnalysisFailed)
	}

	s.mu.Lock()
	err := s.readyLocked()
	gen := s.gen
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// The quota read may hit the network; keep it outside the session lock.
	if s.quota.Exhausted(ctx, id) {
		return nil, ErrQuotaExhausted
	}

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.gen != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.inFlight = true
	up := s.upload
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.inFlight = false
		}
		s.mu.Unlock()
	}()

	res, err := s.analyze(ctx, up, note)
	if err != nil {
		return nil, err
	}
	res.Scores = res.Scores.Clamp()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		slog.Debug("photopath: dropping result for replaced image")
		return nil, ErrSuperseded
	}
	s.result = res
	s.mu.Unlock()

	// The result is already paid for; finish bookkeeping even if the caller is gone.
	bg := context.WithoutCancel(ctx)
	usage := s.quota.IncrementUsage(bg, id)
	slog.Debug("photopath: analysis complete", "overall", res.Scores.Overall, "used", usage.Count)

	if err := s.dedup.save(bg, up.Fingerprint, up.dhash, firstOr(res.Analysis.SuggestedTitles, "Untitled"), res.Scores, res.Analysis, up.Source); err != nil {
		slog.Warn("photopath: image cache not updated", "error", err.Error())
	}
	return res, nil
}

// readyLocked reports why the current image cannot be analyzed. Caller holds s.mu.
func (s *Session) readyLocked() error {
	switch {
	case s.upload == nil:
		return ErrNoImage
	case s.inFlight:
		return ErrAnalysisInFlight
	}
	return nil
}

func (s *Session) analyze(ctx context.Context, up *Upload, note string) (*AnalysisResult, error) {
	stop := startThinking(ctx, thinkingInterval, s.cfg.OnThinking)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AnalyzeTimeout)
	defer cancel()

	res, err := s.cfg.Analyzer.Analyze(ctx,
		ImageInput{URL: up.Source, MIMEType: up.MIMEType},
		AnalysisContext{Exif: up.Exif, CreatorNote: strings.TrimSpace(note)},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", ErrAnalysisFailed)
	}
	return res, nil
}

// Save records the current critique in the duplicate cache and, when
// configured, the journal. The session is reset afterwards.
func (s *Session) Save(ctx context.Context, req SaveRequest) (*Entry, error) {
	s.mu.Lock()
	up, res := s.upload, s.result
	s.mu.Unlock()
	if up == nil || res == nil {
		return nil, ErrNoImage
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = firstOr(res.Analysis.SuggestedTitles, "Untitled")
	}
	tags := req.Tags
	if tags == nil {
		tags = res.Analysis.SuggestedTags
	}

	entry := &Entry{
		ID:       uuid.NewString(),
		Title:    title,
		ImageURL: up.Source,
		Date:     s.entryDate(up.Exif),
		Location: req.Location,
		Notes:    req.Notes,
		Tags:     tags,
		Exif:     up.Exif,
		Scores:   res.Scores,
		Analysis: res.Analysis,
	}

	if err := s.dedup.save(ctx, up.Fingerprint, up.dhash, title, res.Scores, res.Analysis, up.Source); err != nil {
		slog.Warn("photopath: image cache not updated", "error", err.Error())
	}
	if s.cfg.Journal != nil {
		if err := s.cfg.Journal.SaveEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("save entry: %w", err)
		}
	}

	s.Reset()
	return entry, nil
}

// entryDate prefers the capture date over today.
func (s *Session) entryDate(e *Exif) time.Time {
	if e != nil && e.CaptureDate != "" {
		if t, err := time.ParseInLocation(time.DateOnly, e.CaptureDate, s.cfg.Location); err == nil {
			return t
		}
	}
	return s.cfg.now()
}

// Reset drops the current image and result. In-flight work is superseded.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	s.upload, s.result, s.inFlight = nil, nil, false
	s.mu.Unlock()
	s.dedup.ClearAll()
}

// Current returns the loaded image, or nil.
func (s *Session) Current() *Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

// Result returns the latest analysis of the current image, or nil.
func (s *Session) Result() *AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Analyzing reports whether an analysis of the current image is pending.
func (s *Session) Analyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// DismissDuplicate hides the duplicate warning for the current image.
func (s *Session) DismissDuplicate() {
	s.dedup.ClearWarning()
	s.mu.Lock()
	if s.upload != nil {
		up := *s.upload
		up.Duplicate = nil
		s.upload = &up
	}
	s.mu.Unlock()
}

// Quota returns the tracker charging this session's analyses.
func (s *Session) Quota() *QuotaTracker { return s.quota }

func firstOr(vals []string, fallback string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}
