package photopath

import (
	"errors"
	"time"
)

var (
	// ErrHashUnavailable means the image could not be fingerprinted; duplicate
	// status is unknown, not negative.
	ErrHashUnavailable = errors.New("photopath: hash unavailable")
	// ErrRenderFailed is returned for any share-card failure. No partial output is produced.
	ErrRenderFailed = errors.New("photopath: render failed")
	// ErrQuotaExhausted is the daily-limit policy state, not a failure.
	ErrQuotaExhausted = errors.New("photopath: daily quota exhausted")
	// ErrAnalysisInFlight rejects a second analysis of the current image while one is pending.
	ErrAnalysisInFlight = errors.New("photopath: analysis already in flight")
	// ErrSuperseded marks a result that belongs to an image the user has since replaced.
	ErrSuperseded = errors.New("photopath: superseded by a newer upload")
	// ErrNoImage means no image (or no result) is loaded in the session.
	ErrNoImage = errors.New("photopath: no image loaded")
	// ErrAnalysisFailed wraps analyzer failures. No quota is charged for them.
	ErrAnalysisFailed = errors.New("photopath: analysis failed")
	// ErrUploadFailed wraps remote upload failures.
	ErrUploadFailed = errors.New("photopath: upload failed")
	// ErrInvalidImage rejects uploads that are empty, too large or not images.
	ErrInvalidImage = errors.New("photopath: invalid image")
	// ErrNotFound is returned by journals for unknown entry IDs.
	ErrNotFound = errors.New("photopath: not found")
)

// Fingerprint is an opaque content token derived from the downscaled
// grayscale pixels of an image. The empty Fingerprint means "unknown".
type Fingerprint string

// Scores is the five-dimension critique on a 0–10 scale plus the overall score.
type Scores struct {
	Composition float64 `json:"composition"`
	Light       float64 `json:"light"`
	Color       float64 `json:"color"`
	Technical   float64 `json:"technical"`
	Expression  float64 `json:"expression"`
	Overall     float64 `json:"overall"`
}

// Dimension is one named score.
type Dimension struct {
	Label string
	Score float64
}

// Dimensions returns the five scored dimensions in display order (overall excluded).
func (s Scores) Dimensions() []Dimension {
	return []Dimension{
		{Label: "Composition", Score: s.Composition},
		{Label: "Light", Score: s.Light},
		{Label: "Color", Score: s.Color},
		{Label: "Technical", Score: s.Technical},
		{Label: "Expression", Score: s.Expression},
	}
}

// Clamp limits every score to the 0–10 range.
func (s Scores) Clamp() Scores {
	return Scores{
		Composition: clampScore(s.Composition),
		Light:       clampScore(s.Light),
		Color:       clampScore(s.Color),
		Technical:   clampScore(s.Technical),
		Expression:  clampScore(s.Expression),
		Overall:     clampScore(s.Overall),
	}
}

func clampScore(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// Analysis is the textual critique returned by the model.
type Analysis struct {
	Diagnosis         string   `json:"diagnosis"`
	Improvement       string   `json:"improvement"`
	StoryNote         string   `json:"storyNote,omitempty"`
	MoodNote          string   `json:"moodNote,omitempty"`
	OverallSuggestion string   `json:"overallSuggestion,omitempty"`
	SuggestedTitles   []string `json:"suggestedTitles,omitempty"`
	SuggestedTags     []string `json:"suggestedTags,omitempty"`
	InstagramCaption  string   `json:"instagramCaption,omitempty"`
	InstagramHashtags []string `json:"instagramHashtags,omitempty"`
}

// AnalysisResult is the output of an Analyzer.
type AnalysisResult struct {
	Scores   Scores   `json:"scores"`
	Analysis Analysis `json:"analysis"`
}

// AnalysisContext is the side information sent along with the image.
type AnalysisContext struct {
	Exif        *Exif  `json:"exif,omitempty"`
	CreatorNote string `json:"creatorNote,omitempty"`
}

// Exif holds the camera parameters shown on cards. Any field may be empty.
type Exif struct {
	Camera       string `json:"camera,omitempty"`
	Lens         string `json:"lens,omitempty"`
	Aperture     string `json:"aperture,omitempty"`
	ShutterSpeed string `json:"shutterSpeed,omitempty"`
	ISO          string `json:"iso,omitempty"`
	FocalLength  string `json:"focalLength,omitempty"`
	CaptureDate  string `json:"captureDate,omitempty"`
}

// IsEmpty reports whether no displayable field is set.
func (e *Exif) IsEmpty() bool {
	return e == nil || (e.Camera == "" && e.Aperture == "" && e.ShutterSpeed == "" && e.ISO == "")
}

// UploadResult describes a hosted image.
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId,omitempty"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// CacheEntry is a previously analyzed image, keyed by fingerprint.
type CacheEntry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Title       string      `json:"title"`
	DateStored  string      `json:"date"`
	Scores      Scores      `json:"scores"`
	Analysis    Analysis    `json:"analysis"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	DHash       uint64      `json:"dhash,omitempty"`
}

// UsageRecord is the per-identity daily analysis counter.
type UsageRecord struct {
	Count int    `json:"count"`
	Date  string `json:"date"`
}

// Identity distinguishes anonymous viewers from signed-in users for quota purposes.
type Identity struct {
	UserID string // empty = anonymous
}

// Anonymous is the identity of a viewer who is not signed in.
var Anonymous = Identity{}

// Authenticated reports whether the identity belongs to a signed-in user.
func (id Identity) Authenticated() bool { return id.UserID != "" }

// Entry is a saved critique in the journal.
type Entry struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	ImageURL string    `json:"imageUrl"`
	Date     time.Time `json:"date"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Exif     *Exif     `json:"exif,omitempty"`
	Scores   Scores    `json:"scores"`
	Analysis Analysis  `json:"analysis"`
}
