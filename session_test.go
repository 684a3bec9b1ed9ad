package photopath

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockAnalyzer returns result, or blocks on release when it is set.
type mockAnalyzer struct {
	mu      sync.Mutex
	calls   int
	last    AnalysisContext
	result  *AnalysisResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (m *mockAnalyzer) Analyze(ctx context.Context, _ ImageInput, actx AnalysisContext) (*AnalysisResult, error) {
	m.mu.Lock()
	m.calls++
	m.last = actx
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	return &res, nil
}

type mockUploader struct {
	url string
	err error
}

func (m *mockUploader) Upload(context.Context, []byte, string) (*UploadResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &UploadResult{URL: m.url, Width: 64, Height: 64}, nil
}

func testResult() *AnalysisResult {
	return &AnalysisResult{
		Scores: Scores{Composition: 7.2, Light: 6.8, Color: 7.5, Technical: 6.0, Expression: 8.1, Overall: 12},
		Analysis: Analysis{
			Diagnosis:       "Balanced frame.",
			Improvement:     "Lower the horizon.",
			SuggestedTitles: []string{"  ", "Quiet Pier"},
			SuggestedTags:   []string{"pier", "dusk"},
		},
	}
}

func newTestSession(t *testing.T, an Analyzer, up Uploader) (*Session, *Config) {
	t.Helper()
	cfg := &Config{
		Analyzer: an,
		Uploader: up,
		Journal:  NewMemoryJournal(),
		Now:      fixedClock(t, "2024-03-15T10:00:00Z"),
		Location: time.UTC,
	}
	return NewSession(cfg, nil), cfg
}

func TestSession_LoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, &mockAnalyzer{result: testResult()}, nil)
	ctx := context.Background()
	for name, data := range map[string][]byte{
		"empty":    nil,
		"text":     []byte("hello, this is plain text and not a photo"),
		"oversize": append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, MaxUploadBytes)...),
	} {
		if _, err := s.Load(ctx, data); !errors.Is(err, ErrInvalidImage) {
			t.Errorf("%s: err = %v, want ErrInvalidImage", name, err)
		}
	}
	if s.Current() != nil {
		t.Error("invalid upload became current")
	}
}

func TestSession_LocalOnlyFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	data := pngBytes(t, blockImage(64, 0))

	s, _ := newTestSession(t, &mockAnalyzer{result: testResult()}, &mockUploader{err: errors.New("boom")})
	up, err := s.Load(ctx, data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !up.LocalOnly || !strings.HasPrefix(up.Source, "data:image/png;base64,") {
		t.Errorf("upload = %+v, want local data URL", up)
	}
	if up.Fingerprint == "" {
		t.Error("fingerprint missing")
	}

	s, _ = newTestSession(t, &mockAnalyzer{result: testResult()}, &mockUploader{url: "https://cdn.example.com/a.png"})
	up, err = s.Load(ctx, data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if up.LocalOnly || up.Source != "https://cdn.example.com/a.png" {
		t.Errorf("upload = %+v, want hosted URL", up)
	}
}

func TestSession_AnalyzeChargesOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	an := &mockAnalyzer{result: testResult()}
	s, _ := newTestSession(t, an, nil)

	if _, err := s.Analyze(ctx, Anonymous, ""); !errors.Is(err, ErrNoImage) {
		t.Errorf("Analyze without image: err = %v, want ErrNoImage", err)
	}

	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := s.Analyze(ctx, Anonymous, "  shot at dusk  ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Scores.Overall != 10 {
		t.Errorf("Overall = %v, want clamped 10", res.Scores.Overall)
	}
	if an.last.CreatorNote != "shot at dusk" {
		t.Errorf("CreatorNote = %q", an.last.CreatorNote)
	}
	if got := s.Quota().GetUsage(ctx, Anonymous).Count; got != 1 {
		t.Errorf("usage = %d, want 1", got)
	}
	if s.Analyzing() {
		t.Error("still analyzing after return")
	}
	if s.Result() == nil {
		t.Error("result not kept")
	}
}

func TestSession_DuplicateWarning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSession(t, &mockAnalyzer{result: testResult()}, nil)
	data := pngBytes(t, blockImage(64, 3))

	if _, err := s.Load(ctx, data); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Analyze(ctx, Anonymous, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	up, err := s.Load(ctx, data)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if up.Duplicate == nil {
		t.Fatal("re-upload not flagged as duplicate")
	}
	if up.Duplicate.Title != "Quiet Pier" || up.Duplicate.DateStored != "2024-03-15" {
		t.Errorf("duplicate = %q on %q", up.Duplicate.Title, up.Duplicate.DateStored)
	}

	s.DismissDuplicate()
	if s.Current().Duplicate != nil {
		t.Error("warning not dismissed")
	}

	other, err := s.Load(ctx, pngBytes(t, blockImage(64, 9)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if other.Duplicate != nil {
		t.Error("different image flagged as duplicate")
	}
}

func TestSession_FailureIsFree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSession(t, &mockAnalyzer{err: errors.New("model offline")}, nil)
	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err := s.Analyze(ctx, Anonymous, "")
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if got := s.Quota().GetUsage(ctx, Anonymous).Count; got != 0 {
		t.Errorf("usage = %d, want 0 after failure", got)
	}
	if s.Analyzing() {
		t.Error("in-flight flag left set")
	}
}

func TestSession_NoAnalyzer(t *testing.T) {
	t.Parallel()

	s := NewSession(&Config{}, nil)
	if _, err := s.Analyze(context.Background(), Anonymous, ""); !errors.Is(err, ErrAnalysisFailed) {
		t.Errorf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestSession_InFlightAndSuperseded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	an := &mockAnalyzer{result: testResult(), started: make(chan struct{}, 1), release: make(chan struct{})}
	s, _ := newTestSession(t, an, nil)
	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Analyze(ctx, Anonymous, "")
		errc <- err
	}()
	<-an.started

	if !s.Analyzing() {
		t.Error("Analyzing() = false while pending")
	}
	if _, err := s.Analyze(ctx, Anonymous, ""); !errors.Is(err, ErrAnalysisInFlight) {
		t.Errorf("second Analyze: err = %v, want ErrAnalysisInFlight", err)
	}

	// Replace the image while the first analysis is pending.
	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 5))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	close(an.release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("stale Analyze: err = %v, want ErrSuperseded", err)
	}
	if got := s.Quota().GetUsage(ctx, Anonymous).Count; got != 0 {
		t.Errorf("usage = %d, want 0 for superseded result", got)
	}
	if s.Result() != nil {
		t.Error("stale result attached to new image")
	}
}

func TestSession_QuotaExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	an := &mockAnalyzer{result: testResult()}
	cfg := &Config{Analyzer: an, AnonymousDailyLimit: 1, Now: fixedClock(t, "2024-03-15T10:00:00Z"), Location: time.UTC}
	s := NewSession(cfg, nil)
	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := s.Analyze(ctx, Anonymous, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := s.Analyze(ctx, Anonymous, ""); !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("err = %v, want ErrQuotaExhausted", err)
	}
	if an.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", an.calls)
	}
	if _, err := s.Analyze(ctx, Identity{UserID: "u1"}, ""); err != nil {
		t.Errorf("signed-in user blocked by anonymous quota: %v", err)
	}
}

func TestSession_Save(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, cfg := newTestSession(t, &mockAnalyzer{result: testResult()}, nil)

	if _, err := s.Save(ctx, SaveRequest{}); !errors.Is(err, ErrNoImage) {
		t.Errorf("Save without result: err = %v, want ErrNoImage", err)
	}

	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Analyze(ctx, Anonymous, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	entry, err := s.Save(ctx, SaveRequest{Location: "Lisbon"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if entry.ID == "" || entry.Title != "Quiet Pier" || entry.Location != "Lisbon" {
		t.Errorf("entry = %+v", entry)
	}
	if len(entry.Tags) != 2 || entry.Tags[0] != "pier" {
		t.Errorf("Tags = %v, want suggested tags", entry.Tags)
	}
	if !entry.Date.Equal(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want now without EXIF", entry.Date)
	}
	if s.Current() != nil || s.Result() != nil {
		t.Error("session not reset after save")
	}

	got, err := cfg.Journal.GetEntry(ctx, entry.ID)
	if err != nil || got.Title != "Quiet Pier" {
		t.Errorf("journal entry = %+v, %v", got, err)
	}
}

func TestSession_SaveCustomTitleUpdatesCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSession(t, &mockAnalyzer{result: testResult()}, nil)
	data := pngBytes(t, blockImage(64, 4))

	if _, err := s.Load(ctx, data); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Analyze(ctx, Anonymous, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := s.Save(ctx, SaveRequest{Title: "Harbour Light", Tags: []string{}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	up, err := s.Load(ctx, data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if up.Duplicate == nil || up.Duplicate.Title != "Harbour Light" {
		t.Errorf("duplicate = %+v, want saved title", up.Duplicate)
	}
}

func TestSession_ReportsThinking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var (
		mu     sync.Mutex
		states []ThinkingState
	)
	cfg := &Config{
		Analyzer: &mockAnalyzer{result: testResult()},
		OnThinking: func(st ThinkingState) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	}
	s := NewSession(cfg, nil)
	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Analyze(ctx, Anonymous, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[0].Index != 0 || states[0].Main != ThinkingStages[0].Main {
		t.Errorf("states = %+v, want stage 0 first", states)
	}
}

// gatedStore blocks the first Get after arm until release is closed.
type gatedStore struct {
	*MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) (string, bool, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.MemoryStore.Get(ctx, key)
}

func TestSession_QuotaReadOutsideLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &gatedStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(&Config{Analyzer: &mockAnalyzer{result: testResult()}, Store: store}, nil)
	if _, err := s.Load(ctx, pngBytes(t, blockImage(64, 0))); err != nil {
		t.Fatalf("Load: %v", err)
	}

	store.armed.Store(true)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Analyze(ctx, Anonymous, "")
		errc <- err
	}()
	<-store.entered

	done := make(chan struct{})
	go func() {
		_ = s.Current()
		_ = s.Analyzing()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("session accessors blocked behind the quota read")
	}

	close(store.release)
	if err := <-errc; err != nil {
		t.Errorf("Analyze: %v", err)
	}
}

func TestSession_SaveKeepsOwnDHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSession(t, &mockAnalyzer{result: testResult()}, nil)
	img := blockImage(64, 0)
	if _, err := s.Load(ctx, pngBytes(t, img)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A check of another image finishing late moves the cache's current pointer.
	s.dedup.CheckImage(ctx, EncodeDataURL(pngBytes(t, blockImage(64, 7)), "image/png"))

	if _, err := s.Analyze(ctx, Anonymous, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	entries := s.dedup.Entries(ctx)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if want := differenceHash(img); want == 0 || entries[0].DHash != want {
		t.Errorf("DHash = %x, want %x", entries[0].DHash, want)
	}
}
