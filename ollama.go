package photopath

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCritiquePrompt asks a vision model for the critique as JSON.
const DefaultCritiquePrompt = `You are an honest, experienced photography mentor.
Critique the attached photo. Score each dimension from 0 to 10 with one decimal:
composition, light, color, technical, expression, and an overall score.

Reply with JSON only, using exactly these keys:
{
  "scores": {"composition": 0, "light": 0, "color": 0, "technical": 0, "expression": 0, "overall": 0},
  "analysis": {
    "diagnosis": "what works and what does not, two or three sentences",
    "improvement": "the single most useful next step",
    "storyNote": "one line about the story the photo tells",
    "moodNote": "one line about its mood",
    "overallSuggestion": "short summary",
    "suggestedTitles": ["three", "short", "titles"],
    "suggestedTags": ["three", "to", "five tags"],
    "instagramCaption": "a caption",
    "instagramHashtags": ["#tags"]
  }
}`

// ImageLoader resolves an image reference to bytes. *Config implements it.
type ImageLoader interface {
	LoadImage(ctx context.Context, src string) ([]byte, string, error)
}

// OllamaConfig configures OllamaAnalyzer.
type OllamaConfig struct {
	BaseURL string        // default: "http://localhost:11434"
	Model   string        // a vision model, default: "llava:13b"
	Prompt  string        // default: DefaultCritiquePrompt
	Timeout time.Duration // HTTP client timeout, default: 120s
	Loader  ImageLoader   // fetches hosted images; default: a zero Config
}

// OllamaAnalyzer critiques photos with a self-hosted vision model through
// Ollama's /api/chat endpoint.
type OllamaAnalyzer struct {
	config     OllamaConfig
	httpClient *http.Client
}

// NewOllamaAnalyzer returns an analyzer for oc, filling defaults.
func NewOllamaAnalyzer(oc OllamaConfig) *OllamaAnalyzer {
	if oc.BaseURL == "" {
		oc.BaseURL = "http://localhost:11434"
	}
	oc.BaseURL = strings.TrimRight(oc.BaseURL, "/")
	if oc.Model == "" {
		oc.Model = "llava:13b"
	}
	if oc.Prompt == "" {
		oc.Prompt = DefaultCritiquePrompt
	}
	if oc.Timeout <= 0 {
		oc.Timeout = 120 * time.Second
	}
	if oc.Loader == nil {
		oc.Loader = &Config{}
	}
	return &OllamaAnalyzer{config: oc, httpClient: &http.Client{Timeout: oc.Timeout}}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // raw base64, no data: prefix
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Analyze implements Analyzer.
func (a *OllamaAnalyzer) Analyze(ctx context.Context, img ImageInput, actx AnalysisContext) (*AnalysisResult, error) {
	data, _, err := a.config.Loader.LoadImage(ctx, img.URL)
	if err != nil {
		return nil, fmt.Errorf("ollama: load image: %w", err)
	}

	reqBody := ollamaRequest{
		Model: a.config.Model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: critiqueMessage(a.config.Prompt, actx),
			Images:  []string{EncodeBase64(data)},
		}},
		Format:  "json",
		Options: &ollamaOptions{Temperature: 0.4},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: call API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("ollama: parse response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama: %s", out.Error)
	}
	return ParseAnalysis(out.Message.Content)
}

// critiqueMessage appends the known camera parameters and the creator's note
// to the prompt.
func critiqueMessage(prompt string, actx AnalysisContext) string {
	var b strings.Builder
	b.WriteString(prompt)
	if e := actx.Exif; !e.IsEmpty() {
		b.WriteString("\n\nCamera parameters:")
		for _, kv := range [][2]string{
			{"Camera", e.Camera}, {"Lens", e.Lens}, {"Aperture", e.Aperture},
			{"Shutter", e.ShutterSpeed}, {"ISO", e.ISO}, {"Focal length", e.FocalLength},
		} {
			if kv[1] != "" {
				fmt.Fprintf(&b, "\n- %s: %s", kv[0], kv[1])
			}
		}
	}
	if actx.CreatorNote != "" {
		b.WriteString("\n\nThe photographer says: ")
		b.WriteString(actx.CreatorNote)
	}
	return b.String()
}

var errNoJSON = errors.New("no JSON object in model output")

// ParseAnalysis extracts the critique JSON from a model reply. Markdown code
// fences and surrounding prose are tolerated. Scores are clamped to 0–10.
func ParseAnalysis(reply string) (*AnalysisResult, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("parse analysis: %w", errNoJSON)
	}

	var res AnalysisResult
	if err := json.Unmarshal([]byte(reply[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	if strings.TrimSpace(res.Analysis.Diagnosis) == "" && res.Scores == (Scores{}) {
		return nil, fmt.Errorf("parse analysis: %w", errNoJSON)
	}
	res.Scores = res.Scores.Clamp()
	return &res, nil
}
