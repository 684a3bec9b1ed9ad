package photopath

import (
	"fmt"
	"image"
	"strings"
)

// Card geometry, in pixels.
const (
	DefaultCardWidth = 800

	cardPadding       = 40
	headerHeight      = 80
	photoMarginTop    = 24
	titleMarginTop    = 28
	titleLineHeight   = 44
	tagRowHeight      = 40
	tagChipHeight     = 28
	blockMarginBottom = 20
	exifLineHeight    = 48
	scoreBlockTop     = 24
	scoreRowHeight    = 40
	overallRowHeight  = 80
	scoreBlockBottom  = 16
	scoreLabelWidth   = 160
	scoreValueWidth   = 64
	trackHeight       = 10
	sectionLabelH     = 32
	bodyLineHeight    = 32
	sectionGap        = 24
	calloutPadding    = 20
	footerHeight      = 64

	maxCardTags = 3
)

// scoreBlockHeight is fixed: five bars plus the overall row.
const scoreBlockHeight = scoreBlockTop + 5*scoreRowHeight + overallRowHeight + scoreBlockBottom

// ScoreBar is one laid-out dimension bar.
type ScoreBar struct {
	Label      string
	Score      float64
	Value      string // one decimal place
	Track      image.Rectangle
	TrackWidth float64
	FillWidth  float64 // TrackWidth * Score/10
}

// TextBlock is a wrapped paragraph and where it starts.
type TextBlock struct {
	Label string
	Lines []string
	Top   int // top of the label line
}

// CardLayout is the fully resolved geometry of a share card. It is computed
// before the canvas is allocated so the canvas never has to grow.
type CardLayout struct {
	Width, Height int

	Photo image.Rectangle

	TitleTop   int
	TitleLines []string
	Tags       []string
	TagsTop    int

	ExifTop  int // -1 when there is no EXIF line
	ExifLine string

	ScoresTop  int
	Bars       []ScoreBar
	OverallTop int
	Overall    string

	Diagnosis   TextBlock
	Callout     image.Rectangle
	Improvement TextBlock
	Story       *TextBlock
	Mood        *TextBlock

	FooterTop int
}

// LineCount returns the number of wrapped text lines on the card.
func (l *CardLayout) LineCount() int {
	n := len(l.TitleLines) + len(l.Diagnosis.Lines) + len(l.Improvement.Lines)
	if l.Story != nil {
		n += len(l.Story.Lines)
	}
	if l.Mood != nil {
		n += len(l.Mood.Lines)
	}
	return n
}

// layoutShareCard resolves every element's position top to bottom and sums
// the section heights into the canvas height.
func layoutShareCard(m *ShareCardModel, f *cardFaces, width int) *CardLayout {
	contentW := width - 2*cardPadding
	l := &CardLayout{Width: width, ExifTop: -1}
	y := headerHeight

	// Photo, 4:3.
	y += photoMarginTop
	photoH := contentW * 3 / 4
	l.Photo = image.Rect(cardPadding, y, cardPadding+contentW, y+photoH)
	y += photoH

	// Title and tags.
	y += titleMarginTop
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = "Untitled"
	}
	l.TitleTop = y
	l.TitleLines = WrapText(faceMeasurer{f.title}, title, float64(contentW))
	y += len(l.TitleLines) * titleLineHeight
	l.Tags = cardTags(m.Tags)
	if len(l.Tags) > 0 {
		l.TagsTop = y
		y += tagRowHeight
	}
	y += blockMarginBottom

	// EXIF.
	if !m.Exif.IsEmpty() {
		l.ExifTop = y
		l.ExifLine = exifLine(m.Exif)
		y += exifLineHeight
	}

	// Scores.
	l.ScoresTop = y
	trackX := cardPadding + scoreLabelWidth
	trackW := contentW - scoreLabelWidth - scoreValueWidth
	rowY := y + scoreBlockTop
	for _, d := range m.Scores.Dimensions() {
		score := clampScore(d.Score)
		trackTop := rowY + (scoreRowHeight-trackHeight)/2
		l.Bars = append(l.Bars, ScoreBar{
			Label:      d.Label,
			Score:      score,
			Value:      formatScore(score),
			Track:      image.Rect(trackX, trackTop, trackX+trackW, trackTop+trackHeight),
			TrackWidth: float64(trackW),
			FillWidth:  float64(trackW) * score / 10,
		})
		rowY += scoreRowHeight
	}
	l.OverallTop = rowY
	l.Overall = formatScore(clampScore(m.Scores.Overall))
	y += scoreBlockHeight

	// Diagnosis.
	y += sectionGap
	l.Diagnosis = TextBlock{Label: "DIAGNOSIS", Top: y, Lines: WrapText(faceMeasurer{f.body}, strings.TrimSpace(m.Analysis.Diagnosis), float64(contentW))}
	y += sectionLabelH + len(l.Diagnosis.Lines)*bodyLineHeight

	// Improvement callout.
	y += sectionGap
	innerW := contentW - 2*calloutPadding
	l.Improvement = TextBlock{
		Label: "NEXT STEP",
		Top:   y + calloutPadding,
		Lines: WrapText(faceMeasurer{f.body}, strings.TrimSpace(m.Analysis.Improvement), float64(innerW)),
	}
	calloutH := 2*calloutPadding + sectionLabelH + len(l.Improvement.Lines)*bodyLineHeight
	l.Callout = image.Rect(cardPadding, y, cardPadding+contentW, y+calloutH)
	y += calloutH

	// Optional notes.
	if note := strings.TrimSpace(m.Analysis.StoryNote); note != "" {
		y += sectionGap
		l.Story = &TextBlock{Label: "STORY", Top: y, Lines: WrapText(faceMeasurer{f.body}, note, float64(contentW))}
		y += sectionLabelH + len(l.Story.Lines)*bodyLineHeight
	}
	if note := strings.TrimSpace(m.Analysis.MoodNote); note != "" {
		y += sectionGap
		l.Mood = &TextBlock{Label: "MOOD", Top: y, Lines: WrapText(faceMeasurer{f.body}, note, float64(contentW))}
		y += sectionLabelH + len(l.Mood.Lines)*bodyLineHeight
	}

	y += sectionGap
	l.FooterTop = y
	l.Height = y + footerHeight
	return l
}

func cardTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == maxCardTags {
			break
		}
	}
	return out
}

// exifPlaceholder stands in for a missing EXIF value.
const exifPlaceholder = "-"

func exifLine(e *Exif) string {
	parts := []string{e.Camera, e.Aperture, e.ShutterSpeed, e.ISO}
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			parts[i] = exifPlaceholder
		}
	}
	return strings.Join(parts, "  ·  ")
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
