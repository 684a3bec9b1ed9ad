package photopath

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
)

// CardFormat selects the share-card encoding.
type CardFormat string

const (
	CardJPEG CardFormat = "jpeg"
	CardPNG  CardFormat = "png"
)

const (
	defaultCardJPEGQuality = 90
	defaultAppName         = "photopath"
	defaultFooterSite      = "photopath.app"
	maxFilenameTitleRunes  = 40
)

// ShareCardOptions customizes the share-card renderer.
type ShareCardOptions struct {
	Width       int        // default: DefaultCardWidth (800)
	Format      CardFormat // default: CardJPEG
	JPEGQuality int        // default: 90
	AppName     string     // filename prefix and header brand (default: "photopath")
	FooterSite  string     // default: "photopath.app"

	// RegularFont and BoldFont are optional TTF/OTF files. The embedded Go
	// fonts cover Latin, Greek and Cyrillic; supply a CJK font for CJK titles.
	RegularFont []byte
	BoldFont    []byte
}

func (o ShareCardOptions) withDefaults() ShareCardOptions {
	if o.Width <= 0 {
		o.Width = DefaultCardWidth
	}
	if o.Format == "" {
		o.Format = CardJPEG
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = defaultCardJPEGQuality
	}
	if o.AppName == "" {
		o.AppName = defaultAppName
	}
	if o.FooterSite == "" {
		o.FooterSite = defaultFooterSite
	}
	return o
}

// ShareCardModel is everything a share card shows.
type ShareCardModel struct {
	Photo       image.Image // decoded photo; takes precedence over PhotoSource
	PhotoSource string      // image reference loaded with Config.DecodeImage
	Title       string
	Tags        []string // only the first three are shown
	Exif        *Exif
	Scores      Scores
	Analysis    Analysis
	Date        time.Time // footer date (zero = now)
}

// ShareCard is a rendered, encoded card.
type ShareCard struct {
	Data     []byte
	Format   CardFormat
	MIMEType string
	Filename string
	Width    int
	Height   int
	Layout   *CardLayout
}

// RenderShareCard loads the photo if needed and renders the card. Any failure
// is reported as ErrRenderFailed; there is no partial output.
func (cfg *Config) RenderShareCard(ctx context.Context, m ShareCardModel) (*ShareCard, error) {
	return cfg.RenderShareCardFormat(ctx, "", m)
}

// RenderShareCardFormat is RenderShareCard with the encoding overridden.
// An empty format keeps cfg.ShareCard.Format.
func (cfg *Config) RenderShareCardFormat(ctx context.Context, format CardFormat, m ShareCardModel) (*ShareCard, error) {
	cfg.defaults()

	if m.Photo == nil {
		if m.PhotoSource == "" {
			return nil, fmt.Errorf("%w: no photo", ErrRenderFailed)
		}
		img, err := cfg.DecodeImage(ctx, m.PhotoSource)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
		}
		m.Photo = img
	}

	opts := cfg.ShareCard
	if format != "" {
		opts.Format = format
	}
	opts = opts.withDefaults()
	now := cfg.now()
	if m.Date.IsZero() {
		m.Date = now
	}

	card, err := renderShareCard(&m, opts)
	if err != nil {
		return nil, err
	}
	card.Filename = ShareCardFilename(opts.AppName, m.Title, now, opts.Format)
	return card, nil
}

// renderShareCard is deterministic: identical models and options produce
// identical bytes.
func renderShareCard(m *ShareCardModel, opts ShareCardOptions) (card *ShareCard, err error) {
	defer func() {
		if r := recover(); r != nil {
			card, err = nil, fmt.Errorf("%w: %v", ErrRenderFailed, r)
		}
	}()

	faces, err := newCardFaces(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	defer faces.Close()

	l := layoutShareCard(m, faces, opts.Width)
	canvas := image.NewRGBA(image.Rect(0, 0, l.Width, l.Height))
	fillRect(canvas, canvas.Bounds(), colorBackground)

	drawHeader(canvas, faces, l, opts)
	drawPhoto(canvas, m.Photo, l.Photo)
	drawTitle(canvas, faces, l)
	drawExif(canvas, faces, l)
	drawScores(canvas, faces, l)
	drawNotes(canvas, faces, l)
	drawFooter(canvas, faces, l, m.Date, opts)

	var buf bytes.Buffer
	mime := "image/jpeg"
	if opts.Format == CardPNG {
		mime = "image/png"
		err = imaging.Encode(&buf, canvas, imaging.PNG)
	} else {
		err = imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(opts.JPEGQuality))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrRenderFailed, err)
	}

	return &ShareCard{
		Data:     buf.Bytes(),
		Format:   opts.Format,
		MIMEType: mime,
		Width:    l.Width,
		Height:   l.Height,
		Layout:   l,
	}, nil
}

func drawHeader(dst *image.RGBA, f *cardFaces, l *CardLayout, opts ShareCardOptions) {
	const badge = 32
	top := (headerHeight - badge) / 2
	fillRoundRect(dst, image.Rect(cardPadding, top, cardPadding+badge, top+badge), 6, colorAccent)
	initials := strings.ToUpper(string([]rune(opts.AppName)[:min(2, len([]rune(opts.AppName)))]))
	w := textWidth(f.small, initials)
	drawText(dst, f.small, cardPadding+(badge-w)/2, baseline(f.small, top, badge), initials, colorWhite)

	drawText(dst, f.brand, cardPadding+badge+12, baseline(f.brand, 0, headerHeight), brandName(opts.AppName), colorMuted)
	drawTextRight(dst, f.caption, l.Width-cardPadding, baseline(f.caption, 0, headerHeight), "Lens Insight", colorFaint)
	fillRect(dst, image.Rect(0, headerHeight-1, l.Width, headerHeight), colorDivider)
}

// drawPhoto cover-fits img into box: centered crop, never letterboxed or stretched.
func drawPhoto(dst *image.RGBA, img image.Image, box image.Rectangle) {
	b := img.Bounds()
	crop := CoverCrop(b.Dx(), b.Dy(), box.Dx(), box.Dy()).Add(b.Min)
	scaled := imaging.Resize(imaging.Crop(img, crop), box.Dx(), box.Dy(), imaging.Lanczos)
	draw.Draw(dst, box, scaled, image.Point{}, draw.Src)
	strokeRect(dst, box, colorDivider)
}

// CoverCrop returns the centered source rectangle, relative to the source
// origin, whose aspect ratio matches dstW×dstH.
func CoverCrop(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	// Compare srcW/srcH with dstW/dstH without floating point.
	if srcW*dstH > dstW*srcH {
		// Source is wider: keep full height, trim the sides.
		w := max(srcH*dstW/dstH, 1)
		x := (srcW - w) / 2
		return image.Rect(x, 0, x+w, srcH)
	}
	h := max(srcW*dstH/dstW, 1)
	y := (srcH - h) / 2
	return image.Rect(0, y, srcW, y+h)
}

func drawTitle(dst *image.RGBA, f *cardFaces, l *CardLayout) {
	y := l.TitleTop
	for _, line := range l.TitleLines {
		drawText(dst, f.title, cardPadding, baseline(f.title, y, titleLineHeight), line, colorWhite)
		y += titleLineHeight
	}

	x := cardPadding
	for _, tag := range l.Tags {
		w := textWidth(f.small, tag) + 20
		if x+w > l.Width-cardPadding {
			break
		}
		chip := image.Rect(x, l.TagsTop+(tagRowHeight-tagChipHeight)/2, x+w, l.TagsTop+(tagRowHeight+tagChipHeight)/2)
		fillRoundRect(dst, chip, 4, colorChip)
		drawText(dst, f.small, x+10, baseline(f.small, chip.Min.Y, tagChipHeight), tag, colorSubtle)
		x += w + 8
	}
}

func drawExif(dst *image.RGBA, f *cardFaces, l *CardLayout) {
	if l.ExifTop < 0 {
		return
	}
	fillRect(dst, image.Rect(0, l.ExifTop, l.Width, l.ExifTop+1), colorDivider)
	drawText(dst, f.label, cardPadding, baseline(f.label, l.ExifTop, exifLineHeight), l.ExifLine, colorSubtle)
}

func drawScores(dst *image.RGBA, f *cardFaces, l *CardLayout) {
	right := l.Width - cardPadding
	for _, bar := range l.Bars {
		rowTop := bar.Track.Min.Y - (scoreRowHeight-trackHeight)/2
		drawText(dst, f.label, cardPadding, baseline(f.label, rowTop, scoreRowHeight), bar.Label, colorSubtle)
		fillRoundRect(dst, bar.Track, trackHeight/2, colorTrack)
		if fill := int(bar.FillWidth + 0.5); fill > 0 {
			r := bar.Track
			r.Max.X = r.Min.X + fill
			fillRoundRect(dst, r, trackHeight/2, colorAccent)
		}
		drawTextRight(dst, f.value, right, baseline(f.value, rowTop, scoreRowHeight), bar.Value, colorText)
	}

	top := l.OverallTop
	fillRect(dst, image.Rect(cardPadding, top+8, right, top+9), colorDivider)
	drawText(dst, f.body, cardPadding, baseline(f.body, top+8, overallRowHeight-8), "Overall", colorMuted)
	drawTextRight(dst, f.overall, right, baseline(f.overall, top+8, overallRowHeight-8), l.Overall, colorAccent)
}

func drawNotes(dst *image.RGBA, f *cardFaces, l *CardLayout) {
	drawTextBlock(dst, f, l.Diagnosis, cardPadding, colorSubtle, colorMuted)

	fillRoundRect(dst, l.Callout, 8, colorCalloutRim)
	fillRoundRect(dst, l.Callout.Inset(1), 7, colorCallout)
	drawTextBlock(dst, f, l.Improvement, cardPadding+calloutPadding, colorAccent, colorText)

	if l.Story != nil {
		drawTextBlock(dst, f, *l.Story, cardPadding, colorSubtle, colorMuted)
	}
	if l.Mood != nil {
		drawTextBlock(dst, f, *l.Mood, cardPadding, colorSubtle, colorMuted)
	}
}

func drawTextBlock(dst *image.RGBA, f *cardFaces, b TextBlock, x int, labelColor, textColor color.Color) {
	drawText(dst, f.label, x, baseline(f.label, b.Top, sectionLabelH), b.Label, labelColor)
	y := b.Top + sectionLabelH
	for _, line := range b.Lines {
		drawText(dst, f.body, x, baseline(f.body, y, bodyLineHeight), line, textColor)
		y += bodyLineHeight
	}
}

func drawFooter(dst *image.RGBA, f *cardFaces, l *CardLayout, date time.Time, opts ShareCardOptions) {
	fillRect(dst, image.Rect(0, l.FooterTop, l.Width, l.Height), colorFooter)
	y := baseline(f.small, l.FooterTop, footerHeight)
	drawText(dst, f.small, cardPadding, y, "AI photo critique · "+date.Format("2006.01.02"), colorFaint)
	drawTextRight(dst, f.small, l.Width-cardPadding, y, opts.FooterSite, colorFaint)
}

func brandName(app string) string {
	r := []rune(app)
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// ShareCardFilename builds "{app}_{title|insight}_{unixMillis}.{jpg|png}".
// The title is stripped of path separators, reserved and control characters.
func ShareCardFilename(app, title string, at time.Time, format CardFormat) string {
	ext := "jpg"
	if format == CardPNG {
		ext = "png"
	}
	name := sanitizeFilename(title)
	if name == "" {
		name = "insight"
	}
	return app + "_" + name + "_" + strconv.FormatInt(at.UnixMilli(), 10) + "." + ext
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if n == maxFilenameTitleRunes {
			break
		}
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			r = '_'
		}
		b.WriteRune(r)
		n++
	}
	return strings.Trim(b.String(), "._")
}
