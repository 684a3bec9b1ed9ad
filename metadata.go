package photopath

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bep/imagemeta"
)

// wantedExifTags are the EXIF tags the card and the analysis prompt use.
var wantedExifTags = map[string]bool{
	"Make":                    true,
	"Model":                   true,
	"LensModel":               true,
	"FNumber":                 true,
	"ExposureTime":            true,
	"ISO":                     true,
	"ISOSpeedRatings":         true,
	"PhotographicSensitivity": true,
	"FocalLength":             true,
	"DateTimeOriginal":        true,
}

// ExtractExif parses camera parameters from raw image bytes.
// Returns nil if the data is empty, not a supported container, or carries no
// wanted tag. Graceful degradation: never returns an error.
func ExtractExif(data []byte) *Exif {
	format, ok := sniffImageFormat(data)
	if !ok {
		return nil
	}

	tags := make(map[string]any)
	_, err := imagemeta.Decode(imagemeta.Options{
		R:           bytes.NewReader(data),
		ImageFormat: format,
		Sources:     imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return wantedExifTags[ti.Tag]
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			tags[ti.Tag] = ti.Value
			return nil
		},
	})
	if err != nil || len(tags) == 0 {
		return nil
	}

	return exifFromTags(tags)
}

// exifFromTags formats raw tag values the way photographers read them:
// "f/2.8", "1/250s", "ISO 200", "35mm".
func exifFromTags(tags map[string]any) *Exif {
	e := &Exif{}

	maker := strings.TrimSpace(tagString(tags["Make"]))
	model := strings.TrimSpace(tagString(tags["Model"]))
	switch {
	case model != "" && maker != "" && !strings.HasPrefix(strings.ToLower(model), strings.ToLower(maker)):
		e.Camera = maker + " " + model
	case model != "":
		e.Camera = model
	default:
		e.Camera = maker
	}
	e.Lens = strings.TrimSpace(tagString(tags["LensModel"]))

	if f, ok := tagFloat(tags["FNumber"]); ok && f > 0 {
		e.Aperture = "f/" + strconv.FormatFloat(f, 'f', -1, 64)
	}
	if s, ok := tagFloat(tags["ExposureTime"]); ok && s > 0 {
		e.ShutterSpeed = formatShutter(s)
	}
	for _, k := range []string{"ISO", "ISOSpeedRatings", "PhotographicSensitivity"} {
		if iso, ok := tagFloat(tags[k]); ok && iso > 0 {
			e.ISO = "ISO " + strconv.Itoa(int(math.Round(iso)))
			break
		}
	}
	if fl, ok := tagFloat(tags["FocalLength"]); ok && fl > 0 {
		e.FocalLength = strconv.FormatFloat(math.Round(fl*10)/10, 'f', -1, 64) + "mm"
	}
	e.CaptureDate = formatCaptureDate(tags["DateTimeOriginal"])

	if *e == (Exif{}) {
		return nil
	}
	return e
}

func formatShutter(sec float64) string {
	if sec >= 1 {
		return strconv.FormatFloat(sec, 'f', -1, 64) + "s"
	}
	return "1/" + strconv.Itoa(int(math.Round(1/sec))) + "s"
}

func formatCaptureDate(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.DateOnly)
	case string:
		// EXIF stores "2006:01:02 15:04:05".
		if t, err := time.Parse("2006:01:02 15:04:05", strings.TrimSpace(val)); err == nil {
			return t.Format(time.DateOnly)
		}
		return strings.TrimSpace(val)
	default:
		return ""
	}
}

// tagString extracts a string from a tag value.
func tagString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		if len(val) > 0 {
			return val[0]
		}
		return ""
	case fmt.Stringer:
		return val.String()
	default:
		return ""
	}
}

// tagFloat extracts a number from a tag value. EXIF rationals may arrive as
// floats, integers, rational types or "n/d" strings depending on the tag.
func tagFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case []uint16:
		if len(val) > 0 {
			return float64(val[0]), true
		}
	case interface{ Float64() float64 }:
		return val.Float64(), true
	case string:
		return parseRational(val)
	case fmt.Stringer:
		return parseRational(val.String())
	}
	return 0, false
}

func parseRational(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// sniffImageFormat maps magic bytes to the containers imagemeta can read.
func sniffImageFormat(data []byte) (imagemeta.ImageFormat, bool) {
	switch {
	case len(data) < 12:
		return 0, false
	case data[0] == 0xFF && data[1] == 0xD8:
		return imagemeta.JPEG, true
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return imagemeta.PNG, true
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return imagemeta.TIFF, true
	case bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return imagemeta.WebP, true
	default:
		return 0, false
	}
}
