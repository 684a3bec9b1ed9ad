package photopath

import (
	"strings"

	"golang.org/x/image/font"
)

// TextMeasurer reports the rendered width of a string in pixels.
type TextMeasurer interface {
	MeasureString(s string) float64
}

// faceMeasurer measures with a font.Face.
type faceMeasurer struct {
	face font.Face
}

func (m faceMeasurer) MeasureString(s string) float64 {
	return float64(font.MeasureString(m.face, s)) / 64
}

// WrapText breaks text into lines no wider than maxWidth.
//
// Wrapping is greedy and per rune rather than per word, so scripts written
// without spaces (CJK) break correctly. A "\n" always ends a line, and an
// empty paragraph yields one blank line. A single rune wider than maxWidth
// still gets a line of its own.
func WrapText(m TextMeasurer, text string, maxWidth float64) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			lines = append(lines, "")
			continue
		}

		var line strings.Builder
		for _, r := range para {
			candidate := line.String() + string(r)
			if line.Len() > 0 && m.MeasureString(candidate) > maxWidth {
				lines = append(lines, line.String())
				line.Reset()
			}
			line.WriteRune(r)
		}
		lines = append(lines, line.String())
	}
	return lines
}
