package photopath

import (
	"context"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
)

const (
	// fingerprintSize is the side of the square the image is reduced to.
	// Larger discriminates better but tolerates recompression worse.
	fingerprintSize = 16
	// fingerprintShift drops the low bits of each 8-bit luma value (4 bits kept, 16 levels).
	fingerprintShift = 4
)

const hexDigits = "0123456789abcdef"

// Fingerprint computes the content fingerprint of src. It fails with
// ErrHashUnavailable when the image cannot be decoded within cfg.DecodeTimeout.
func (cfg *Config) Fingerprint(ctx context.Context, src string) (Fingerprint, error) {
	fp, _, err := cfg.fingerprint(ctx, src)
	return fp, err
}

// fingerprint also returns the dHash used for near-duplicate matching.
func (cfg *Config) fingerprint(ctx context.Context, src string) (Fingerprint, uint64, error) {
	img, err := cfg.DecodeImage(ctx, src)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrHashUnavailable, err)
	}
	return FingerprintImage(img), differenceHash(img), nil
}

// FingerprintImage reduces img to a 16×16 luma raster, quantizes each pixel
// to 16 levels and concatenates the levels as hex digits in raster order.
func FingerprintImage(img image.Image) Fingerprint {
	small := imaging.Resize(img, fingerprintSize, fingerprintSize, imaging.Box)
	gray := imaging.Grayscale(small)

	buf := make([]byte, 0, fingerprintSize*fingerprintSize)
	for y := 0; y < fingerprintSize; y++ {
		for x := 0; x < fingerprintSize; x++ {
			// Grayscale sets R=G=B to the luma value.
			c := gray.NRGBAAt(x, y)
			buf = append(buf, hexDigits[c.R>>fingerprintShift])
		}
	}
	return Fingerprint(buf)
}

// differenceHash returns 0 when hashing fails; near-duplicate matching then
// simply never matches that image.
func differenceHash(img image.Image) uint64 {
	h, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return 0
	}
	return h.GetHash()
}

// dHashDistance returns the Hamming distance between two dHash values, or -1
// if either is unknown.
func dHashDistance(a, b uint64) int {
	if a == 0 || b == 0 {
		return -1
	}
	ha := goimagehash.NewImageHash(a, goimagehash.DHash)
	hb := goimagehash.NewImageHash(b, goimagehash.DHash)
	d, err := ha.Distance(hb)
	if err != nil {
		return -1
	}
	return d
}
