package photopath

import (
	"fmt"
	"strings"
)

// DefaultThumbnailSize is the longer edge, in pixels, of list thumbnails.
const DefaultThumbnailSize = 200

const cdnUploadSegment = "/upload/"

// IsCDNURL reports whether url is a Cloudinary delivery URL that accepts
// on-the-fly transformations.
func IsCDNURL(url string) bool {
	return (strings.Contains(url, "cloudinary.com") || strings.Contains(url, "res.cloudinary.com")) &&
		strings.Contains(url, cdnUploadSegment)
}

// ThumbnailURL rewrites a CDN URL to request a variant scaled to width.
// With height > 0 the variant is filled (cropped) to width×height.
// Other URLs are returned unchanged.
func ThumbnailURL(url string, width, height int) string {
	if !IsCDNURL(url) {
		return url
	}
	t := fmt.Sprintf("w_%d,c_scale,q_auto,f_auto", width)
	if height > 0 {
		t = fmt.Sprintf("w_%d,h_%d,c_fill,q_auto,f_auto", width, height)
	}
	return strings.Replace(url, cdnUploadSegment, cdnUploadSegment+t+"/", 1)
}

// OptimizedURL rewrites a CDN URL to request a variant no wider than maxWidth,
// for detail views. Other URLs are returned unchanged.
func OptimizedURL(url string, maxWidth int) string {
	if !IsCDNURL(url) {
		return url
	}
	return strings.Replace(url, cdnUploadSegment, fmt.Sprintf("%sw_%d,c_limit,q_auto,f_auto/", cdnUploadSegment, maxWidth), 1)
}
