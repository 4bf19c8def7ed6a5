package importer

import (
	"errors"
	"regexp"
)

var shortcodeRe = regexp.MustCompile(`/(p|reel|tv)/([^/?#]+)`)

// ErrInvalidURL is returned for URLs that do not reference a post.
var ErrInvalidURL = errors.New("invalid or unsupported post URL format")

// ExtractShortcode pulls the shortcode out of the supported post URL
// formats (/p/, /reel/, /tv/).
func ExtractShortcode(url string) (string, error) {
	m := shortcodeRe.FindStringSubmatch(url)
	if m == nil {
		return "", ErrInvalidURL
	}
	return m[2], nil
}
