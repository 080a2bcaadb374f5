// Package source resolves video identities and fetches source media through
// the yt-dlp binary and plain HTTP.
package source

import (
	"errors"
	"regexp"
	"strings"
)

var ErrUnrecognizedURL = errors.New("unrecognized video url")

var recognizedURLs = []*regexp.Regexp{
	regexp.MustCompile(`^(https?://)?(www\.|m\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtu\.be/[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/embed/[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/shorts/[\w-]+`),
}

var videoIdPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([\w-]+)`)

func IsRecognized(url string) bool {
	url = strings.TrimSpace(url)
	for _, p := range recognizedURLs {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// ResolveID derives the stable video id from any recognized url shape. The
// same video always yields the same id.
func ResolveID(url string) (string, error) {
	url = strings.TrimSpace(url)
	if !IsRecognized(url) {
		return "", ErrUnrecognizedURL
	}
	m := videoIdPattern.FindStringSubmatch(url)
	if len(m) < 2 || m[1] == "" {
		return "", ErrUnrecognizedURL
	}
	return m[1], nil
}
