// Package signature derives stable failure signatures used to cluster tests failing for the same cause.
package signature

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxNormalizedLen bounds the portion of a message that contributes to the signature.
const maxNormalizedLen = 1024

var (
	uuidRe       = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	hexRe        = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b|\b[0-9a-f]{12,}\b`)
	winPathRe    = regexp.MustCompile(`(?i)\b[a-z]:\\[^\s:'"]+`)
	unixPathRe   = regexp.MustCompile(`(?:\.{0,2}/[\w.@+-]+)+/?`)
	numberRe     = regexp.MustCompile(`\d+(?:\.\d+)?`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize strips the volatile parts of a failure message: uuids, hex values, paths and numbers.
func Normalize(message string) string {
	if line := firstLines(message, 3); line != "" {
		message = line
	}
	s := uuidRe.ReplaceAllString(message, "<uuid>")
	s = hexRe.ReplaceAllString(s, "<hex>")
	s = winPathRe.ReplaceAllString(s, "<path>")
	s = unixPathRe.ReplaceAllString(s, "<path>")
	s = numberRe.ReplaceAllString(s, "<n>")
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.ToLower(s)
	if len(s) > maxNormalizedLen {
		s = s[:maxNormalizedLen]
	}
	return s
}

// Compute returns the hex digest of the normalized message, empty for an empty message.
func Compute(message string) string {
	normalized := Normalize(message)
	if normalized == "" {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64String(normalized), 16)
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(strings.TrimSpace(s), "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, " ")
}
