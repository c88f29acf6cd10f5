package utils

import (
	"html"
	"regexp"
	"strings"
)

var (
	dashRun    = regexp.MustCompile(`-+`)
	scriptRe   = regexp.MustCompile(`<script\s+id="page-data"\s+type="application/json"[^>]*>(.*?)</script>`)
	dataPageRe = regexp.MustCompile(`data-page="([^"]+)"`)
	csrfMetaRe = regexp.MustCompile(`<meta\s+name="csrf-token"\s+content="([^"]+)"`)
)

// SanitizeFilename converts a raw title into a safe filesystem segment.
func SanitizeFilename(name string) string {
	name = strings.ToLower(name)

	invalids := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := name
	for _, char := range invalids {
		result = strings.ReplaceAll(result, char, "-")
	}

	result = dashRun.ReplaceAllString(result, "-")
	return strings.Trim(result, "-")
}

// ExtractPageJSON pulls the embedded page-data JSON out of a page body.
// Returns "" when neither the script tag nor the data-page attribute is
// present.
func ExtractPageJSON(body []byte) string {
	if matches := scriptRe.FindSubmatch(body); len(matches) > 1 {
		return html.UnescapeString(string(matches[1]))
	}

	// Try the data-page attribute as fallback
	if matches := dataPageRe.FindSubmatch(body); len(matches) > 1 {
		return html.UnescapeString(string(matches[1]))
	}

	return ""
}

// ExtractCSRFToken pulls the csrf-token meta tag value out of a page body.
// Returns "" when the tag is absent.
func ExtractCSRFToken(body []byte) string {
	if matches := csrfMetaRe.FindSubmatch(body); len(matches) > 1 {
		return string(matches[1])
	}
	return ""
}
