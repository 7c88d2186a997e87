package utils

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

// DetectMime analyzes a byte slice to determine its MIME type.
// Empty input is reported as plain text.
func DetectMime(data []byte) string {
	if len(data) == 0 {
		return "text/plain; charset=utf-8"
	}
	return http.DetectContentType(data)
}

// IsText reports whether data looks like UTF-8 text that can be shown in a
// chat reply: a text/* (or JSON/XML) content type and valid UTF-8.
func IsText(data []byte) bool {
	mimeType := DetectMime(data)
	textual := strings.HasPrefix(mimeType, "text/") ||
		strings.HasPrefix(mimeType, "application/json") ||
		strings.HasPrefix(mimeType, "application/xml")
	return textual && utf8.Valid(data)
}
