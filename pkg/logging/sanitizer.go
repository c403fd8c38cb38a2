package logging

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxFilenameLogLength is the maximum length of a client filename to log.
	MaxFilenameLogLength = 80
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches user:pass@host in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeConnectionString removes credentials from a connection string or URL.
// Use this before logging any database connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError returns the error text with credentials removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeFilename makes a client-supplied filename safe to put in a log line:
// directory components are dropped, control characters are replaced and the
// result is truncated.
func SanitizeFilename(name string) string {
	if name == "" {
		return ""
	}
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, base)
	return TruncateString(cleaned, MaxFilenameLogLength)
}

// TruncateString truncates a string to maxLen bytes without splitting a rune,
// adding an ellipsis if anything was cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
