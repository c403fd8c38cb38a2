package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "password parameter",
			input:    "host=localhost password=secret123 dbname=test",
			expected: "host=localhost password=[REDACTED] dbname=test",
		},
		{
			name:     "url credentials",
			input:    "postgres://ekaya:secret@db:5432/cadcheck?sslmode=disable",
			expected: "postgres://[REDACTED]@db:5432/cadcheck?sslmode=disable",
		},
		{
			name:     "no credentials",
			input:    "postgres://db:5432/cadcheck",
			expected: "postgres://db:5432/cadcheck",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeConnectionString(tt.input))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))
	err := errors.New("dial postgres://u:pw@host/db failed")
	assert.NotContains(t, SanitizeError(err), "pw@")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "", SanitizeFilename(""))
	assert.Equal(t, "part.dxf", SanitizeFilename("../../etc/part.dxf"))
	assert.Equal(t, "part.dxf", SanitizeFilename(`C:\drawings\part.dxf`))
	assert.Equal(t, "a_b.dxf", SanitizeFilename("a\nb.dxf"))

	long := strings.Repeat("图", 60) + ".dxf"
	got := SanitizeFilename(long)
	require.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), MaxFilenameLogLength+3)
	assert.True(t, strings.HasPrefix(got, "图"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 5))
	assert.Equal(t, "ab...", TruncateString("abcdef", 2))
	// "图" is 3 bytes; cutting at 4 must back up to a rune boundary.
	assert.Equal(t, "图...", TruncateString("图图", 4))
}
