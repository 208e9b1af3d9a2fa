package access

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple name",
			input:    "Acme Corp",
			expected: "acme-corp",
		},
		{
			name:     "punctuation collapses to single dash",
			input:    "Acme, Inc. (EU)",
			expected: "acme-inc-eu",
		},
		{
			name:     "leading and trailing separators trimmed",
			input:    "  --Acme--  ",
			expected: "acme",
		},
		{
			name:     "unicode stripped",
			input:    "Büro #1",
			expected: "b-ro-1",
		},
		{
			name:     "empty input falls back",
			input:    "",
			expected: "organization",
		},
		{
			name:     "only symbols falls back",
			input:    "!!!",
			expected: "organization",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Slugify(tt.input))
		})
	}
}

func TestSlugify_truncatesLongNames(t *testing.T) {
	slug := Slugify(strings.Repeat("a", 100))
	require.Len(t, slug, 60)
}
