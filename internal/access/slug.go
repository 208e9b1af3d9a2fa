package access

import "strings"

const (
	maxSlugLength = 60
	fallbackSlug  = "organization"
)

// Slugify derives an organization slug from a display name: lowercase, runs
// of non-alphanumeric characters collapsed to a single dash, trimmed,
// truncated to 60 characters. An empty result falls back to "organization".
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}
