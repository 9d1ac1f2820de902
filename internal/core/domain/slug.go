package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// maxSlugLength keeps a slug usable as a single DNS label.
const maxSlugLength = 63

// Slugify converts a project name to a DNS-safe hostname label.
//
// The transformation rules are:
//   - Letters are lowercased, digits are kept
//   - Spaces, underscores, dots and hyphens become a single hyphen
//   - All other characters are removed
//   - Leading and trailing hyphens are trimmed
//   - The result is cut to 63 characters
//
// An empty result becomes "app".
//
// Example:
//
//	Slugify("Café CRM")        // returns "caf-crm"
//	Slugify("My App 2.0!")     // returns "my-app-2-0"
//	Slugify("__Dashboard__")   // returns "dashboard"
func Slugify(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
		case r == ' ' || r == '-' || r == '_' || r == '.':
			pendingHyphen = b.Len() > 0
			continue
		default:
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "app"
	}
	return slug
}
