package util

import "strings"

// Ellipsis marks content cut by Truncate.
const Ellipsis = "..."

// Truncate keeps the first limit runes of s and appends Ellipsis when
// anything was cut. The result is at most limit runes plus the marker.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + Ellipsis
}

// TruncateString truncates s to maxLen runes including the "..." suffix.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= len(Ellipsis) {
		return Ellipsis[:maxLen]
	}
	return string(runes[:maxLen-len(Ellipsis)]) + Ellipsis
}

// CollapseWhitespace replaces every whitespace run with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContainsFold reports whether slice contains item, ignoring case and surrounding space.
func ContainsFold(slice []string, item string) bool {
	item = strings.TrimSpace(item)
	for _, s := range slice {
		if strings.EqualFold(strings.TrimSpace(s), item) {
			return true
		}
	}
	return false
}

// CleanStrings trims every entry, drops empties and keeps at most limit
// entries (limit <= 0 means no bound).
func CleanStrings(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
