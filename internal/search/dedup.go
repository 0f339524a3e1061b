package search

import (
	"regexp"
	"strings"
)

var domainPattern = regexp.MustCompile(`(?i)^https?://[^/?#]+`)

// Keyed is anything deduplicated by URL.
type Keyed interface {
	ResultURL() string
}

// Domain returns the lowercased scheme://host of u, or "" when u is not an
// http(s) URL.
func Domain(u string) string {
	return strings.ToLower(domainPattern.FindString(strings.TrimSpace(u)))
}

// DeduplicateByDomainAndURL keeps an item only if neither its exact URL nor its
// domain has been seen earlier in items. First occurrence wins and order is
// preserved.
//
// The domain key also drops distinct pages of one site (pagination variants,
// but also unrelated articles). That trades recall for source diversity and is
// kept as is; revisit it together with ranking. Items without an http(s)
// domain, such as file paths from the regulatory backend, are keyed by URL only.
func DeduplicateByDomainAndURL[T Keyed](items []T) []T {
	out := make([]T, 0, len(items))
	seenURL := make(map[string]struct{}, len(items))
	seenDomain := make(map[string]struct{}, len(items))
	for _, it := range items {
		u := it.ResultURL()
		if _, dup := seenURL[u]; dup {
			continue
		}
		d := Domain(u)
		if d != "" {
			if _, dup := seenDomain[d]; dup {
				continue
			}
			seenDomain[d] = struct{}{}
		}
		seenURL[u] = struct{}{}
		out = append(out, it)
	}
	return out
}
