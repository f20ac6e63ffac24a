// internal/cleaner/urlmatch.go - URL equivalence used to sweep variants
package cleaner

import (
	"net/url"
	"strings"
)

// ExpandHostnames returns the hostname plus its www/non-www counterpart.
// Cookie and site-data removal is origin-scoped, so both variants have to
// be cleared together.
func ExpandHostnames(hostname string) []string {
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return nil
	}
	if strings.HasPrefix(hostname, "www.") {
		return []string{hostname, strings.TrimPrefix(hostname, "www.")}
	}
	return []string{hostname, "www." + hostname}
}

func stripWWW(hostname string) string {
	return strings.TrimPrefix(strings.ToLower(hostname), "www.")
}

// normalizePath drops trailing slashes so /path and /path/ compare equal.
func normalizePath(p string) string {
	return strings.TrimRight(p, "/")
}

func schemesEquivalent(a, b string) bool {
	if a == b {
		return true
	}
	return (a == "http" || a == "https") && (b == "http" || b == "https")
}

// sameOrigin reports whether the two parsed URLs share a www-expanded
// hostname and an http/https-equivalent (or identical) scheme.
func sameOrigin(a, b *url.URL) bool {
	return stripWWW(a.Hostname()) == stripWWW(b.Hostname()) &&
		schemesEquivalent(a.Scheme, b.Scheme)
}

// AreEquivalentHistoryURLs reports whether two URLs name the same page:
// same origin under www expansion, identical normalized path and
// identical query string. Unparsable URLs never match.
func AreEquivalentHistoryURLs(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return sameOrigin(ua, ub) &&
		normalizePath(ua.Path) == normalizePath(ub.Path) &&
		ua.RawQuery == ub.RawQuery
}

// IsHistoryURLInSubtree relaxes the path test to "equal or descendant":
// the candidate path must equal the base path or start with base+"/".
// The query string is ignored, enabling bulk purges of a whole section.
func IsHistoryURLInSubtree(base, candidate string) bool {
	ub, err := url.Parse(base)
	if err != nil {
		return false
	}
	uc, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if !sameOrigin(ub, uc) {
		return false
	}

	basePath := normalizePath(ub.Path)
	candPath := normalizePath(uc.Path)
	return candPath == basePath || strings.HasPrefix(candPath, basePath+"/")
}
