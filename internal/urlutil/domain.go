package urlutil

import (
	"net/url"
	"strings"
)

// DomainFromURL extracts the volume-preference domain from a page URL: the
// hostname with a leading "www." stripped. Returns "" when the URL has no
// extractable hostname (chrome:// pages, about:blank, malformed input), which
// callers treat as "volume control unavailable" rather than an error.
func DomainFromURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	switch parsed.Scheme {
	case "http", "https", "file", "ftp":
	default:
		return ""
	}

	host := parsed.Hostname()
	if host == "" {
		return ""
	}
	return strings.TrimPrefix(host, "www.")
}

// HasDomain reports whether a URL resolves to a rememberable domain.
func HasDomain(rawURL string) bool {
	return DomainFromURL(rawURL) != ""
}
