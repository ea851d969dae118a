package redirect

import "strings"

// Normalizer canonicalizes paths so stored sources and request paths compare equal.
type Normalizer struct {
	siteURL string
}

func NewNormalizer(siteURL string) Normalizer {
	return Normalizer{siteURL: strings.TrimRight(siteURL, "/")}
}

// Normalize strips the site URL prefix, enforces a leading slash and drops
// trailing slashes except for the root path.
func (n Normalizer) Normalize(source string) string {
	if n.siteURL != "" && strings.HasPrefix(source, n.siteURL) {
		source = strings.TrimPrefix(source, n.siteURL)
	}

	if !strings.HasPrefix(source, "/") {
		source = "/" + source
	}

	if source != "/" {
		source = strings.TrimRight(source, "/")
		if source == "" {
			source = "/"
		}
	}

	return source
}

// Absolute resolves a relative destination against the site URL.
// Destinations that already carry a scheme are returned unchanged.
func (n Normalizer) Absolute(destination string) string {
	if strings.HasPrefix(destination, "http") {
		return destination
	}
	return n.siteURL + "/" + strings.TrimLeft(destination, "/")
}

// RequestPath returns the path part of a request URI.
func RequestPath(requestURI string) string {
	path, _, _ := strings.Cut(requestURI, "?")
	return path
}
