package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errNotAbsolute = errors.New("url must be absolute http(s)")

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := ParseAbsoluteURL(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// ParseAbsoluteURL parses rawURL and requires an http(s) scheme and a host.
func ParseAbsoluteURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("parse url: %w", errNotAbsolute)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, errNotAbsolute)
	}
	return u, nil
}

// IsAbsoluteURL reports whether rawURL is a well-formed absolute http(s) URL.
func IsAbsoluteURL(rawURL string) bool {
	_, err := ParseAbsoluteURL(rawURL)
	return err == nil
}

// IndexURL expands an index template for year. The template may contain
// "{year}" placeholders.
func IndexURL(template string, year int) string {
	return strings.ReplaceAll(template, "{year}", fmt.Sprint(year))
}

// WithQuery returns rawURL with key=value set in its query string.
func WithQuery(rawURL, key, value string) (string, error) {
	u, err := ParseAbsoluteURL(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
