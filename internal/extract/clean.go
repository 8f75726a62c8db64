package extract

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	whitespace       = regexp.MustCompile(`\s+`)
	venueParenthesis = regexp.MustCompile(`(?i)\s*\([^()]*\b(?:CVPR|ICCV|ECCV|WACV|CVF)\b[^()]*\)\s*$`)
	venueTail        = regexp.MustCompile(`(?i)\s*[-|:]?\s*\bCVPR\s+\d{4}\b.*$`)
	abstractLabel    = regexp.MustCompile(`(?i)^abstract\s*:?\s*`)
)

// collapse trims s and folds internal whitespace runs into single spaces.
func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// CleanTitle strips venue annotations such as "(CVPR 2023)" or a trailing
// "CVPR 2016 Open Access Repository" and collapses whitespace.
func CleanTitle(s string) string {
	t := collapse(s)
	for {
		next := venueParenthesis.ReplaceAllString(t, "")
		next = venueTail.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == t {
			return t
		}
		t = next
	}
}

// CleanAbstract drops a leading "Abstract:" label and collapses whitespace.
func CleanAbstract(s string) string {
	return collapse(abstractLabel.ReplaceAllString(collapse(s), ""))
}

// JoinAuthors splits comma or semicolon separated fragments and rejoins them
// with ", ", keeping page order and dropping empties.
func JoinAuthors(fragments ...string) string {
	var names []string
	for _, frag := range fragments {
		for _, part := range strings.FieldsFunc(frag, func(r rune) bool { return r == ',' || r == ';' }) {
			name := collapse(part)
			name = strings.TrimPrefix(name, "and ")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return strings.Join(names, ", ")
}

// resolve turns href into an absolute URL relative to base. Non-navigable
// hrefs return "".
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}
