package crawler

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Validate checks the PaperRecord validity rules and reports every failure.
func Validate(rec PaperRecord) error {
	var reasons []string
	if strings.TrimSpace(rec.Title) == "" {
		reasons = append(reasons, "title is empty")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(rec.Abstract)); n <= MinAbstractLength {
		reasons = append(reasons, fmt.Sprintf("abstract has %d characters, need more than %d", n, MinAbstractLength))
	}
	if !IsAbsoluteURL(rec.SourceURL) {
		reasons = append(reasons, fmt.Sprintf("source url %q is not absolute", rec.SourceURL))
	}
	if rec.Year < MinYear || rec.Year > MaxYear {
		reasons = append(reasons, fmt.Sprintf("year %d outside %d-%d", rec.Year, MinYear, MaxYear))
	}
	if len(reasons) == 0 {
		return nil
	}
	return &ValidationReject{SourceURL: rec.SourceURL, Reasons: reasons}
}

// Admission is the per-year deduplicator and validator. The first record for a
// SourceURL wins; later ones are rejected with ErrDuplicate.
type Admission struct {
	mu   sync.Mutex
	year int
	seen map[string]struct{}
}

// NewAdmission returns an empty accepted set for year.
func NewAdmission(year int) *Admission {
	return &Admission{year: year, seen: make(map[string]struct{})}
}

// Admit returns nil when rec is accepted.
func (a *Admission) Admit(rec PaperRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	if rec.Year != a.year {
		return &ValidationReject{
			SourceURL: rec.SourceURL,
			Reasons:   []string{fmt.Sprintf("record year %d does not match crawl year %d", rec.Year, a.year)},
		}
	}
	key, err := NormalizeURL(rec.SourceURL)
	if err != nil {
		return &ValidationReject{SourceURL: rec.SourceURL, Reasons: []string{err.Error()}}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seen[key]; ok {
		return fmt.Errorf("%s: %w", rec.SourceURL, ErrDuplicate)
	}
	a.seen[key] = struct{}{}
	return nil
}

// Accepted returns the size of the accepted set.
func (a *Admission) Accepted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}
