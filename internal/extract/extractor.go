// Package extract parses CVF open access pages with goquery: per-paper detail
// pages into records, and year index pages into detail and pagination links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// fields is what a layout strategy pulls out of a detail page.
type fields struct {
	title    string
	authors  string
	abstract string
}

// layout is one detail-page markup convention.
type layout interface {
	Name() string
	// Matches probes for the marker elements of the layout.
	Matches(doc *goquery.Document) bool
	Fields(doc *goquery.Document) fields
}

// Extractor implements crawler.Extractor by probing layouts in order.
type Extractor struct {
	layouts []layout
}

// New returns an Extractor that tries the current layout before the legacy one.
func New() *Extractor {
	return &Extractor{layouts: []layout{currentLayout{}, legacyLayout{}}}
}

// Extract returns at most one candidate record. A record with a short or
// missing abstract is still returned; validity is decided by admission.
func (e *Extractor) Extract(body []byte, year int, sourceURL string) ([]crawler.PaperRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &crawler.ParseError{Kind: crawler.LayoutUnrecognized, URL: sourceURL, Field: err.Error()}
	}
	l := e.pick(doc)
	if l == nil {
		return nil, &crawler.ParseError{Kind: crawler.LayoutUnrecognized, URL: sourceURL}
	}
	f := l.Fields(doc)
	if f.title == "" {
		return nil, &crawler.ParseError{Kind: crawler.FieldMissing, URL: sourceURL, Field: "title"}
	}

	base, _ := url.Parse(sourceURL)
	pdf, supp := findLinks(doc, base)
	return []crawler.PaperRecord{{
		Title:            f.title,
		Authors:          f.authors,
		Abstract:         f.abstract,
		Year:             year,
		SourceURL:        sourceURL,
		PDFURL:           pdf,
		SupplementaryURL: supp,
	}}, nil
}

// Layout reports which layout would handle body, or "" when none matches.
func (e *Extractor) Layout(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	if l := e.pick(doc); l != nil {
		return l.Name(), nil
	}
	return "", nil
}

func (e *Extractor) pick(doc *goquery.Document) layout {
	for _, l := range e.layouts {
		if l.Matches(doc) {
			return l
		}
	}
	return nil
}

// findLinks returns the first PDF and supplementary links on the page.
// Supplementary links are checked first because they often end in .pdf too.
func findLinks(doc *goquery.Document, base *url.URL) (pdf, supp string) {
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		text := strings.ToLower(collapse(a.Text()))
		lowerHref := strings.ToLower(href)
		switch {
		case strings.Contains(text, "supp") || strings.Contains(lowerHref, "supp"):
			if supp == "" {
				supp = resolve(base, href)
			}
		case text == "pdf" || strings.Contains(text, "pdf") || strings.HasSuffix(lowerHref, ".pdf"):
			if pdf == "" {
				pdf = resolve(base, href)
			}
		}
		return pdf == "" || supp == ""
	})
	return pdf, supp
}

// currentLayout is the openaccess.thecvf.com template: #papertitle,
// #authors with names in <b><i>, and #abstract.
type currentLayout struct{}

func (currentLayout) Name() string { return "current" }

func (currentLayout) Matches(doc *goquery.Document) bool {
	return doc.Find("#papertitle").Length() > 0 && doc.Find("#abstract").Length() > 0
}

func (currentLayout) Fields(doc *goquery.Document) fields {
	f := fields{
		title:    CleanTitle(doc.Find("#papertitle").First().Text()),
		abstract: CleanAbstract(doc.Find("#abstract").First().Text()),
	}
	var frags []string
	doc.Find("#authors b i, #authors i b").Each(func(_ int, s *goquery.Selection) {
		frags = append(frags, s.Text())
	})
	if len(frags) == 0 {
		// Some years put the names directly inside #authors, followed by "; venue".
		raw := doc.Find("#authors").First().Text()
		if i := strings.Index(raw, ";"); i >= 0 {
			raw = raw[:i]
		}
		frags = append(frags, raw)
	}
	f.authors = JoinAuthors(frags...)
	return f
}

// legacyLayout is the generic cascade used by older cv-foundation pages.
type legacyLayout struct{}

var (
	legacyTitleSelectors    = []string{".paper-title", "#papertitle", "h1", "title"}
	legacyAuthorSelectors   = []string{".authors", ".paper-authors", "#authors", ".author"}
	legacyAbstractSelectors = []string{
		".abstract", "#abstract", ".paper-abstract", `div[id*="abstract"]`, `div[class*="abstract"]`,
	}
)

func (legacyLayout) Name() string { return "legacy" }

func (legacyLayout) Matches(doc *goquery.Document) bool {
	for _, sel := range legacyTitleSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func (legacyLayout) Fields(doc *goquery.Document) fields {
	var f fields
	for _, sel := range legacyTitleSelectors {
		if t := CleanTitle(doc.Find(sel).First().Text()); t != "" {
			f.title = t
			break
		}
	}

	for _, sel := range legacyAuthorSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			f.authors = JoinAuthors(s.Text())
			break
		}
	}
	if f.authors == "" {
		doc.Find("i, b, em, strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := collapse(s.Text())
			if strings.Count(text, ",") >= 1 {
				f.authors = JoinAuthors(text)
				return false
			}
			return true
		})
	}

	for _, sel := range legacyAbstractSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			f.abstract = CleanAbstract(s.Text())
			if utf8.RuneCountInString(f.abstract) > crawler.MinAbstractLength {
				break
			}
		}
	}
	if f.abstract == "" {
		doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			text := collapse(p.Text())
			head := []rune(strings.ToLower(text))
			if len(head) > 50 {
				head = head[:50]
			}
			if utf8.RuneCountInString(text) > 200 && !strings.Contains(string(head), "abstract") {
				f.abstract = text
				return false
			}
			return true
		})
	}
	return f
}
