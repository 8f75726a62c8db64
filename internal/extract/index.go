package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// ParseIndex implements crawler.IndexParser. Paper links come from the
// dt.ptitle listing when present, otherwise from any anchor that looks like a
// per-paper HTML page for year. Pagination links are returned separately.
func (e *Extractor) ParseIndex(body []byte, pageURL string, year int) (crawler.IndexPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.IndexPage{}, &crawler.ParseError{Kind: crawler.LayoutUnrecognized, URL: pageURL, Field: err.Error()}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.IndexPage{}, fmt.Errorf("parse index url %q: %w", pageURL, err)
	}

	var idx crawler.IndexPage
	seen := make(map[string]struct{})
	add := func(list *[]string, abs string) {
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		*list = append(*list, abs)
	}

	listing := doc.Find("dt.ptitle a[href]")
	if listing.Length() > 0 {
		listing.Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			add(&idx.DetailURLs, resolve(base, href))
		})
	} else {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if isPaperLink(href, year) {
				add(&idx.DetailURLs, resolve(base, href))
			}
		})
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		rel, _ := a.Attr("rel")
		text := strings.ToLower(collapse(a.Text()))
		if strings.EqualFold(rel, "next") || text == "next" || strings.HasPrefix(text, "next ") {
			add(&idx.NextURLs, sameHost(base, href))
		}
	})

	if len(idx.DetailURLs) == 0 {
		// Day-split listings show no papers on the landing page; follow the
		// "all papers" link or, failing that, every day= link on the site.
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if strings.Contains(strings.ToLower(collapse(a.Text())), "all papers") {
				add(&idx.NextURLs, sameHost(base, href))
			}
		})
		if len(idx.NextURLs) == 0 {
			doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
				href, _ := a.Attr("href")
				if strings.Contains(href, "day=") {
					add(&idx.NextURLs, sameHost(base, href))
				}
			})
		}
	}
	return idx, nil
}

// isPaperLink reports whether href looks like a per-paper HTML page.
func isPaperLink(href string, year int) bool {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	p := ref.Path
	if !strings.HasSuffix(strings.ToLower(p), ".html") {
		return false
	}
	tags := []string{fmt.Sprintf("CVPR%d", year), fmt.Sprintf("cvpr_%d", year)}
	for _, tag := range tags {
		if strings.Contains(p, tag) {
			return true
		}
	}
	return !ref.IsAbs() && strings.Contains(path.Base(p), "_")
}

// sameHost resolves href and drops it when it leaves base's host.
func sameHost(base *url.URL, href string) string {
	abs := resolve(base, href)
	if abs == "" {
		return ""
	}
	u, err := url.Parse(abs)
	if err != nil || !strings.EqualFold(u.Host, base.Host) {
		return ""
	}
	return abs
}
