package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

// scriptedTransport replays a queue of responses per URL; the last entry
// repeats once the queue is drained.
type scriptedTransport struct {
	mu     sync.Mutex
	script map[string][]transportReply
	calls  map[string]int
}

type transportReply struct {
	status int
	body   string
	err    error
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{script: map[string][]transportReply{}, calls: map[string]int{}}
}

func (t *scriptedTransport) on(url string, replies ...transportReply) *scriptedTransport {
	t.script[url] = replies
	return t
}

func (t *scriptedTransport) Get(_ context.Context, url string) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.calls[url]
	t.calls[url]++
	replies := t.script[url]
	if len(replies) == 0 {
		return Response{URL: url, StatusCode: 404}, nil
	}
	r := replies[min(n, len(replies)-1)]
	if r.err != nil {
		return Response{}, r.err
	}
	return Response{URL: url, StatusCode: r.status, Body: []byte(r.body)}, nil
}

func (t *scriptedTransport) count(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[url]
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

func newMapCache() *mapCache { return &mapCache{entries: map[string]CacheEntry{}} }

func (c *mapCache) Get(_ context.Context, key string) (CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, entry CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

type identityHasher struct{}

func (identityHasher) Hash(data []byte) (string, error) { return "k:" + string(data), nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memBlobs is a minimal BlobStore.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if b.fail != nil {
		return "", b.fail
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	return "mem://" + path, nil
}

func (b *memBlobs) records(path string) ([]PaperRecord, bool) {
	b.mu.Lock()
	raw, ok := b.objects[path]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	recs, err := DecodeRecords(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	return recs, true
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return fmt.Sprint(len(p.payloads)), nil
}

type recordingStore struct {
	mu    sync.Mutex
	saved []PaperRecord
}

func (s *recordingStore) SaveRecords(_ context.Context, _ string, records []PaperRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, records...)
	return int64(len(records)), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) count(stage progress.Stage) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

// siteFetcher serves a synthetic site: index pages list detail URLs in their
// body, detail pages carry the paper title. It tracks in-flight calls.
type siteFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	failing map[string]error
	delay   time.Duration
	before  func(ctx context.Context, url string) error

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newSiteFetcher() *siteFetcher {
	return &siteFetcher{pages: map[string]string{}, failing: map[string]error{}}
}

func (f *siteFetcher) index(url string, details ...string) *siteFetcher {
	f.pages[url] = "index\n" + strings.Join(details, "\n")
	return f
}

func (f *siteFetcher) detail(url, title string) *siteFetcher {
	f.pages[url] = title
	return f
}

func (f *siteFetcher) fail(url string, err error) *siteFetcher {
	f.failing[url] = err
	return f
}

func (f *siteFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.before != nil {
		if err := f.before(ctx, url); err != nil {
			return Page{}, err
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	body, ok := f.pages[url]
	err := f.failing[url]
	f.mu.Unlock()
	if err != nil {
		return Page{}, err
	}
	if !ok {
		return Page{}, &NetworkError{Kind: Permanent, URL: url, StatusCode: 404, Attempts: 1}
	}
	return Page{URL: url, StatusCode: 200, Body: []byte(body), Attempts: 1}, nil
}

// siteParser implements IndexParser and Extractor over siteFetcher bodies.
type siteParser struct {
	// sourceOverride maps a detail URL to the SourceURL its record claims.
	sourceOverride map[string]string
	next           map[string][]string
}

func (p *siteParser) ParseIndex(body []byte, pageURL string, _ int) (IndexPage, error) {
	lines := strings.Split(string(body), "\n")
	if len(lines) == 0 || lines[0] != "index" {
		return IndexPage{}, errors.New("not an index page")
	}
	var out IndexPage
	for _, l := range lines[1:] {
		if l != "" {
			out.DetailURLs = append(out.DetailURLs, l)
		}
	}
	out.NextURLs = p.next[pageURL]
	return out, nil
}

func (p *siteParser) Extract(body []byte, year int, sourceURL string) ([]PaperRecord, error) {
	if string(body) == "" {
		return nil, &ParseError{Kind: LayoutUnrecognized, URL: sourceURL}
	}
	src := sourceURL
	if o, ok := p.sourceOverride[sourceURL]; ok {
		src = o
	}
	return []PaperRecord{{
		Title:     string(body),
		Authors:   "Ada Lovelace",
		Abstract:  strings.Repeat("A sufficiently long abstract. ", 3),
		Year:      year,
		SourceURL: src,
	}}, nil
}
