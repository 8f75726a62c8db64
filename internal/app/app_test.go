package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/config"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/export"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/publisher/memory"
	memstorage "github.com/TontonTremblay/cvpr-scrape2plot/internal/storage/memory"
)

const indexPage = `<html><body><dl>
<dt class="ptitle"><br><a href="/content/CVPR2023/html/A_First_CVPR_2023_paper.html">First</a></dt>
<dt class="ptitle"><br><a href="/content/CVPR2023/html/B_Second_CVPR_2023_paper.html">Second</a></dt>
</dl></body></html>`

func detailPage(title string) string {
	return fmt.Sprintf(`<html><body>
<div id="papertitle">%s</div>
<div id="authors"><b><i>Grace Hopper, Edsger Dijkstra</i></b>; CVPR 2023</div>
<div id="abstract">An abstract that is comfortably longer than fifty characters so it validates.</div>
<a href="/content/CVPR2023/papers/%s.pdf">pdf</a>
</body></html>`, title, title)
}

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/CVPR2023", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(indexPage))
	})
	mux.HandleFunc("/content/CVPR2023/html/A_First_CVPR_2023_paper.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(detailPage("First")))
	})
	mux.HandleFunc("/content/CVPR2023/html/B_Second_CVPR_2023_paper.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(detailPage("Second")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Harvest: config.HarvestConfig{
			StartYear:            2023,
			EndYear:              2023,
			GlobalConcurrency:    4,
			PerYearConcurrency:   2,
			MaxIndexPages:        4,
			LegacyIndexTemplate:  baseURL + "/legacy_{year}/",
			CurrentIndexTemplate: baseURL + "/CVPR{year}",
			LegacyUntil:          2015,
			PartialPrefix:        "partial",
		},
		Fetch: config.FetchConfig{
			UserAgent:      "cvpr-scrape2plot-test",
			RespectRobots:  true,
			TimeoutSeconds: 5,
			MaxAttempts:    2,
		},
		Cache:  config.CacheConfig{Enabled: true, Backend: "memory", Namespace: "test"},
		Output: config.OutputConfig{Backend: "memory", Format: "both"},
		PubSub: config.PubSubConfig{Topic: "cvpr-flushed"},
	}
}

func TestHarvestEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newFixtureServer(t)
	blobs := memstorage.NewBlobStore()
	pub := memory.New()
	ctx := context.Background()

	a, err := New(ctx, testConfig(srv.URL), zap.NewNop(), WithBlobStore(blobs), WithPublisher(pub))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	report, err := a.Harvest(ctx)
	require.NoError(t, err)
	require.Len(t, report.Result.Records, 2)
	require.Len(t, report.ExportURIs, 2)
	require.Empty(t, report.Result.FailedYears())

	titles := []string{report.Result.Records[0].Title, report.Result.Records[1].Title}
	assert.ElementsMatch(t, []string{"First", "Second"}, titles)

	_, ok := blobs.Object(crawler.SnapshotPath("partial", 2023))
	assert.True(t, ok)
	_, ok = blobs.Object(export.JSONName)
	assert.True(t, ok)
	_, ok = blobs.Object(export.CSVName)
	assert.True(t, ok)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "cvpr-flushed", msgs[0].Topic)

	merged, years, uris, err := a.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2023}, years)
	assert.Len(t, uris, 2)
	assert.ElementsMatch(t, report.Result.Records, merged)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/years/2023", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHarvestReportsFailedYear(t *testing.T) {
	t.Parallel()

	srv := newFixtureServer(t)
	cfg := testConfig(srv.URL)
	cfg.Harvest.StartYear = 2022
	blobs := memstorage.NewBlobStore()

	a, err := New(context.Background(), cfg, nil, WithBlobStore(blobs))
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	report, err := a.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2022}, report.Result.FailedYears())
	assert.Len(t, report.Result.Records, 2)
	_, ok := blobs.Object(crawler.SnapshotPath("partial", 2022))
	assert.False(t, ok)
}

func TestNewRejectsBadFormat(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Output.Format = "xml"
	a, err := New(context.Background(), cfg, nil, WithBlobStore(memstorage.NewBlobStore()))
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	_, err = a.Harvest(context.Background())
	require.Error(t, err)
}
