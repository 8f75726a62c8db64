package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/storage/memory"
)

func sampleRecords() []crawler.PaperRecord {
	return []crawler.PaperRecord{
		{
			Title:     "Deep Residual Learning",
			Authors:   "Kaiming He, Xiangyu Zhang",
			Abstract:  `Deeper neural networks are "more difficult" to train, so we present a residual framework.`,
			Year:      2016,
			SourceURL: "https://openaccess.thecvf.com/content_cvpr_2016/html/He_Deep_2016.html",
			PDFURL:    "https://openaccess.thecvf.com/content_cvpr_2016/papers/He_Deep_2016.pdf",
		},
		{
			Title:            "Segment Anything, Again",
			Authors:          "A. Author",
			Abstract:         "A line\nwith a newline inside, long enough to pass validation for tests.",
			Year:             2023,
			SourceURL:        "https://openaccess.thecvf.com/content/CVPR2023/html/Seg_2023.html",
			SupplementaryURL: "https://openaccess.thecvf.com/content/CVPR2023/supplemental/Seg_2023_supp.pdf",
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"json": FormatJSON, "CSV": FormatCSV, " both ": FormatBoth, "": FormatBoth} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestWriteCSVQuotesAndHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, "2016", rows[1][3])
	assert.Contains(t, rows[1][2], `"more difficult"`)
	assert.Contains(t, rows[2][2], "\n")
	assert.Equal(t, "", rows[1][6])
}

func TestWriteBothFormatsToBlobStore(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	uris, err := Write(context.Background(), blobs, "out", FormatBoth, sampleRecords())
	require.NoError(t, err)
	require.Len(t, uris, 2)

	data, ok := blobs.Object("out/" + JSONName)
	require.True(t, ok)
	var decoded []crawler.PaperRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, sampleRecords(), decoded)

	csvData, ok := blobs.Object("out/" + CSVName)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(csvData), "Title,Authors,Abstract,Year,URL,PDF_URL,Supplementary_URL\n"))
}

func TestWriteJSONOnly(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	uris, err := Write(context.Background(), blobs, "", FormatJSON, nil)
	require.NoError(t, err)
	require.Len(t, uris, 1)
	data, ok := blobs.Object(JSONName)
	require.True(t, ok)
	assert.JSONEq(t, "[]", string(data))
	_, ok = blobs.Object(CSVName)
	assert.False(t, ok)
}

func TestMergeRebuildsFromSnapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	recs := sampleRecords()
	put := func(year int, records []crawler.PaperRecord) {
		var buf bytes.Buffer
		require.NoError(t, crawler.EncodeRecords(&buf, records))
		_, err := blobs.PutObject(ctx, crawler.SnapshotPath("partial", year), "application/json", &buf)
		require.NoError(t, err)
	}
	put(2023, []crawler.PaperRecord{recs[1], recs[1]})
	put(2016, []crawler.PaperRecord{recs[0]})
	_, err := blobs.PutObject(ctx, "partial/notes.txt", "text/plain", strings.NewReader("ignored"))
	require.NoError(t, err)

	merged, years, err := Merge(ctx, blobs, "partial")
	require.NoError(t, err)
	assert.Equal(t, []int{2016, 2023}, years)
	assert.Equal(t, recs, merged)
}

func TestMergeReportsCorruptSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(ctx, "partial/cvpr_2019.json", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)

	_, _, err = Merge(ctx, blobs, "partial")
	require.ErrorContains(t, err, "cvpr_2019.json")
}
