package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

const currentDetailPage = `<html><head><title>CVPR 2023 Open Access Repository</title></head>
<body>
<div id="content">
  <div id="papertitle">
    Learning Rich Features for Dense Prediction
  </div>
  <div id="authors"><br><b><i>Ada Lovelace, Alan Turing</i></b>; Proceedings of the IEEE/CVF Conference, 2023, pp. 1-10</div>
  <div id="abstract">
    We study dense prediction with a new feature pyramid that keeps fine spatial detail while growing the receptive field.
  </div>
  <dd>
    [<a href="/content/CVPR2023/papers/Lovelace_Learning_CVPR_2023_paper.pdf">pdf</a>]
    [<a href="/content/CVPR2023/supplemental/Lovelace_Learning_CVPR_2023_supplemental.pdf">supp</a>]
  </dd>
</div>
</body></html>`

const legacyDetailPage = `<html><head><title>CVPR 2016 Open Access Repository</title></head>
<body>
<h1>Deep Residual Learning for Image Recognition - CVPR 2016</h1>
<p><i>Kaiming He, Xiangyu Zhang, Shaoqing Ren, Jian Sun</i></p>
<div class="paper-abstract">Abstract: Deeper neural networks are more difficult to train. We present a residual learning framework to ease the training of networks.</div>
<a href="He_Deep_Residual_Learning_CVPR_2016_supplemental.pdf">Supplementary material</a>
<a href="../papers/He_Deep_Residual_Learning_CVPR_2016_paper.pdf">PDF</a>
</body></html>`

func TestExtractCurrentLayout(t *testing.T) {
	t.Parallel()

	ex := New()
	source := "https://openaccess.thecvf.com/content/CVPR2023/html/Lovelace_Learning_CVPR_2023_paper.html"
	recs, err := ex.Extract([]byte(currentDetailPage), 2023, source)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "Learning Rich Features for Dense Prediction", rec.Title)
	assert.Equal(t, "Ada Lovelace, Alan Turing", rec.Authors)
	assert.True(t, strings.HasPrefix(rec.Abstract, "We study dense prediction"))
	assert.Equal(t, 2023, rec.Year)
	assert.Equal(t, source, rec.SourceURL)
	assert.Equal(t, "https://openaccess.thecvf.com/content/CVPR2023/papers/Lovelace_Learning_CVPR_2023_paper.pdf", rec.PDFURL)
	assert.Equal(t, "https://openaccess.thecvf.com/content/CVPR2023/supplemental/Lovelace_Learning_CVPR_2023_supplemental.pdf", rec.SupplementaryURL)

	name, err := ex.Layout([]byte(currentDetailPage))
	require.NoError(t, err)
	assert.Equal(t, "current", name)
}

func TestExtractLegacyLayout(t *testing.T) {
	t.Parallel()

	ex := New()
	source := "http://www.cv-foundation.org/openaccess/content_cvpr_2016/html/He_Deep_Residual_Learning_CVPR_2016_paper.html"
	recs, err := ex.Extract([]byte(legacyDetailPage), 2016, source)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "Deep Residual Learning for Image Recognition", rec.Title)
	assert.Equal(t, "Kaiming He, Xiangyu Zhang, Shaoqing Ren, Jian Sun", rec.Authors)
	assert.True(t, strings.HasPrefix(rec.Abstract, "Deeper neural networks"), rec.Abstract)
	assert.Equal(t,
		"http://www.cv-foundation.org/openaccess/content_cvpr_2016/papers/He_Deep_Residual_Learning_CVPR_2016_paper.pdf",
		rec.PDFURL)
	assert.Equal(t,
		"http://www.cv-foundation.org/openaccess/content_cvpr_2016/html/He_Deep_Residual_Learning_CVPR_2016_supplemental.pdf",
		rec.SupplementaryURL)

	name, err := ex.Layout([]byte(legacyDetailPage))
	require.NoError(t, err)
	assert.Equal(t, "legacy", name)
}

func TestExtractLegacyParagraphFallback(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Convolutional networks learn hierarchical features. ", 6)
	page := `<html><body><div class="paper-title">A Study of Features</div>
<p>Short intro.</p><p>` + long + `</p></body></html>`
	recs, err := New().Extract([]byte(page), 2015, "http://example.org/a_paper.html")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, strings.TrimSpace(long), recs[0].Abstract)
	assert.Empty(t, recs[0].Authors)
}

func TestExtractLegacyAbstractCountsCharacters(t *testing.T) {
	t.Parallel()

	// 30 characters but 90 bytes: too short for a valid record.
	short := strings.Repeat("特征", 15)
	long := "We learn compact features from unlabeled video and evaluate them on detection benchmarks."
	page := `<html><body><h1>Feature Learning from Video - CVPR 2015</h1>
<div class="abstract">` + short + `</div>
<div class="paper-abstract">` + long + `</div></body></html>`
	source := "http://www.cv-foundation.org/openaccess/content_cvpr_2015/html/a_paper.html"

	recs, err := New().Extract([]byte(page), 2015, source)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, long, recs[0].Abstract)
	assert.NoError(t, crawler.Validate(recs[0]))

	// A long non-ASCII abstract is taken from the first selector.
	cjk := strings.Repeat("深度学习", 20)
	page = `<html><body><h1>Feature Learning from Video - CVPR 2015</h1>
<div class="abstract">` + cjk + `</div>
<div class="paper-abstract">` + long + `</div></body></html>`
	recs, err = New().Extract([]byte(page), 2015, source)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, cjk, recs[0].Abstract)
	assert.NoError(t, crawler.Validate(recs[0]))
}

func TestExtractShortAbstractStillReturned(t *testing.T) {
	t.Parallel()

	page := `<html><body><div id="papertitle">Tiny</div><div id="abstract">Too short.</div></body></html>`
	recs, err := New().Extract([]byte(page), 2020, "https://example.org/x.html")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Too short.", recs[0].Abstract)
}

func TestExtractUnrecognizedLayout(t *testing.T) {
	t.Parallel()

	_, err := New().Extract([]byte(`<html><body><div>nothing here</div></body></html>`), 2020, "https://example.org/x.html")
	require.Error(t, err)
	var perr *crawler.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, crawler.LayoutUnrecognized, perr.Kind)
}

func TestExtractTitleMissing(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>CVPR 2016 Open Access Repository</title></head><body></body></html>`
	_, err := New().Extract([]byte(page), 2016, "https://example.org/x.html")
	var perr *crawler.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, crawler.FieldMissing, perr.Kind)
	assert.Equal(t, "title", perr.Field)
}

func TestCleanTitle(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  Going   Deeper\nwith Convolutions ": "Going Deeper with Convolutions",
		"Fast R-CNN (CVPR 2015)":              "Fast R-CNN",
		"Mask Scoring R-CNN - CVPR 2019":      "Mask Scoring R-CNN",
		"CVPR 2016 Open Access Repository":    "",
		"Plain Title":                         "Plain Title",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanTitle(in), in)
	}
}

func TestJoinAuthors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A, B, C", JoinAuthors("A,  B", " and C"))
	assert.Equal(t, "A, B", JoinAuthors("A; B;"))
	assert.Empty(t, JoinAuthors("", " , "))
}
