// Package export renders the final paper collection as JSON or CSV and
// rebuilds it from per-year snapshots.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// Format selects which files Write produces.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatBoth Format = "both"
)

// File names used under the output prefix.
const (
	JSONName = "cvpr_papers.json"
	CSVName  = "cvpr_papers.csv"
)

// CSVHeader is the fixed column order.
var CSVHeader = []string{"Title", "Authors", "Abstract", "Year", "URL", "PDF_URL", "Supplementary_URL"}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatBoth:
		return f, nil
	case "":
		return FormatBoth, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, csv or both)", s)
	}
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []crawler.PaperRecord) error {
	return crawler.EncodeRecords(w, records)
}

// WriteCSV writes the header followed by one row per record.
func WriteCSV(w io.Writer, records []crawler.PaperRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Title,
			rec.Authors,
			rec.Abstract,
			strconv.Itoa(rec.Year),
			rec.SourceURL,
			rec.PDFURL,
			rec.SupplementaryURL,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Write renders records in format and stores each file under prefix. It
// returns the URIs in JSON, CSV order.
func Write(
	ctx context.Context,
	blobs crawler.BlobStore,
	prefix string,
	format Format,
	records []crawler.PaperRecord,
) ([]string, error) {
	var uris []string
	if format == FormatJSON || format == FormatBoth {
		var buf bytes.Buffer
		if err := WriteJSON(&buf, records); err != nil {
			return uris, err
		}
		uri, err := blobs.PutObject(ctx, path.Join(prefix, JSONName), "application/json", &buf)
		if err != nil {
			return uris, fmt.Errorf("store json export: %w", err)
		}
		uris = append(uris, uri)
	}
	if format == FormatCSV || format == FormatBoth {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, records); err != nil {
			return uris, err
		}
		uri, err := blobs.PutObject(ctx, path.Join(prefix, CSVName), "text/csv", &buf)
		if err != nil {
			return uris, fmt.Errorf("store csv export: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// SnapshotReader lists and opens stored snapshots.
type SnapshotReader interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

var snapshotName = regexp.MustCompile(`^cvpr_(\d{4})\.json$`)

// LoadSnapshots reads every cvpr_<year>.json under prefix, keyed by year.
// Other objects are ignored.
func LoadSnapshots(ctx context.Context, src SnapshotReader, prefix string) (map[int][]crawler.PaperRecord, error) {
	names, err := src.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make(map[int][]crawler.PaperRecord)
	for _, name := range names {
		m := snapshotName.FindStringSubmatch(path.Base(name))
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		records, err := readSnapshot(ctx, src, name)
		if err != nil {
			return nil, err
		}
		out[year] = records
	}
	return out, nil
}

func readSnapshot(ctx context.Context, src SnapshotReader, name string) ([]crawler.PaperRecord, error) {
	rc, err := src.GetObject(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	records, err := crawler.DecodeRecords(rc)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return records, nil
}

// Merge loads the snapshots under prefix and merges them in year order.
func Merge(ctx context.Context, src SnapshotReader, prefix string) ([]crawler.PaperRecord, []int, error) {
	snapshots, err := LoadSnapshots(ctx, src, prefix)
	if err != nil {
		return nil, nil, err
	}
	years := make([]int, 0, len(snapshots))
	for y := range snapshots {
		years = append(years, y)
	}
	sort.Ints(years)
	return crawler.MergeSnapshots(snapshots), years, nil
}
