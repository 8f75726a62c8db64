package crawler

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
)

// SnapshotPath is the blob path of a year's partial snapshot.
func SnapshotPath(prefix string, year int) string {
	return path.Join(prefix, fmt.Sprintf("cvpr_%d.json", year))
}

// EncodeRecords writes records as an indented JSON array. A nil slice is
// written as [] so every snapshot is loadable on its own.
func EncodeRecords(w io.Writer, records []PaperRecord) error {
	if records == nil {
		records = []PaperRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}

// DecodeRecords reads a JSON array written by EncodeRecords.
func DecodeRecords(r io.Reader) ([]PaperRecord, error) {
	var records []PaperRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// MergeSnapshots combines per-year snapshots into one ordered collection.
// Years are emitted ascending; within a year the snapshot order is kept and
// repeated SourceURLs are dropped (first wins).
func MergeSnapshots(snapshots map[int][]PaperRecord) []PaperRecord {
	years := make([]int, 0, len(snapshots))
	for y := range snapshots {
		years = append(years, y)
	}
	sort.Ints(years)
	var out []PaperRecord
	for _, y := range years {
		seen := make(map[string]struct{}, len(snapshots[y]))
		for _, rec := range snapshots[y] {
			key, err := NormalizeURL(rec.SourceURL)
			if err != nil {
				key = rec.SourceURL
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}
