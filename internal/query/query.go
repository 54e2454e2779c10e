// Package query extracts a subset of columns from raw landmark CSV exports.
//
// A query file lists one label fragment per line. Every header column whose
// label contains a fragment is kept; the result is written in the layout the
// canonical exporter reads: a comma-delimited header followed by
// space-delimited data rows.
package query

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/monitoring"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// OutputSuffix is appended to the input stem to name an extracted file.
const OutputSuffix = "_out.csv"

// ErrNoQueries is returned when an export is attempted without queries.
var ErrNoQueries = errors.New("no queries provided")

// ErrShortRow is returned when a data row lacks a selected column.
var ErrShortRow = errors.New("row shorter than selected columns")

// Table is an extracted header and its data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadQueries reads one query per non-blank line of path.
func ReadQueries(fsys fsutil.FileSystem, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query file %s: %w", path, err)
	}
	defer f.Close()

	var queries []string
	sc := bufio.NewScanner(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	for sc.Scan() {
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		monitoring.Logf("  Query: %s", q)
		queries = append(queries, q)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read query file %s: %w", path, err)
	}
	return queries, nil
}

// Select returns, in column order, the indices of header labels that contain
// any of queries. A column matching several queries is selected once.
func Select(header, queries []string) []int {
	var idx []int
	for i, label := range header {
		for _, q := range queries {
			if strings.Contains(label, q) {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return cr
}

// Extract reads a comma-delimited CSV and keeps only the columns selected by
// queries. The first record is the header.
func Extract(r io.Reader, queries []string) (Table, error) {
	var t Table
	cr := newReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return t, errors.New("empty input: no header row")
	}
	if err != nil {
		return t, fmt.Errorf("read header: %w", err)
	}

	idx := Select(header, queries)
	t.Header = pick(header, idx)

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, fmt.Errorf("read row: %w", err)
		}
		if len(idx) > 0 && idx[len(idx)-1] >= len(rec) {
			line, _ := cr.FieldPos(0)
			return t, fmt.Errorf("line %d: %w: %d fields, column %d selected",
				line, ErrShortRow, len(rec), idx[len(idx)-1])
		}
		t.Rows = append(t.Rows, pick(rec, idx))
	}

	return t, nil
}

func pick(rec []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = strings.TrimSpace(rec[j])
	}
	return out
}

// WriteTable writes t with a comma-delimited header and space-delimited rows.
func WriteTable(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, strings.Join(t.Header, ",")); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintln(bw, strings.Join(row, " ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPath returns where the extraction of in is written inside outDir.
func OutputPath(in, outDir string) string {
	return filepath.Join(outDir, Stem(in)+OutputSuffix)
}
