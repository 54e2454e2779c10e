package features

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/landmark"
	"github.com/smilelab/canon/internal/monitoring"
)

// OutputSuffix replaces the canonical suffix on mouth output files.
const OutputSuffix = "_mouth.csv"

// ErrNotCSV is returned for inputs without a .csv extension.
var ErrNotCSV = errors.New("not a .csv file")

// FileResult is the outcome of formatting one canonical file.
type FileResult struct {
	Input  string
	Output string
	Frames int
	Err    error
}

// OutputPath names the mouth file for a canonical file: canonSuffix is
// replaced by OutputSuffix, or the extension is when canonSuffix is absent.
func OutputPath(in, canonSuffix string) string {
	var base string
	if canonSuffix != "" && strings.HasSuffix(in, canonSuffix) {
		base = strings.TrimSuffix(in, canonSuffix)
	} else {
		base = strings.TrimSuffix(in, filepath.Ext(in))
	}
	return base + OutputSuffix
}

// Read measures every non-blank row of r. All rows must share one width.
func Read(r io.Reader, name string) ([]Mouth, error) {
	sc := bufio.NewScanner(r)
	var out []Mouth
	width := -1
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		values, err := landmark.ParseValues(line)
		if err == nil && width >= 0 && len(values) != width {
			err = &landmark.ParseError{Msg: fmt.Sprintf("got %d values, earlier rows have %d", len(values), width)}
		}
		var m Mouth
		if err == nil {
			m, err = FromValues(values)
		}
		if err != nil {
			var pe *landmark.ParseError
			if errors.As(err, &pe) {
				pe.File, pe.Line = name, lineNo
			}
			return nil, err
		}
		width = len(values)
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: read: %w", name, err)
	}
	return out, nil
}

// FormatFile measures the canonical file in and writes the mouth rows next
// to it. Nothing is written when any row is malformed.
func FormatFile(fsys fsutil.FileSystem, in, canonSuffix string) FileResult {
	res := FileResult{Input: in, Output: OutputPath(in, canonSuffix)}
	if filepath.Ext(in) != ".csv" {
		res.Err = fmt.Errorf("%s: %w", in, ErrNotCSV)
		return res
	}

	f, err := fsys.Open(in)
	if err != nil {
		res.Err = fmt.Errorf("open %s: %w", in, err)
		return res
	}
	rows, err := Read(f, in)
	f.Close()
	if err != nil {
		res.Err = err
		return res
	}

	if err := writeRows(fsys, res.Output, rows); err != nil {
		res.Err = err
		return res
	}
	res.Frames = len(rows)
	monitoring.Logf("Converted %s: %d frames -> %s", in, len(rows), res.Output)
	return res
}

func writeRows(fsys fsutil.FileSystem, path string, rows []Mouth) (err error) {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(w)
	for _, m := range rows {
		if _, err := bw.WriteString(FormatLine(m)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// FormatDir runs FormatFile on every file of dir ending in canonSuffix, in
// name order. A failing file is logged and does not stop the others.
func FormatDir(fsys fsutil.FileSystem, dir, canonSuffix string) ([]FileResult, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", dir, err)
	}

	var results []FileResult
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), canonSuffix) {
			continue
		}
		res := FormatFile(fsys, filepath.Join(dir, e.Name()), canonSuffix)
		if res.Err != nil {
			monitoring.Warnf("format %s failed: %v", res.Input, res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Format formats path, which may be a single canonical file or a
// directory of them.
func Format(fsys fsutil.FileSystem, path, canonSuffix string) ([]FileResult, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FormatDir(fsys, path, canonSuffix)
	}
	res := FormatFile(fsys, path, canonSuffix)
	if res.Err != nil {
		monitoring.Warnf("format %s failed: %v", res.Input, res.Err)
	}
	return []FileResult{res}, nil
}
