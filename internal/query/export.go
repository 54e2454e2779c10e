package query

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/monitoring"
)

// FileResult is the outcome of extracting one input file.
type FileResult struct {
	Input   string
	Output  string
	Columns int
	Rows    int
	Err     error
}

// ExportFile extracts the queried columns of in and writes them to
// outDir/<stem>_out.csv, replacing any previous output. outDir is created
// when missing.
func ExportFile(fsys fsutil.FileSystem, in, outDir string, queries []string) FileResult {
	res := FileResult{Input: in, Output: OutputPath(in, outDir)}
	if len(queries) == 0 {
		res.Err = ErrNoQueries
		return res
	}

	monitoring.Logf("Input csv:  %s", in)
	monitoring.Logf("Output csv: %s", res.Output)

	t, err := extractFile(fsys, in, queries)
	if err != nil {
		res.Err = err
		return res
	}
	if len(t.Header) == 0 {
		monitoring.Warnf("%s: no column matched any query", in)
	}

	if err := writeFile(fsys, res.Output, t); err != nil {
		res.Err = err
		return res
	}

	res.Columns, res.Rows = len(t.Header), len(t.Rows)
	return res
}

func extractFile(fsys fsutil.FileSystem, path string, queries []string) (Table, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Extract(f, queries)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func writeFile(fsys fsutil.FileSystem, path string, t Table) (err error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := WriteTable(w, t); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ExportDir runs ExportFile for every regular file in dir, in name order.
// Files that already carry the output suffix are skipped so reruns do not
// extract their own results. A failing file is logged and does not stop
// the others.
func ExportDir(fsys fsutil.FileSystem, dir, outDir string, queries []string) ([]FileResult, error) {
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", dir, err)
	}

	monitoring.Logf("Input dir:  %s", dir)
	var results []FileResult
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), OutputSuffix) {
			continue
		}
		res := ExportFile(fsys, filepath.Join(dir, e.Name()), outDir, queries)
		if res.Err != nil {
			monitoring.Warnf("extract %s failed: %v", res.Input, res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}
