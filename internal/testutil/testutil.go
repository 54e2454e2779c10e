// Package testutil provides shared test utilities and fixtures.
//
// This package centralises landmark CSV fixtures so that parser, exporter
// and CLI tests describe tracks the same way.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/smilelab/canon/internal/fsutil"
)

// EyeLabels is a small landmark layout: both lateral canthi and a nose tip.
var EyeLabels = []string{"Lateral canthus (R)", "Lateral canthus (L)", "Nose tip"}

// Header builds a comma-delimited header with an x and y column per
// landmark, optionally led by a time column.
func Header(withTime bool, landmarks ...string) string {
	cols := make([]string, 0, 1+2*len(landmarks))
	if withTime {
		cols = append(cols, "time")
	}
	for _, l := range landmarks {
		cols = append(cols, l+" x", l+" y")
	}
	return strings.Join(cols, ",")
}

// Row formats values as a space-delimited data row.
func Row(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(parts, " ")
}

// TrackCSV joins a header and rows into file contents.
func TrackCSV(header string, rows ...string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(r)
		b.WriteString("\n")
	}
	return b.String()
}

// WriteFixture stores content at path in fsys, failing the test on error.
func WriteFixture(t *testing.T, fsys fsutil.FileSystem, path, content string) {
	t.Helper()
	if err := fsys.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}

// Lines splits file contents into lines, dropping the final newline.
func Lines(data []byte) []string {
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
