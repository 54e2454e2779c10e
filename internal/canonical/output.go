package canonical

import (
	"strconv"
	"strings"

	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/landmark"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// FormatLine renders a frame as one output row: an optional timestamp, then
// space-separated x y pairs, newline terminated.
func FormatLine(f landmark.Frame) string {
	fields := make([]string, 0, 1+2*len(f.Points))
	if f.HasTime {
		fields = append(fields, formatFloat(f.Timestamp))
	}
	for _, p := range f.Points {
		fields = append(fields, formatFloat(p.X), formatFloat(p.Y))
	}
	return strings.Join(fields, " ") + "\n"
}

// writeFrames writes one row per frame to path. The first row creates the
// file, every later row is appended.
func writeFrames(fsys fsutil.FileSystem, path string, frames []landmark.Frame) error {
	for i, f := range frames {
		mode := fsutil.ModeAppend
		if i == 0 {
			mode = fsutil.ModeWrite
		}
		if err := fsutil.WriteLine(fsys, path, mode, FormatLine(f)); err != nil {
			return err
		}
	}
	return nil
}
