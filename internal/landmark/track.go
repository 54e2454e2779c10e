package landmark

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/smilelab/canon/internal/fsutil"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gonum.org/v1/gonum/spatial/r2"
)

// HeaderDelim separates header labels.
const HeaderDelim = ","

// maxLineBytes bounds a single CSV line.
const maxLineBytes = 16 * 1024 * 1024

var (
	// ErrMalformedField is returned when a numeric field cannot be parsed.
	ErrMalformedField = errors.New("malformed numeric field")
	// ErrOpen is returned when a track file cannot be opened.
	ErrOpen = errors.New("cannot open track")
)

// ParseError locates a malformed data row.
type ParseError struct {
	File   string
	Line   int
	Column int // zero-based value index within the row
	Field  string
	Msg    string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(":")
	}
	fmt.Fprintf(&b, "%d: ", e.Line)
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		fmt.Fprintf(&b, "value %d %q", e.Column, e.Field)
	}
	b.WriteString(": ")
	b.WriteString(ErrMalformedField.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error { return ErrMalformedField }

// Frame is one row of a track.
type Frame struct {
	Timestamp float64
	HasTime   bool
	Points    []r2.Vec
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := f
	out.Points = append([]r2.Vec(nil), f.Points...)
	return out
}

// Track is a parsed landmark file.
type Track struct {
	Name   string
	Keys   *KeyMap
	Frames []Frame
}

// Len is the number of frames.
func (t *Track) Len() int { return len(t.Frames) }

// HasTime reports whether frames carry timestamps.
func (t *Track) HasTime() bool { return t.Keys != nil && t.Keys.HasTime() }

// Point returns the point for label in the given frame.
func (t *Track) Point(frame int, label Label) (r2.Vec, error) {
	idx, err := t.Keys.PointIndex(label)
	if err != nil {
		return r2.Vec{}, t.annotate(err)
	}
	if frame < 0 || frame >= len(t.Frames) {
		return r2.Vec{}, fmt.Errorf("%s: frame %d out of range [0,%d)", t.Name, frame, len(t.Frames))
	}
	pts := t.Frames[frame].Points
	if idx >= len(pts) {
		return r2.Vec{}, &KeyError{File: t.Name, Label: label, Err: fmt.Errorf("point %d outside frame of %d points", idx, len(pts))}
	}
	return pts[idx], nil
}

func (t *Track) annotate(err error) error {
	var ke *KeyError
	if errors.As(err, &ke) && ke.File == "" {
		ke.File = t.Name
	}
	return err
}

// isDelim reports whether c terminates a numeric value in a data row.
func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', ',', ';', '\r', '\n':
		return true
	}
	return false
}

// scanValues reads successive numeric literals from line. Delimiters only
// terminate values; a run of non-delimiters that is not a float is an error.
func scanValues(line string) ([]float64, *ParseError) {
	var values []float64
	i := 0
	for {
		for i < len(line) && isDelim(line[i]) {
			i++
		}
		if i >= len(line) {
			return values, nil
		}
		start := i
		for i < len(line) && !isDelim(line[i]) {
			i++
		}
		field := line[start:i]
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return values, &ParseError{Column: len(values), Field: field}
		}
		values = append(values, v)
	}
}

// ParseValues parses a headerless data row into its numeric values using
// the same terminators as ParseRow.
func ParseValues(line string) ([]float64, error) {
	values, perr := scanValues(line)
	if perr != nil {
		return nil, perr
	}
	return values, nil
}

// ParseRow parses one data row against keys.
func ParseRow(line string, keys *KeyMap) (Frame, error) {
	values, perr := scanValues(line)
	if perr != nil {
		return Frame{}, perr
	}

	n := keys.PointCount()
	want := 2 * n
	if keys.HasTime() {
		want++
	}
	if len(values) != want {
		return Frame{}, &ParseError{Msg: fmt.Sprintf("got %d values, want %d", len(values), want)}
	}

	f := Frame{HasTime: keys.HasTime(), Points: make([]r2.Vec, n)}
	if f.HasTime {
		f.Timestamp = values[0]
		values = values[1:]
	}
	for i := range f.Points {
		f.Points[i] = r2.Vec{X: values[2*i], Y: values[2*i+1]}
	}
	return f, nil
}

// ReadTrack parses a whole track. The first non-blank line is the header;
// blank lines after it are skipped.
func ReadTrack(r io.Reader, name string) (*Track, error) {
	sc := bufio.NewScanner(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	t := &Track{Name: name}
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if t.Keys == nil {
			keys, err := ParseHeader(line, HeaderDelim)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: header: %w", name, lineNo, err)
			}
			t.Keys = keys
			continue
		}

		f, err := ParseRow(line, t.Keys)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.File = name
				pe.Line = lineNo
			}
			return nil, err
		}
		t.Frames = append(t.Frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: read: %w", name, err)
	}
	if t.Keys == nil {
		return nil, fmt.Errorf("%s: no header row", name)
	}

	return t, nil
}

// LoadTrack opens path through fsys and parses it.
func LoadTrack(fsys fsutil.FileSystem, path string) (*Track, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpen, path, err)
	}
	defer f.Close()

	return ReadTrack(f, path)
}
