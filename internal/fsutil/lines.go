package fsutil

import (
	"fmt"
	"io"
)

// Mode selects how WriteLine opens its target.
type Mode int

const (
	// ModeWrite creates the file, truncating any previous contents.
	ModeWrite Mode = iota
	// ModeAppend appends to the file, creating it when missing.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// OpenWriter opens name for writing in the given mode.
func OpenWriter(fsys FileSystem, name string, mode Mode) (io.WriteCloser, error) {
	switch mode {
	case ModeWrite:
		return fsys.Create(name)
	case ModeAppend:
		return fsys.Append(name)
	default:
		return nil, fmt.Errorf("unsupported write mode %v for %s", mode, name)
	}
}

// WriteLine opens name in the given mode, writes text and closes the file.
// The handle is released on every return path; a close error is reported
// when the write itself succeeded.
func WriteLine(fsys FileSystem, name string, mode Mode, text string) (err error) {
	w, err := OpenWriter(fsys, name, mode)
	if err != nil {
		return fmt.Errorf("open %s (%v): %w", name, mode, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", name, cerr)
		}
	}()

	if _, err := io.WriteString(w, text); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
