// Package landmark parses landmark track CSV files: a labelled header row
// followed by rows of x,y coordinate pairs, optionally led by a time column.
package landmark

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// timeMarker identifies the optional leading time column (case-sensitive).
const timeMarker = "time"

// ErrMissingKey is returned when a landmark label is absent from a header.
var ErrMissingKey = errors.New("landmark key not found")

// Label is a column label such as "Lateral canthus (R) x".
type Label string

// KeyError reports a label that a file does not provide, or that points
// outside the frame it is used with.
type KeyError struct {
	File  string
	Label Label
	Err   error
}

func (e *KeyError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%q: %v", string(e.Label), e.Err)
	}
	return fmt.Sprintf("%s: %q: %v", e.File, string(e.Label), e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// KeyMap maps column labels to slots for one file. It is built from that
// file's header and is not modified afterwards.
//
// Slots are raw column positions with the time column removed, so the x
// column of the n-th landmark has slot 2n and its y column 2n+1.
type KeyMap struct {
	slots   map[Label]int
	columns int
	hasTime bool
}

// ParseHeader tokenizes a header line on delim and assigns a slot to every
// non-time label. A time column, when present, must be the first column.
func ParseHeader(line, delim string) (*KeyMap, error) {
	line = strings.TrimPrefix(line, "\ufeff")
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, errors.New("empty header")
	}

	tokens := strings.Split(line, delim)
	km := &KeyMap{
		slots:   make(map[Label]int, len(tokens)),
		columns: len(tokens),
	}

	offset := 0
	for i, tok := range tokens {
		label := Label(strings.TrimSpace(tok))
		if strings.Contains(string(label), timeMarker) {
			if i != 0 {
				return nil, fmt.Errorf("time column %q at position %d, must be first", label, i)
			}
			km.hasTime = true
			offset = 1
			continue
		}
		if _, dup := km.slots[label]; dup {
			return nil, fmt.Errorf("duplicate column label %q", label)
		}
		km.slots[label] = i - offset
	}

	return km, nil
}

// HasTime reports whether the header carried a time column.
func (k *KeyMap) HasTime() bool { return k.hasTime }

// Columns is the number of header tokens, time column included.
func (k *KeyMap) Columns() int { return k.columns }

// PointCount is the number of 2D points each row holds.
func (k *KeyMap) PointCount() int {
	if k.hasTime {
		return (k.columns - 1) / 2
	}
	return k.columns / 2
}

// Slot returns the raw slot of label.
func (k *KeyMap) Slot(label Label) (int, error) {
	slot, ok := k.slots[label]
	if !ok {
		return 0, &KeyError{Label: label, Err: ErrMissingKey}
	}
	return slot, nil
}

// PointIndex returns the index of the point whose column is label.
func (k *KeyMap) PointIndex(label Label) (int, error) {
	slot, err := k.Slot(label)
	if err != nil {
		return 0, err
	}
	return slot / 2, nil
}

// Has reports whether label is present.
func (k *KeyMap) Has(label Label) bool {
	_, ok := k.slots[label]
	return ok
}

// Labels returns all non-time labels in column order.
func (k *KeyMap) Labels() []Label {
	out := make([]Label, 0, len(k.slots))
	for l := range k.slots {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return k.slots[out[i]] < k.slots[out[j]] })
	return out
}
