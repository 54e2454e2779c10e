// Package features derives per-frame mouth measurements from canonical
// landmark rows.
//
// A mouth row holds, after an optional timestamp, four canonical points in
// this order: left and right oral commissure, then the top and bottom of
// the dental show. Each row becomes mouth width, dental show extent and
// smile angle.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/smilelab/canon/internal/landmark"
)

// Value offsets within a mouth row, timestamp excluded.
const (
	commissureLX = iota
	commissureLY
	commissureRX
	commissureRY
	dentalTopX
	dentalTopY
	dentalBottomX
	dentalBottomY

	pointValues
)

// Mouth is the measurement set of one frame.
type Mouth struct {
	Timestamp float64
	HasTime   bool
	// Width is the horizontal distance between the oral commissures.
	Width float64
	// DentalShow is the vertical extent of the visible teeth.
	DentalShow float64
	// SmileAngle is the angle in radians of the left commissure seen from
	// the bottom of the dental show.
	SmileAngle float64
}

// FromValues measures one row of 8 values, or 9 with a leading timestamp.
func FromValues(values []float64) (Mouth, error) {
	var m Mouth
	switch len(values) {
	case pointValues:
	case pointValues + 1:
		m.Timestamp, m.HasTime = values[0], true
		values = values[1:]
	default:
		return Mouth{}, &landmark.ParseError{
			Msg: fmt.Sprintf("got %d values, want %d or %d", len(values), pointValues, pointValues+1),
		}
	}

	m.Width = math.Abs(values[commissureLX] - values[commissureRX])
	m.DentalShow = math.Abs(values[dentalTopY] - values[dentalBottomY])
	m.SmileAngle = math.Atan2(
		values[commissureLY]-values[dentalBottomY],
		values[commissureLX]-values[dentalBottomX])
	return m, nil
}

// FormatLine renders m as a space-delimited row with six decimals, led by
// the timestamp when the source row had one.
func FormatLine(m Mouth) string {
	fields := make([]string, 0, 4)
	if m.HasTime {
		fields = append(fields, formatFloat(m.Timestamp))
	}
	fields = append(fields, formatFloat(m.Width), formatFloat(m.DentalShow), formatFloat(m.SmileAngle))
	return strings.Join(fields, " ") + "\n"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
