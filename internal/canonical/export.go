package canonical

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/landmark"
	"github.com/smilelab/canon/internal/monitoring"
)

// ErrOutputCollision is returned for a pair whose output name was already
// written earlier in the same export, e.g. the "_s" and "_v" tracks of one
// session under a seven-character prefix.
var ErrOutputCollision = errors.New("output name already written in this run")

// Options configures an Exporter.
type Options struct {
	Target       Target
	Landmarks    Landmarks
	Markers      []string
	PrefixLength int
	OutputSuffix string
	Pairing      PairingMode
}

// DefaultOptions matches the layout produced by the query export: "_s_out"
// (speech) and "_v_out" (other) tracks, seven-character session prefixes.
func DefaultOptions() Options {
	return Options{
		Target:       DefaultTarget(),
		Landmarks:    DefaultLandmarks(),
		Markers:      []string{"_s_out.csv", "_v_out.csv"},
		PrefixLength: 7,
		OutputSuffix: "_canon.csv",
		Pairing:      PairByPosition,
	}
}

// PairResult is the outcome of exporting one file pair.
type PairResult struct {
	Pair
	InputOut  string
	GroundOut string
	Frames    int
	Warnings  []string
	Err       error
}

// OK reports whether both outputs were written.
func (r PairResult) OK() bool { return r.Err == nil }

// Summary collects the results of one directory export.
type Summary struct {
	InputDir  string
	GroundDir string
	Pairs     []PairResult
	Warnings  []string
	// Err is set when a directory could not be listed; nothing was exported.
	Err error
}

// Exported counts pairs written successfully.
func (s Summary) Exported() int {
	n := 0
	for _, p := range s.Pairs {
		if p.OK() {
			n++
		}
	}
	return n
}

// Failed counts pairs that were aborted.
func (s Summary) Failed() int { return len(s.Pairs) - s.Exported() }

// Observer receives every pair result together with the canonical frames
// that were written (nil when the pair failed).
type Observer interface {
	ObservePair(res PairResult, input, ground []landmark.Frame)
}

// Exporter converts paired directories into canonical space.
type Exporter struct {
	fs        fsutil.FileSystem
	opts      Options
	observers []Observer
}

// NewExporter creates an Exporter writing through fsys.
func NewExporter(fsys fsutil.FileSystem, opts Options, observers ...Observer) *Exporter {
	return &Exporter{fs: fsys, opts: opts, observers: observers}
}

// Export pairs the files of inputDir and groundDir and exports each pair.
// A directory that cannot be listed turns the export into a logged no-op;
// a failing pair is logged and does not stop its siblings.
func (e *Exporter) Export(inputDir, groundDir string) Summary {
	s := Summary{InputDir: inputDir, GroundDir: groundDir}

	inputs, err := ListDir(e.fs, inputDir, e.opts.OutputSuffix)
	if err != nil {
		s.Err = err
		monitoring.Warnf("export skipped: %v", err)
		return s
	}
	grounds, err := ListDir(e.fs, groundDir, e.opts.OutputSuffix)
	if err != nil {
		s.Err = err
		monitoring.Warnf("export skipped: %v", err)
		return s
	}

	monitoring.Logf("Opening in dir: %s (%d files)", inputDir, len(inputs))
	monitoring.Logf("Opening ground dir: %s (%d files)", groundDir, len(grounds))

	pairs, warnings := PairFiles(inputs, grounds, e.opts)
	for _, w := range warnings {
		monitoring.Warnf("%s", w)
	}
	s.Warnings = warnings

	// Output names written so far, mapped to the input that produced them.
	written := make(map[string]string)
	for _, p := range pairs {
		res := e.newResult(p, inputDir, groundDir)
		if first, dup := written[res.InputOut]; dup {
			res.Err = fmt.Errorf("%w: %s from %s (increase prefix_length)",
				ErrOutputCollision, filepath.Base(res.InputOut), filepath.Base(first))
			s.Warnings = append(s.Warnings, fmt.Sprintf("%s skipped: %v", filepath.Base(p.Input), res.Err))
			s.Pairs = append(s.Pairs, e.finish(res, nil, nil))
			continue
		}

		res = e.ExportPair(p, inputDir, groundDir)
		if res.OK() {
			written[res.InputOut] = p.Input
		}
		s.Pairs = append(s.Pairs, res)
	}

	monitoring.Logf("Export done: %d exported, %d failed", s.Exported(), s.Failed())
	return s
}

// ExportPair exports one pair, writing the input output into inputDir and
// the ground-truth output into groundDir. Both are named after the input.
func (e *Exporter) ExportPair(p Pair, inputDir, groundDir string) PairResult {
	res, in, gt := e.exportPair(p, inputDir, groundDir)
	return e.finish(res, in, gt)
}

// finish logs a failed result and hands it to the observers.
func (e *Exporter) finish(res PairResult, in, gt []landmark.Frame) PairResult {
	p := res.Pair
	if res.Err != nil {
		monitoring.Warnf("pair %s / %s aborted: %v", filepath.Base(p.Input), filepath.Base(p.Ground), res.Err)
	}
	for _, o := range e.observers {
		o.ObservePair(res, in, gt)
	}
	return res
}

func (e *Exporter) newResult(p Pair, inputDir, groundDir string) PairResult {
	name := OutputName(filepath.Base(p.Input), e.opts.PrefixLength, e.opts.OutputSuffix)
	return PairResult{
		Pair:      p,
		InputOut:  filepath.Join(inputDir, name),
		GroundOut: filepath.Join(groundDir, name),
	}
}

func (e *Exporter) exportPair(p Pair, inputDir, groundDir string) (PairResult, []landmark.Frame, []landmark.Frame) {
	res := e.newResult(p, inputDir, groundDir)
	monitoring.Logf("  Exporting: %s", p.Input)

	inTrack, err := landmark.LoadTrack(e.fs, p.Input)
	if err != nil {
		res.Err = err
		return res, nil, nil
	}
	gtTrack, err := landmark.LoadTrack(e.fs, p.Ground)
	if err != nil {
		res.Err = err
		return res, nil, nil
	}

	for _, l := range []landmark.Label{e.opts.Landmarks.Reference, e.opts.Landmarks.Lateral} {
		if _, err := gtTrack.Keys.Slot(l); err != nil {
			res.Err = fmt.Errorf("%s: %w", p.Ground, err)
			return res, nil, nil
		}
	}

	n := inTrack.Len()
	if gtTrack.Len() != n {
		if gtTrack.Len() < n {
			n = gtTrack.Len()
		}
		w := fmt.Sprintf("frame count mismatch: %s has %d, %s has %d; exporting %d",
			filepath.Base(p.Input), inTrack.Len(), filepath.Base(p.Ground), gtTrack.Len(), n)
		monitoring.Warnf("%s", w)
		res.Warnings = append(res.Warnings, w)
	}

	inOut := make([]landmark.Frame, n)
	gtOut := make([]landmark.Frame, n)
	for j := 0; j < n; j++ {
		in, gt, t, err := TransformFrame(inTrack.Frames[j], gtTrack.Frames[j], gtTrack.Keys, e.opts.Landmarks, e.opts.Target)
		if err != nil {
			res.Err = fmt.Errorf("%s frame %d: %w", p.Ground, j, err)
			return res, nil, nil
		}
		monitoring.Debugf("frame %d: angle=%.6f scale=%.6f", j, t.Angle, t.Scale)
		inOut[j], gtOut[j] = in, gt
	}

	if err := writeFrames(e.fs, res.InputOut, inOut); err != nil {
		res.Err = err
		return res, nil, nil
	}
	if err := writeFrames(e.fs, res.GroundOut, gtOut); err != nil {
		res.Err = err
		return res, nil, nil
	}

	res.Frames = n
	return res, inOut, gtOut
}
