// Package canonical maps paired landmark tracks into a shared canonical
// frame: each frame is translated, rotated and scaled so that two reference
// landmarks of the ground truth land on a fixed position and distance.
package canonical

import (
	"errors"
	"fmt"
	"math"

	"github.com/smilelab/canon/internal/landmark"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
)

// Default landmark labels anchoring the transform.
const (
	DefaultReferenceLabel landmark.Label = "Lateral canthus (R) x"
	DefaultLateralLabel   landmark.Label = "Lateral canthus (L) x"
)

// ErrDegenerateGeometry is returned when the reference and lateral
// landmarks coincide, leaving rotation and scale undefined.
var ErrDegenerateGeometry = errors.New("degenerate landmark geometry")

// GeometryError reports a frame whose anchors cannot define a transform.
type GeometryError struct {
	Reference landmark.Label
	Lateral   landmark.Label
	Distance  float64
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%v: distance between %q and %q is %g",
		ErrDegenerateGeometry, string(e.Reference), string(e.Lateral), e.Distance)
}

func (e *GeometryError) Unwrap() error { return ErrDegenerateGeometry }

// Target is the canonical space every frame is mapped into.
type Target struct {
	IrisPosition r2.Vec
	IrisDistance float64
}

// DefaultTarget places the reference landmark at the origin with unit
// reference-to-lateral distance.
func DefaultTarget() Target {
	return Target{IrisDistance: 1}
}

// Landmarks names the x-column labels of the two anchor landmarks.
type Landmarks struct {
	Reference landmark.Label
	Lateral   landmark.Label
}

// DefaultLandmarks anchors on the two lateral canthi.
func DefaultLandmarks() Landmarks {
	return Landmarks{Reference: DefaultReferenceLabel, Lateral: DefaultLateralLabel}
}

// RigidTransform is the per-frame normalization: translate by Translation,
// rotate by -Angle, scale by Scale, then shift by Offset.
type RigidTransform struct {
	Translation r2.Vec
	Angle       float64
	Scale       float64
	Offset      r2.Vec
}

// Identity returns the transform that leaves points unchanged.
func Identity() RigidTransform {
	return RigidTransform{Scale: 1}
}

func (t RigidTransform) rotation() r2.Rotation {
	return r2.NewRotation(-t.Angle, r2.Vec{})
}

// Apply maps one point.
func (t RigidTransform) Apply(p r2.Vec) r2.Vec {
	p = r2.Add(p, t.Translation)
	p = t.rotation().Rotate(p)
	p = r2.Scale(t.Scale, p)
	return r2.Add(p, t.Offset)
}

// Matrix returns the composed transform as a 3x3 homogeneous matrix.
func (t RigidTransform) Matrix() *mat.Dense {
	c, s := math.Cos(-t.Angle), math.Sin(-t.Angle)
	a, b := t.Scale*c, -t.Scale*s
	d, e := t.Scale*s, t.Scale*c
	tx := a*t.Translation.X + b*t.Translation.Y + t.Offset.X
	ty := d*t.Translation.X + e*t.Translation.Y + t.Offset.Y
	return mat.NewDense(3, 3, []float64{
		a, b, tx,
		d, e, ty,
		0, 0, 1,
	})
}

// ApplyAll maps points through the homogeneous matrix and returns a new
// slice of the same length.
func (t RigidTransform) ApplyAll(points []r2.Vec) []r2.Vec {
	out := make([]r2.Vec, len(points))
	if len(points) == 0 {
		return out
	}

	h := mat.NewDense(3, len(points), nil)
	for i, p := range points {
		h.Set(0, i, p.X)
		h.Set(1, i, p.Y)
		h.Set(2, i, 1)
	}

	var res mat.Dense
	res.Mul(t.Matrix(), h)
	for i := range out {
		out[i] = r2.Vec{X: res.At(0, i), Y: res.At(1, i)}
	}
	return out
}

// anchor returns the point for label in f.
func anchor(f landmark.Frame, keys *landmark.KeyMap, label landmark.Label) (r2.Vec, error) {
	idx, err := keys.PointIndex(label)
	if err != nil {
		return r2.Vec{}, err
	}
	if idx >= len(f.Points) {
		return r2.Vec{}, &landmark.KeyError{
			Label: label,
			Err:   fmt.Errorf("point %d outside frame of %d points", idx, len(f.Points)),
		}
	}
	return f.Points[idx], nil
}

// Derive computes the transform for one ground-truth frame. It depends only
// on that frame; nothing is carried between frames.
func Derive(ground landmark.Frame, keys *landmark.KeyMap, lm Landmarks, target Target) (RigidTransform, error) {
	ref, err := anchor(ground, keys, lm.Reference)
	if err != nil {
		return RigidTransform{}, err
	}
	lat, err := anchor(ground, keys, lm.Lateral)
	if err != nil {
		return RigidTransform{}, err
	}

	t := RigidTransform{Translation: r2.Scale(-1, ref), Scale: 1}

	movedLat := r2.Add(lat, t.Translation)
	t.Angle = math.Atan2(movedLat.Y, movedLat.X)

	rot := t.rotation()
	measured := r2.Norm(r2.Sub(rot.Rotate(r2.Add(ref, t.Translation)), rot.Rotate(movedLat)))
	if measured == 0 || math.IsNaN(measured) || math.IsInf(measured, 0) {
		return RigidTransform{}, &GeometryError{Reference: lm.Reference, Lateral: lm.Lateral, Distance: measured}
	}

	t.Scale = target.IrisDistance / measured
	if math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) {
		return RigidTransform{}, &GeometryError{Reference: lm.Reference, Lateral: lm.Lateral, Distance: measured}
	}
	t.Offset = target.IrisPosition

	return t, nil
}

// TransformFrame derives the transform from ground and applies it to both
// frames. The inputs are not modified; timestamps are carried over.
func TransformFrame(input, ground landmark.Frame, keys *landmark.KeyMap, lm Landmarks, target Target) (landmark.Frame, landmark.Frame, RigidTransform, error) {
	t, err := Derive(ground, keys, lm, target)
	if err != nil {
		return landmark.Frame{}, landmark.Frame{}, RigidTransform{}, err
	}

	in := input
	in.Points = t.ApplyAll(input.Points)
	gt := ground
	gt.Points = t.ApplyAll(ground.Points)

	return in, gt, t, nil
}
