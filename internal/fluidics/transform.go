package fluidics

import (
	"math"

	"evolverd/internal/config"
)

// Point2D is a 2-D coordinate, used both for quad-local vial coordinates
// (mm) and arm-frame coordinates (mm).
type Point2D struct{ X, Y float64 }

// RigidTransform is a 2-D rotation plus translation: no scale, no
// reflection. It is fit from exactly two corresponding point pairs, which
// is all the rig's two reference vials provide.
type RigidTransform struct {
	cos, sin float64
	tx, ty   float64
}

// FitRigidTransform finds the rotation+translation that carries srcA to
// dstA and srcB to dstB exactly, assuming the two source points and the
// two destination points are congruent (same distance apart) — which
// calibration is responsible for guaranteeing.
func FitRigidTransform(srcA, srcB, dstA, dstB Point2D) RigidTransform {
	sdx, sdy := srcB.X-srcA.X, srcB.Y-srcA.Y
	ddx, ddy := dstB.X-dstA.X, dstB.Y-dstA.Y

	srcAngle := math.Atan2(sdy, sdx)
	dstAngle := math.Atan2(ddy, ddx)
	theta := dstAngle - srcAngle

	cos, sin := math.Cos(theta), math.Sin(theta)
	rx := cos*srcA.X - sin*srcA.Y
	ry := sin*srcA.X + cos*srcA.Y

	return RigidTransform{cos: cos, sin: sin, tx: dstA.X - rx, ty: dstA.Y - ry}
}

// Apply maps a quad-local point into the destination frame.
func (t RigidTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.cos*p.X - t.sin*p.Y + t.tx,
		Y: t.sin*p.X + t.cos*p.Y + t.ty,
	}
}

// referenceVialA, referenceVialB are the two fixed quad-local anchor
// points calibration is fit against: vial 0 and vial 17.
var (
	referenceVialA = Point2D{X: 0, Y: 36}
	referenceVialB = Point2D{X: 90, Y: 0}
)

// StackedTransform holds the independently-fit out-plane and in-plane
// transforms for one quad, plus the z heights that go with each plane.
type StackedTransform struct {
	Out  RigidTransform
	In   RigidTransform
	ZOut float64
	ZIn  float64
}

// FitStackedTransform builds both planes' transforms from one quad's
// calibration record.
func FitStackedTransform(cal config.QuadCalibration) StackedTransform {
	outA := Point2D{X: cal.Vial0.XOut, Y: cal.Vial0.Y}
	outB := Point2D{X: cal.Vial17.XOut, Y: cal.Vial17.Y}
	inA := Point2D{X: cal.Vial0.XIn, Y: cal.Vial0.Y}
	inB := Point2D{X: cal.Vial17.XIn, Y: cal.Vial17.Y}

	return StackedTransform{
		Out:  FitRigidTransform(referenceVialA, referenceVialB, outA, outB),
		In:   FitRigidTransform(referenceVialA, referenceVialB, inA, inB),
		ZOut: cal.Vial0.ZOut,
		ZIn:  cal.Vial0.ZIn,
	}
}

// WindowCentre is the quad-local (x,y) of a window's midpoint: the mean
// of its vials' positions. Vials not found in the grid are skipped.
func WindowCentre(vials []int) Point2D {
	var sumX, sumY float64
	var n int
	for _, v := range vials {
		x, y, ok := VialPosition(v)
		if !ok {
			continue
		}
		sumX += x
		sumY += y
		n++
	}
	if n == 0 {
		return Point2D{}
	}
	return Point2D{X: sumX / float64(n), Y: sumY / float64(n)}
}

// ArmPoint is a fully resolved 3-D arm target for one window at one
// plane (above or submerged).
type ArmPoint struct {
	X, Y, Z float64
}

// Out2D resolves a quad-local point to the arm's above-vial plane.
func (t StackedTransform) Out2D(p Point2D) ArmPoint {
	a := t.Out.Apply(p)
	return ArmPoint{X: a.X, Y: a.Y, Z: t.ZOut}
}

// In2D resolves a quad-local point to the arm's submerged plane.
func (t StackedTransform) In2D(p Point2D) ArmPoint {
	a := t.In.Apply(p)
	return ArmPoint{X: a.X, Y: a.Y, Z: t.ZIn}
}
