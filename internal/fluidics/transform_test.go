package fluidics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"evolverd/internal/config"
)

func assertPointClose(t *testing.T, want, got Point2D) {
	t.Helper()
	const tol = 1e-9
	assert.InDelta(t, want.X, got.X, tol)
	assert.InDelta(t, want.Y, got.Y, tol)
}

func TestFitRigidTransform_MapsReferencePointsExactly(t *testing.T) {
	srcA := Point2D{X: 0, Y: 36}
	srcB := Point2D{X: 90, Y: 0}
	dstA := Point2D{X: 120, Y: 50}
	dstB := Point2D{X: 120 + 90*math.Cos(0.2) + 36*math.Sin(0.2), Y: 50 + 90*math.Sin(0.2) - 36*math.Cos(0.2)} // srcB-srcA rotated by 0.2 rad: congruent

	transform := FitRigidTransform(srcA, srcB, dstA, dstB)

	assertPointClose(t, dstA, transform.Apply(srcA))
	assertPointClose(t, dstB, transform.Apply(srcB))
}

func TestFitRigidTransform_IdentityWhenFramesAlign(t *testing.T) {
	srcA := Point2D{X: 0, Y: 36}
	srcB := Point2D{X: 90, Y: 0}

	transform := FitRigidTransform(srcA, srcB, srcA, srcB)

	midpoint := Point2D{X: 45, Y: 18}
	assertPointClose(t, midpoint, transform.Apply(midpoint))
}

func TestFitStackedTransform_OutAndInPlanesIndependentlyCalibrated(t *testing.T) {
	cal := config.QuadCalibration{
		Vial0:  config.StationCalibration{XOut: 100, XIn: 105, Y: 50, ZOut: 40, ZIn: 10},
		Vial17: config.StationCalibration{XOut: 190, XIn: 195, Y: 14, ZOut: 40, ZIn: 10},
	}

	st := FitStackedTransform(cal)

	outA := st.Out.Apply(referenceVialA)
	assertPointClose(t, Point2D{X: 100, Y: 50}, outA)

	inA := st.In.Apply(referenceVialA)
	assertPointClose(t, Point2D{X: 105, Y: 50}, inA)

	assert.Equal(t, 40.0, st.ZOut)
	assert.Equal(t, 10.0, st.ZIn)
}

func TestWindowCentre_AveragesVialPositions(t *testing.T) {
	centre := WindowCentre([]int{0, 1})
	x0, y0, _ := VialPosition(0)
	x1, y1, _ := VialPosition(1)
	assertPointClose(t, Point2D{X: (x0 + x1) / 2, Y: (y0 + y1) / 2}, centre)
}
