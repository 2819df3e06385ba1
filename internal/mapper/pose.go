package mapper

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/landmarks"
)

// Degrees per unit of normalized landmark offset.
const (
	yawDegrees   = 100.0
	pitchDegrees = 100.0
)

// minFaceSpan guards the pitch ratio against a collapsed forehead-chin span.
const minFaceSpan = 1e-6

// poseAnchors are the five landmarks head pose is estimated from.
type poseAnchors struct {
	nose, leftEye, rightEye, chin, forehead mgl64.Vec2
}

func findAnchors(f *landmarks.Frame) (poseAnchors, bool) {
	var a poseAnchors
	for _, want := range []struct {
		idx int
		dst *mgl64.Vec2
	}{
		{landmarks.NoseTip, &a.nose},
		{landmarks.LeftEyeInner, &a.leftEye},
		{landmarks.RightEyeInner, &a.rightEye},
		{landmarks.Chin, &a.chin},
		{landmarks.Forehead, &a.forehead},
	} {
		p, ok := f.Landmark(want.idx)
		if !ok {
			return poseAnchors{}, false
		}
		*want.dst = p.Vec2()
	}
	return a, true
}

// estimateRotation returns pitch (X), yaw (Y) and roll (Z) in degrees, or a
// zero rotation when any anchor is missing. scale applies to yaw and pitch.
func estimateRotation(f *landmarks.Frame, scale float64) character.Vec3 {
	a, ok := findAnchors(f)
	if !ok {
		return character.Vec3{}
	}

	eyeCenter := a.leftEye.Add(a.rightEye).Mul(0.5)
	yaw := (a.nose.X() - eyeCenter.X()) * scale * yawDegrees

	var pitch float64
	if span := a.chin.Y() - a.forehead.Y(); math.Abs(span) > minFaceSpan {
		ratio := (a.nose.Y() - a.forehead.Y()) / span
		pitch = (ratio - 0.5) * scale * pitchDegrees
	}

	eyeLine := a.rightEye.Sub(a.leftEye)
	roll := mgl64.RadToDeg(math.Atan2(eyeLine.Y(), eyeLine.X()))

	return character.Vec3{
		X: finiteOrZero(pitch),
		Y: finiteOrZero(yaw),
		Z: finiteOrZero(roll),
	}
}

// Position is a head translation estimate in a signed range centred on the
// image middle.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// untrackedPosition is reported when the nose tip is missing.
var untrackedPosition = Position{X: 0.5, Y: 0.5}

func estimatePosition(f *landmarks.Frame, sensitivity float64) (Position, bool) {
	nose, ok := f.Landmark(landmarks.NoseTip)
	if !ok {
		return untrackedPosition, false
	}
	centred := nose.Vec2().Sub(mgl64.Vec2{0.5, 0.5}).Mul(2 * sensitivity)
	return Position{X: finiteOrZero(centred.X()), Y: finiteOrZero(centred.Y())}, true
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
