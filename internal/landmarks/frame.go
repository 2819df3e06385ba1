// Package landmarks describes one frame of face tracking output and the fixed
// index layout of the 468-point face mesh.
package landmarks

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Point is a tracked landmark. X and Y are normalized to [0,1] image space,
// Z is depth relative to the face.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec2 returns the image-plane position.
func (p Point) Vec2() mgl64.Vec2 {
	return mgl64.Vec2{p.X, p.Y}
}

// Vec3 returns the point as a 3D vector.
func (p Point) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{p.X, p.Y, p.Z}
}

func (p Point) finite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

// Blendshape is a named expression weight reported by the tracker.
type Blendshape struct {
	CategoryName string  `json:"categoryName"`
	Score        float64 `json:"score"`
}

// Frame is one tracked video frame. Timestamp is in milliseconds as reported
// by the tracker.
type Frame struct {
	Landmarks    []Point      `json:"landmarks"`
	Blendshapes  []Blendshape `json:"blendshapes,omitempty"`
	FaceDetected bool         `json:"faceDetected"`
	Timestamp    float64      `json:"timestamp"`
}

// Empty reports whether the frame carries nothing to map.
func (f *Frame) Empty() bool {
	return f == nil || !f.FaceDetected || len(f.Landmarks) == 0
}

// Landmark returns the point at index i. The second result is false when the
// index is outside the frame or the point has non-finite coordinates.
func (f *Frame) Landmark(i int) (Point, bool) {
	if f == nil || i < 0 || i >= len(f.Landmarks) {
		return Point{}, false
	}
	p := f.Landmarks[i]
	if !p.finite() {
		return Point{}, false
	}
	return p, true
}

// Centroid averages the present points of a region. It returns false when no
// point of the region is present.
func (f *Frame) Centroid(r Region) (Point, bool) {
	var sum mgl64.Vec3
	n := 0
	for _, idx := range r.Indices {
		p, ok := f.Landmark(idx)
		if !ok {
			continue
		}
		sum = sum.Add(p.Vec3())
		n++
	}
	if n == 0 {
		return Point{}, false
	}
	c := sum.Mul(1 / float64(n))
	return Point{X: c.X(), Y: c.Y(), Z: c.Z()}, true
}

// Coverage returns the fraction of a region's points present in the frame.
func (f *Frame) Coverage(r Region) float64 {
	if len(r.Indices) == 0 {
		return 0
	}
	n := 0
	for _, idx := range r.Indices {
		if _, ok := f.Landmark(idx); ok {
			n++
		}
	}
	return float64(n) / float64(len(r.Indices))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
