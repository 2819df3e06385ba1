package landmarks

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Landmark(t *testing.T) {
	f := &Frame{
		FaceDetected: true,
		Landmarks: []Point{
			{X: 0.1, Y: 0.2, Z: 0},
			{X: math.NaN(), Y: 0.5, Z: 0},
			{X: 0.3, Y: math.Inf(1), Z: 0},
		},
	}

	tests := []struct {
		name  string
		index int
		want  Point
		ok    bool
	}{
		{"present", 0, Point{X: 0.1, Y: 0.2}, true},
		{"nan coordinate", 1, Point{}, false},
		{"infinite coordinate", 2, Point{}, false},
		{"past the end", 3, Point{}, false},
		{"negative", -1, Point{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := f.Landmark(tt.index)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestFrame_LandmarkNilFrame(t *testing.T) {
	var f *Frame
	_, ok := f.Landmark(0)
	assert.False(t, ok)
	assert.True(t, f.Empty())
}

func TestFrame_Empty(t *testing.T) {
	assert.True(t, (&Frame{FaceDetected: false, Landmarks: []Point{{}}}).Empty())
	assert.True(t, (&Frame{FaceDetected: true}).Empty())
	assert.False(t, (&Frame{FaceDetected: true, Landmarks: []Point{{}}}).Empty())
}

func TestFrame_Centroid(t *testing.T) {
	f := &Frame{FaceDetected: true, Landmarks: make([]Point, 10)}
	f.Landmarks[2] = Point{X: 0.2, Y: 0.4, Z: 0.1}
	f.Landmarks[4] = Point{X: 0.4, Y: 0.6, Z: 0.3}

	r := Region{Name: "test", Indices: []int{2, 4, 50}}
	c, ok := f.Centroid(r)
	require.True(t, ok)
	assert.InDelta(t, 0.3, c.X, 1e-9)
	assert.InDelta(t, 0.5, c.Y, 1e-9)
	assert.InDelta(t, 0.2, c.Z, 1e-9)

	assert.InDelta(t, 2.0/3.0, f.Coverage(r), 1e-9)

	_, ok = f.Centroid(Region{Name: "missing", Indices: []int{100, 200}})
	assert.False(t, ok)
	assert.Zero(t, f.Coverage(Region{}))
}

func TestFrame_JSONWireFormat(t *testing.T) {
	raw := `{
		"landmarks": [{"x": 0.5, "y": 0.25, "z": -0.01}],
		"blendshapes": [{"categoryName": "jawOpen", "score": 0.7}],
		"faceDetected": true,
		"timestamp": 1234.5
	}`

	var f Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	assert.True(t, f.FaceDetected)
	assert.Equal(t, 1234.5, f.Timestamp)
	require.Len(t, f.Landmarks, 1)
	assert.Equal(t, Point{X: 0.5, Y: 0.25, Z: -0.01}, f.Landmarks[0])
	require.Len(t, f.Blendshapes, 1)
	assert.Equal(t, "jawOpen", f.Blendshapes[0].CategoryName)
}

func TestRegions(t *testing.T) {
	regions := Regions()
	assert.Len(t, regions, 8)

	for _, r := range regions {
		assert.NotEmpty(t, r.Name)
		for _, idx := range r.Indices {
			assert.True(t, idx >= 0 && idx < MeshSize, "%s index %d outside mesh", r.Name, idx)
		}
	}

	assert.Contains(t, LeftEye.Indices, LeftEyeInner)
	assert.Contains(t, RightEye.Indices, RightEyeInner)
	assert.Contains(t, ChinRegion.Indices, Chin)
	assert.Contains(t, Nose.Indices, NoseTip)
	assert.Contains(t, FaceOval.Indices, Forehead)

	r, ok := RegionByName("lips")
	require.True(t, ok)
	assert.Equal(t, Lips.Indices, r.Indices)

	_, ok = RegionByName("ears")
	assert.False(t, ok)
}

func TestCanonicalBlendshapes(t *testing.T) {
	assert.Len(t, CanonicalBlendshapes, 52)
	assert.Equal(t, 8, BlendshapeIndex("eyeBlinkLeft"))
	assert.Equal(t, -1, BlendshapeIndex("_neutral"))
	assert.True(t, IsCanonical("tongueOut"))
	assert.False(t, IsCanonical("TongueOut"))
}

func TestCanonicalName(t *testing.T) {
	name, ok := CanonicalName("JAWOPEN")
	require.True(t, ok)
	assert.Equal(t, "jawOpen", name)

	name, ok = CanonicalName("eyeBlinkLeft")
	require.True(t, ok)
	assert.Equal(t, "eyeBlinkLeft", name)

	_, ok = CanonicalName("jaw_open")
	assert.False(t, ok)
}
