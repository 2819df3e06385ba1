package landmarks

// MeshSize is the number of points in the face mesh layout.
const MeshSize = 468

// Pose anchors in the face mesh layout.
const (
	NoseTip       = 1
	Forehead      = 10
	LeftEyeInner  = 133
	Chin          = 152
	RightEyeInner = 362
)

// Region is a named group of mesh indices.
type Region struct {
	Name    string
	Indices []int
}

var (
	FaceOval = Region{
		Name: "faceOval",
		Indices: []int{
			10, 338, 297, 332, 284, 251, 389, 356, 454, 323, 361, 288,
			397, 365, 379, 378, 400, 377, 152, 148, 176, 149, 150, 136,
			172, 58, 132, 93, 234, 127, 162, 21, 54, 103, 67, 109,
		},
	}

	LeftEye = Region{
		Name:    "leftEye",
		Indices: []int{33, 7, 163, 144, 145, 153, 154, 155, 133, 173, 157, 158, 159, 160, 161, 246},
	}

	RightEye = Region{
		Name:    "rightEye",
		Indices: []int{362, 382, 381, 380, 374, 373, 390, 249, 263, 466, 388, 387, 386, 385, 384, 398},
	}

	LeftEyebrow = Region{
		Name:    "leftEyebrow",
		Indices: []int{70, 63, 105, 66, 107, 55, 65, 52, 53, 46},
	}

	RightEyebrow = Region{
		Name:    "rightEyebrow",
		Indices: []int{300, 293, 334, 296, 336, 285, 295, 282, 283, 276},
	}

	Lips = Region{
		Name: "lips",
		Indices: []int{
			61, 146, 91, 181, 84, 17, 314, 405, 321, 375,
			291, 409, 270, 269, 267, 0, 37, 39, 40, 185,
		},
	}

	Nose = Region{
		Name:    "nose",
		Indices: []int{1, 2, 98, 327, 4, 5, 195, 197, 6, 168},
	}

	ChinRegion = Region{
		Name:    "chin",
		Indices: []int{152, 148, 176, 377, 400, 378, 379, 149, 150},
	}
)

// Regions returns every named region in a stable order.
func Regions() []Region {
	return []Region{FaceOval, LeftEye, RightEye, LeftEyebrow, RightEyebrow, Lips, Nose, ChinRegion}
}

// RegionByName looks up a region by its name.
func RegionByName(name string) (Region, bool) {
	for _, r := range Regions() {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}
