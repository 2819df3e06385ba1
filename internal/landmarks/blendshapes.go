package landmarks

import "strings"

// CanonicalBlendshapes lists the 52 expression categories emitted by the
// tracker, in the order it reports them.
var CanonicalBlendshapes = []string{
	"browDownLeft", "browDownRight", "browInnerUp", "browOuterUpLeft", "browOuterUpRight",
	"cheekPuff", "cheekSquintLeft", "cheekSquintRight",
	"eyeBlinkLeft", "eyeBlinkRight",
	"eyeLookDownLeft", "eyeLookDownRight", "eyeLookInLeft", "eyeLookInRight",
	"eyeLookOutLeft", "eyeLookOutRight", "eyeLookUpLeft", "eyeLookUpRight",
	"eyeSquintLeft", "eyeSquintRight", "eyeWideLeft", "eyeWideRight",
	"jawForward", "jawLeft", "jawOpen", "jawRight",
	"mouthClose", "mouthDimpleLeft", "mouthDimpleRight", "mouthFrownLeft", "mouthFrownRight",
	"mouthFunnel", "mouthLeft", "mouthLowerDownLeft", "mouthLowerDownRight",
	"mouthPressLeft", "mouthPressRight", "mouthPucker", "mouthRight",
	"mouthRollLower", "mouthRollUpper", "mouthShrugLower", "mouthShrugUpper",
	"mouthSmileLeft", "mouthSmileRight", "mouthStretchLeft", "mouthStretchRight",
	"mouthUpperUpLeft", "mouthUpperUpRight",
	"noseSneerLeft", "noseSneerRight",
	"tongueOut",
}

var canonicalIndex = func() map[string]int {
	m := make(map[string]int, len(CanonicalBlendshapes))
	for i, name := range CanonicalBlendshapes {
		m[name] = i
	}
	return m
}()

var canonicalFold = func() map[string]string {
	m := make(map[string]string, len(CanonicalBlendshapes))
	for _, name := range CanonicalBlendshapes {
		m[strings.ToLower(name)] = name
	}
	return m
}()

// BlendshapeIndex returns the position of a category in CanonicalBlendshapes,
// or -1 when the tracker never emits it. "_neutral" is not canonical.
func BlendshapeIndex(name string) int {
	if i, ok := canonicalIndex[name]; ok {
		return i
	}
	return -1
}

// IsCanonical reports whether name is one of the 52 tracker categories.
func IsCanonical(name string) bool {
	return BlendshapeIndex(name) >= 0
}

// CanonicalName returns the tracker spelling of a category matched without
// case, e.g. "JAWOPEN" gives "jawOpen".
func CanonicalName(name string) (string, bool) {
	if _, ok := canonicalIndex[name]; ok {
		return name, true
	}
	c, ok := canonicalFold[strings.ToLower(name)]
	return c, ok
}
