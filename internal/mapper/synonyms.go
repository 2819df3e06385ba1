package mapper

import (
	"strings"

	"github.com/normanking/cortexpuppet/internal/landmarks"
)

// SynonymTable maps a tracker blendshape category to the morph ids it may
// drive, in preference order. Whether a candidate applies is decided by the
// template's own morph set.
type SynonymTable map[string][]string

var builtinSynonyms = SynonymTable{
	"eyeBlinkLeft":   {"eye-left-blink", "left-eye-closed", "blink-left", "blink"},
	"eyeBlinkRight":  {"eye-right-blink", "right-eye-closed", "blink-right", "blink"},
	"eyeWideLeft":    {"eye-left-wide", "left-eye-wide", "eyes-wide"},
	"eyeWideRight":   {"eye-right-wide", "right-eye-wide", "eyes-wide"},
	"eyeSquintLeft":  {"eye-left-squint", "left-eye-squint", "squint"},
	"eyeSquintRight": {"eye-right-squint", "right-eye-squint", "squint"},

	"eyeLookUpLeft":    {"eye-left-look-up", "look-up"},
	"eyeLookUpRight":   {"eye-right-look-up", "look-up"},
	"eyeLookDownLeft":  {"eye-left-look-down", "look-down"},
	"eyeLookDownRight": {"eye-right-look-down", "look-down"},
	"eyeLookInLeft":    {"eye-left-look-in", "look-right"},
	"eyeLookInRight":   {"eye-right-look-in", "look-left"},
	"eyeLookOutLeft":   {"eye-left-look-out", "look-left"},
	"eyeLookOutRight":  {"eye-right-look-out", "look-right"},

	"browInnerUp":      {"brow-inner-up", "eyebrows-raised", "brows-up"},
	"browOuterUpLeft":  {"brow-left-up", "left-eyebrow-raised", "brows-up"},
	"browOuterUpRight": {"brow-right-up", "right-eyebrow-raised", "brows-up"},
	"browDownLeft":     {"brow-left-down", "left-eyebrow-lowered", "frown-brows"},
	"browDownRight":    {"brow-right-down", "right-eyebrow-lowered", "frown-brows"},

	"jawOpen":    {"jaw-open", "mouth-open", "mouth-wide-open"},
	"jawLeft":    {"jaw-left"},
	"jawRight":   {"jaw-right"},
	"jawForward": {"jaw-forward"},

	"mouthClose":          {"mouth-close", "mouth-closed"},
	"mouthSmileLeft":      {"mouth-smile-left", "smile-left", "smile"},
	"mouthSmileRight":     {"mouth-smile-right", "smile-right", "smile"},
	"mouthFrownLeft":      {"mouth-frown-left", "frown-left", "frown"},
	"mouthFrownRight":     {"mouth-frown-right", "frown-right", "frown"},
	"mouthPucker":         {"mouth-pucker", "pucker", "kiss"},
	"mouthFunnel":         {"mouth-funnel", "mouth-o"},
	"mouthLeft":           {"mouth-left"},
	"mouthRight":          {"mouth-right"},
	"mouthStretchLeft":    {"mouth-stretch-left", "mouth-stretch"},
	"mouthStretchRight":   {"mouth-stretch-right", "mouth-stretch"},
	"mouthPressLeft":      {"mouth-press-left", "lips-pressed"},
	"mouthPressRight":     {"mouth-press-right", "lips-pressed"},
	"mouthRollLower":      {"mouth-roll-lower"},
	"mouthRollUpper":      {"mouth-roll-upper"},
	"mouthShrugLower":     {"mouth-shrug-lower"},
	"mouthShrugUpper":     {"mouth-shrug-upper"},
	"mouthDimpleLeft":     {"mouth-dimple-left", "dimple-left"},
	"mouthDimpleRight":    {"mouth-dimple-right", "dimple-right"},
	"mouthUpperUpLeft":    {"mouth-upper-up-left", "snarl-left"},
	"mouthUpperUpRight":   {"mouth-upper-up-right", "snarl-right"},
	"mouthLowerDownLeft":  {"mouth-lower-down-left"},
	"mouthLowerDownRight": {"mouth-lower-down-right"},

	"cheekPuff":        {"cheek-puff", "cheeks-puffed"},
	"cheekSquintLeft":  {"cheek-squint-left"},
	"cheekSquintRight": {"cheek-squint-right"},
	"noseSneerLeft":    {"nose-sneer-left", "sneer"},
	"noseSneerRight":   {"nose-sneer-right", "sneer"},
	"tongueOut":        {"tongue-out", "tongue"},
}

// DefaultSynonyms returns a copy of the built-in table.
func DefaultSynonyms() SynonymTable {
	return builtinSynonyms.Merge(nil)
}

// Merge returns a new table holding t's entries followed by other's. Order
// within a category is kept and duplicates are dropped. Keys that match a
// tracker category without case are stored under the tracker's spelling.
func (t SynonymTable) Merge(other SynonymTable) SynonymTable {
	out := make(SynonymTable, len(t)+len(other))
	for _, src := range []SynonymTable{t, other} {
		for category, ids := range src {
			if name, ok := landmarks.CanonicalName(category); ok {
				category = name
			}
			out[category] = appendUnique(out[category], ids...)
		}
	}
	return out
}

// Candidates lists the morph ids a category may drive. The category name
// itself comes first so rigs that use tracker names directly resolve.
func (t SynonymTable) Candidates(category string) []string {
	ids, ok := t[category]
	if !ok {
		if name, canonical := landmarks.CanonicalName(category); canonical {
			ids = t[name]
		}
	}
	return appendUnique([]string{category}, ids...)
}

// Targets lists the morph ids category drives, given a template's
// MorphIndex. Ids come back in the template's own spelling.
func (t SynonymTable) Targets(category string, morphIdx map[string]string) []string {
	var out []string
	for _, candidate := range t.Candidates(category) {
		if id, ok := morphIdx[strings.ToLower(candidate)]; ok {
			out = appendUnique(out, id)
		}
	}
	return out
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		dup := false
		for _, have := range dst {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
