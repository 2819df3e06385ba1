// Package character models the rigged characters and templates that tracking
// results are applied to, and loads them from glTF rigs and YAML catalogs.
package character

import (
	"errors"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrNotFound is returned when a character or template id is unknown.
	ErrNotFound = errors.New("character: not found")

	// ErrNoMorphTargets is returned when a rig file has no named morph targets.
	ErrNoMorphTargets = errors.New("character: no morph targets")

	// ErrInvalid is returned for malformed catalog entries.
	ErrInvalid = errors.New("character: invalid definition")
)

// Vec3 is an Euler rotation in degrees, X pitch, Y yaw, Z roll.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Quat converts the rotation to a quaternion, applying X then Y then Z.
func (v Vec3) Quat() mgl64.Quat {
	return mgl64.AnglesToQuat(mgl64.DegToRad(v.X), mgl64.DegToRad(v.Y), mgl64.DegToRad(v.Z), mgl64.XYZ)
}

// Bone is one node of a skeleton.
type Bone struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	ParentID string `json:"parentId,omitempty" yaml:"parent_id,omitempty"`
	Rotation Vec3   `json:"rotation" yaml:"rotation,omitempty"`
}

// Skeleton is the bone hierarchy of a character.
type Skeleton struct {
	Bones      []Bone `json:"bones" yaml:"bones"`
	RootBoneID string `json:"rootBoneId,omitempty" yaml:"root_bone_id,omitempty"`
}

// Character is a rigged puppet. MorphState holds the last applied morph
// weights keyed by morph id.
type Character struct {
	ID         string             `json:"id" yaml:"id"`
	Name       string             `json:"name,omitempty" yaml:"name,omitempty"`
	TemplateID string             `json:"templateId,omitempty" yaml:"template_id,omitempty"`
	Skeleton   Skeleton           `json:"skeleton" yaml:"skeleton"`
	MorphState map[string]float64 `json:"morphState,omitempty" yaml:"morph_state,omitempty"`
}

// RootBone returns the bone driven by head pose. When RootBoneID is unset the
// first bone of the skeleton is used.
func (c *Character) RootBone() (string, bool) {
	if c == nil {
		return "", false
	}
	if c.Skeleton.RootBoneID != "" {
		return c.Skeleton.RootBoneID, true
	}
	if len(c.Skeleton.Bones) > 0 && c.Skeleton.Bones[0].ID != "" {
		return c.Skeleton.Bones[0].ID, true
	}
	return "", false
}

// Bone finds a bone by id.
func (c *Character) Bone(id string) (Bone, bool) {
	for _, b := range c.Skeleton.Bones {
		if b.ID == id {
			return b, true
		}
	}
	return Bone{}, false
}

// Clone returns a deep copy.
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	out := *c
	out.Skeleton.Bones = append([]Bone(nil), c.Skeleton.Bones...)
	if c.MorphState != nil {
		out.MorphState = make(map[string]float64, len(c.MorphState))
		for k, v := range c.MorphState {
			out.MorphState[k] = v
		}
	}
	return &out
}

// WithUpdates returns a copy of c with morphs overwritten by the given values
// and bone rotations replaced. Bones not present in the skeleton are ignored.
// c itself is never modified.
func (c *Character) WithUpdates(morphs map[string]float64, rotations map[string]Vec3) *Character {
	out := c.Clone()
	if out == nil {
		return nil
	}
	if out.MorphState == nil {
		out.MorphState = make(map[string]float64, len(morphs))
	}
	for id, v := range morphs {
		out.MorphState[id] = v
	}
	for i := range out.Skeleton.Bones {
		if rot, ok := rotations[out.Skeleton.Bones[i].ID]; ok {
			out.Skeleton.Bones[i].Rotation = rot
		}
	}
	return out
}

// MorphTarget is one deformation control exposed by a template.
type MorphTarget struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Template describes the morph targets a family of characters shares.
// Synonyms adds template-specific category to morph id candidates on top of
// the built-in table.
type Template struct {
	ID           string              `json:"id" yaml:"id"`
	Name         string              `json:"name,omitempty" yaml:"name,omitempty"`
	MorphTargets []MorphTarget       `json:"morphTargets" yaml:"morph_targets"`
	Synonyms     map[string][]string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
}

// HasMorphTargets reports whether blend resolution applies to t.
func (t *Template) HasMorphTargets() bool {
	return t != nil && len(t.MorphTargets) > 0
}

// MorphIndex maps lower-cased morph ids to the template's own spelling.
// When two ids differ only by case the first one wins.
func (t *Template) MorphIndex() map[string]string {
	if t == nil {
		return nil
	}
	idx := make(map[string]string, len(t.MorphTargets))
	for _, mt := range t.MorphTargets {
		key := strings.ToLower(mt.ID)
		if _, dup := idx[key]; !dup {
			idx[key] = mt.ID
		}
	}
	return idx
}
