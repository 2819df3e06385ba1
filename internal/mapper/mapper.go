// Package mapper turns face tracking frames into morph and bone updates for a
// rigged character.
//
// A Mapper is a caller-owned value with its own smoothing state. It is not
// safe for concurrent use; independent tracking sessions must each create
// their own Mapper so filter state from one face never bleeds into another.
package mapper

import (
	"math"

	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/smoothing"
	"github.com/rs/zerolog"
)

// Result is the update proposed for one frame. Morph values are fresh for
// the frame and are not merged with any earlier state.
type Result struct {
	MorphUpdates  map[string]float64        `json:"morphUpdates"`
	BoneRotations map[string]character.Vec3 `json:"boneRotations"`
	HeadPosition  Position                  `json:"headPosition"`

	// HeadTracked is false when HeadPosition is the untracked placeholder.
	HeadTracked bool    `json:"headTracked"`
	Timestamp   float64 `json:"timestamp"`
}

// Apply returns a copy of c with the result's morphs and rotations applied.
// Existing morph values not named in the result are kept.
func (r *Result) Apply(c *character.Character) *character.Character {
	return c.WithUpdates(r.MorphUpdates, r.BoneRotations)
}

// Mapper maps landmark frames onto characters.
type Mapper struct {
	cfg      Config
	smoother *smoothing.Smoother
	synonyms SynonymTable
	log      zerolog.Logger

	// Resolution tables for the last template seen.
	indexed      *character.Template
	morphIdx     map[string]string
	tmplSynonyms SynonymTable
}

// Option customizes a Mapper.
type Option func(*Mapper)

// WithFilterParams sets the Kalman parameters used for morph smoothing.
func WithFilterParams(p smoothing.Params) Option {
	return func(m *Mapper) {
		m.smoother = smoothing.New(p)
	}
}

// WithSynonyms extends the built-in synonym table.
func WithSynonyms(extra SynonymTable) Option {
	return func(m *Mapper) {
		m.synonyms = m.synonyms.Merge(extra)
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Mapper) {
		m.log = log
	}
}

// New creates a Mapper.
func New(cfg Config, opts ...Option) *Mapper {
	m := &Mapper{
		cfg:      cfg,
		smoother: smoothing.New(smoothing.DefaultParams()),
		synonyms: DefaultSynonyms(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the current configuration.
func (m *Mapper) Config() Config {
	return m.cfg
}

// SetConfig merges a partial configuration. It applies from the next frame.
func (m *Mapper) SetConfig(p ConfigPatch) {
	m.cfg = m.cfg.Merge(p)
}

// Reset clears smoothing state, as when tracking stops or restarts.
func (m *Mapper) Reset() {
	m.smoother.Reset()
}

// MapToCharacter maps one frame. It returns nil when the frame has no face or
// no landmarks. tmpl may be nil, in which case no morphs are produced.
// Missing landmarks degrade to a zero rotation and the untracked head
// position; the frame and character are never modified.
func (m *Mapper) MapToCharacter(f *landmarks.Frame, c *character.Character, tmpl *character.Template) *Result {
	if f.Empty() {
		return nil
	}

	cfg := m.cfg
	res := &Result{
		MorphUpdates:  m.resolveMorphs(f.Blendshapes, tmpl, cfg.MorphScale),
		BoneRotations: make(map[string]character.Vec3, 1),
		Timestamp:     f.Timestamp,
	}

	if root, ok := c.RootBone(); ok {
		res.BoneRotations[root] = estimateRotation(f, cfg.HeadRotationScale)
	}

	res.HeadPosition, res.HeadTracked = estimatePosition(f, cfg.Sensitivity)

	if cfg.Smoothing {
		for id, v := range res.MorphUpdates {
			res.MorphUpdates[id] = nonNegative(m.smoother.Smooth(id, v))
		}
	}

	return res
}

// resolveMorphs turns tracker categories into template morph values. When
// several categories reach the same morph the largest value wins.
func (m *Mapper) resolveMorphs(shapes []landmarks.Blendshape, tmpl *character.Template, scale float64) map[string]float64 {
	out := make(map[string]float64)
	if !tmpl.HasMorphTargets() || len(shapes) == 0 {
		return out
	}

	idx, synonyms := m.tablesFor(tmpl)

	for _, bs := range shapes {
		v := bs.Score * scale
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v = nonNegative(v)

		for _, id := range synonyms.Targets(bs.CategoryName, idx) {
			if prev, seen := out[id]; !seen || v > prev {
				out[id] = v
			}
		}
	}
	return out
}

func (m *Mapper) tablesFor(tmpl *character.Template) (map[string]string, SynonymTable) {
	if m.indexed != tmpl {
		m.indexed = tmpl
		m.morphIdx = tmpl.MorphIndex()
		m.tmplSynonyms = m.synonyms
		if len(tmpl.Synonyms) > 0 {
			m.tmplSynonyms = m.synonyms.Merge(tmpl.Synonyms)
		}
		m.log.Debug().
			Str("template", tmpl.ID).
			Int("morph_targets", len(m.morphIdx)).
			Int("template_synonyms", len(tmpl.Synonyms)).
			Msg("indexed template morphs")
	}
	return m.morphIdx, m.tmplSynonyms
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
