package mapper

// Config controls how tracking output drives a character. Values are not
// range checked.
type Config struct {
	Smoothing         bool    `json:"smoothing" mapstructure:"smoothing" yaml:"smoothing"`
	Sensitivity       float64 `json:"sensitivity" mapstructure:"sensitivity" yaml:"sensitivity"`
	HeadRotationScale float64 `json:"headRotationScale" mapstructure:"head_rotation_scale" yaml:"head_rotation_scale"`
	MorphScale        float64 `json:"morphScale" mapstructure:"morph_scale" yaml:"morph_scale"`
}

// DefaultConfig returns smoothing on and unit scales.
func DefaultConfig() Config {
	return Config{
		Smoothing:         true,
		Sensitivity:       1.0,
		HeadRotationScale: 1.0,
		MorphScale:        1.0,
	}
}

// ConfigPatch is a partial Config; nil fields are left unchanged.
type ConfigPatch struct {
	Smoothing         *bool    `json:"smoothing,omitempty"`
	Sensitivity       *float64 `json:"sensitivity,omitempty"`
	HeadRotationScale *float64 `json:"headRotationScale,omitempty"`
	MorphScale        *float64 `json:"morphScale,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ConfigPatch) Empty() bool {
	return p.Smoothing == nil && p.Sensitivity == nil && p.HeadRotationScale == nil && p.MorphScale == nil
}

// Merge applies p on top of c.
func (c Config) Merge(p ConfigPatch) Config {
	if p.Smoothing != nil {
		c.Smoothing = *p.Smoothing
	}
	if p.Sensitivity != nil {
		c.Sensitivity = *p.Sensitivity
	}
	if p.HeadRotationScale != nil {
		c.HeadRotationScale = *p.HeadRotationScale
	}
	if p.MorphScale != nil {
		c.MorphScale = *p.MorphScale
	}
	return c
}

// Diff returns a patch holding only the fields of next that differ from c.
func (c Config) Diff(next Config) ConfigPatch {
	var p ConfigPatch
	if next.Smoothing != c.Smoothing {
		p.Smoothing = &next.Smoothing
	}
	if next.Sensitivity != c.Sensitivity {
		p.Sensitivity = &next.Sensitivity
	}
	if next.HeadRotationScale != c.HeadRotationScale {
		p.HeadRotationScale = &next.HeadRotationScale
	}
	if next.MorphScale != c.MorphScale {
		p.MorphScale = &next.MorphScale
	}
	return p
}
