// Package smoothing filters jittery scalar signals with one-dimensional
// Kalman filters, one per named signal.
package smoothing

// Params configures a scalar Kalman filter.
type Params struct {
	R float64 `mapstructure:"process_noise" yaml:"process_noise"`         // process noise
	Q float64 `mapstructure:"measurement_noise" yaml:"measurement_noise"` // measurement noise
	A float64 `mapstructure:"-" yaml:"-"`                                 // state transition
	B float64 `mapstructure:"-" yaml:"-"`                                 // control gain
	C float64 `mapstructure:"-" yaml:"-"`                                 // measurement gain
}

// DefaultParams tracks expression weights closely while damping
// frame-to-frame jitter.
func DefaultParams() Params {
	return Params{R: 0.01, Q: 0.1, A: 1, B: 0, C: 1}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.R <= 0 {
		p.R = d.R
	}
	if p.Q <= 0 {
		p.Q = d.Q
	}
	if p.A == 0 {
		p.A = d.A
	}
	if p.C == 0 {
		p.C = d.C
	}
	return p
}

// Kalman is a scalar recursive estimator with a constant dynamic model.
type Kalman struct {
	p Params

	x           float64
	cov         float64
	initialized bool
}

// NewKalman creates a filter. Zero-valued noise or gain parameters fall back
// to DefaultParams.
func NewKalman(p Params) *Kalman {
	return &Kalman{p: p.normalized()}
}

// Filter feeds one observation and returns the filtered estimate.
func (k *Kalman) Filter(z float64) float64 {
	return k.FilterControl(z, 0)
}

// FilterControl feeds one observation with a control input u.
func (k *Kalman) FilterControl(z, u float64) float64 {
	p := k.p
	if !k.initialized {
		k.x = z / p.C
		k.cov = p.Q / (p.C * p.C)
		k.initialized = true
		return k.x
	}

	predX := p.A*k.x + p.B*u
	predCov := p.A*k.cov*p.A + p.R

	gain := predCov * p.C / (p.C*predCov*p.C + p.Q)
	k.x = predX + gain*(z-p.C*predX)
	k.cov = predCov - gain*p.C*predCov

	return k.x
}

// Estimate returns the last filtered value.
func (k *Kalman) Estimate() float64 {
	return k.x
}

// Covariance returns the current estimate variance.
func (k *Kalman) Covariance() float64 {
	return k.cov
}
