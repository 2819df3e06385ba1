package smoothing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalman_FirstObservationInitializes(t *testing.T) {
	k := NewKalman(DefaultParams())
	assert.Equal(t, 0.42, k.Filter(0.42))
	assert.Equal(t, 0.42, k.Estimate())
	assert.InDelta(t, DefaultParams().Q, k.Covariance(), 1e-12)
}

func TestKalman_ZeroParamsFallBackToDefaults(t *testing.T) {
	k := NewKalman(Params{})
	assert.Equal(t, DefaultParams(), k.p)
}

func TestKalman_VarianceShrinks(t *testing.T) {
	k := NewKalman(DefaultParams())
	k.Filter(0.5)
	first := k.Covariance()
	for i := 0; i < 20; i++ {
		k.Filter(0.5)
	}
	assert.Less(t, k.Covariance(), first)
}

func TestKalman_ControlInputShiftsPrediction(t *testing.T) {
	p := DefaultParams()
	p.B = 1

	withControl := NewKalman(p)
	withoutControl := NewKalman(p)
	withControl.Filter(0)
	withoutControl.Filter(0)

	assert.Greater(t, withControl.FilterControl(0, 1), withoutControl.FilterControl(0, 0))
}

func TestSmoother_ConstantInputConverges(t *testing.T) {
	s := New(DefaultParams())

	s.Smooth("jaw", 0)
	var got float64
	for i := 0; i < 60; i++ {
		got = s.Smooth("jaw", 1)
	}
	assert.InDelta(t, 1.0, got, 1e-3)
}

func TestSmoother_StepIsGradual(t *testing.T) {
	s := New(DefaultParams())
	s.Smooth("blink", 0)

	// A raw step from 0 to 1 would jump the full distance in one frame.
	first := s.Smooth("blink", 1)
	assert.Greater(t, first, 0.0)
	assert.Less(t, first, 1.0)

	second := s.Smooth("blink", 1)
	assert.Greater(t, second, first)
}

func TestSmoother_DampsJitter(t *testing.T) {
	s := New(DefaultParams())

	lo, hi := 1.0, 0.0
	for i := 0; i < 80; i++ {
		raw := 0.4
		if i%2 == 1 {
			raw = 0.6
		}
		v := s.Smooth("smile", raw)
		if i < 20 {
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}

	// Raw signal spans 0.2.
	assert.Less(t, hi-lo, 0.1)
	assert.InDelta(t, 0.5, (hi+lo)/2, 0.05)
}

func TestSmoother_KeysAreIndependent(t *testing.T) {
	s := New(DefaultParams())
	for i := 0; i < 10; i++ {
		s.Smooth("a", 1)
	}
	assert.Equal(t, 0.0, s.Smooth("b", 0))
	assert.Equal(t, 2, s.Len())
}

func TestSmoother_UnobservedKeyKeepsState(t *testing.T) {
	s := New(DefaultParams())
	s.Smooth("brow", 0)
	s.Smooth("brow", 1)
	before := s.filters["brow"].Estimate()

	for i := 0; i < 5; i++ {
		s.Smooth("jaw", 0.5)
	}
	assert.Equal(t, before, s.filters["brow"].Estimate())
}

func TestSmoother_ResetMatchesFreshInstance(t *testing.T) {
	used := New(DefaultParams())
	for i := 0; i < 25; i++ {
		used.Smooth("mouth", float64(i%3)/3)
	}
	used.Reset()
	require.Zero(t, used.Len())

	fresh := New(DefaultParams())
	inputs := []float64{0.9, 0.1, 0.7, 0.7, 0.2}
	for _, v := range inputs {
		assert.Equal(t, fresh.Smooth("mouth", v), used.Smooth("mouth", v))
	}
}
