package smoothing

// Smoother keeps an independent filter per signal name. Filters are created
// on first use; a signal that is not observed in a frame keeps its state
// unchanged.
//
// A Smoother is not safe for concurrent use.
type Smoother struct {
	params  Params
	filters map[string]*Kalman
}

// New creates an empty Smoother.
func New(p Params) *Smoother {
	return &Smoother{
		params:  p.normalized(),
		filters: make(map[string]*Kalman),
	}
}

// Smooth feeds value to the filter for key and returns the filtered value.
func (s *Smoother) Smooth(key string, value float64) float64 {
	f, ok := s.filters[key]
	if !ok {
		f = NewKalman(s.params)
		s.filters[key] = f
	}
	return f.Filter(value)
}

// Reset discards every filter.
func (s *Smoother) Reset() {
	s.filters = make(map[string]*Kalman)
}

// Len returns the number of signals being tracked.
func (s *Smoother) Len() int {
	return len(s.filters)
}

// Params returns the filter parameters used for new signals.
func (s *Smoother) Params() Params {
	return s.params
}
