package stats

// EMA returns alpha*next + (1-alpha)*prev.
func EMA(next, prev, alpha float64) float64 {
	return alpha*next + (1-alpha)*prev
}

// Smoother holds a single exponentially smoothed value. The first update
// seeds the value directly.
type Smoother struct {
	alpha  float64
	value  float64
	primed bool
}

func NewSmoother(alpha float64) *Smoother {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.15
	}
	return &Smoother{alpha: alpha}
}

func (s *Smoother) Update(v float64) float64 {
	if !s.primed {
		s.value = v
		s.primed = true
		return v
	}
	s.value = EMA(v, s.value, s.alpha)
	return s.value
}

func (s *Smoother) Value() float64 {
	return s.value
}

func (s *Smoother) Primed() bool {
	return s.primed
}

func (s *Smoother) Alpha() float64 {
	return s.alpha
}

func (s *Smoother) Reset() {
	s.value = 0
	s.primed = false
}
