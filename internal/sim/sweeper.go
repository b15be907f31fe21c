package sim

import "math"

// Sweeper produces a smooth oscillation between Min and Max.
type Sweeper struct {
	Min   float64
	Max   float64
	Rate  float64
	phase float64
}

func NewSweeper(min, max, rate float64) *Sweeper {
	return &Sweeper{Min: min, Max: max, Rate: rate / 100}
}

func (s *Sweeper) Next() float64 {
	s.phase += s.Rate
	span := s.Max - s.Min
	return span*(math.Sin(s.phase)+1)/2 + s.Min
}
