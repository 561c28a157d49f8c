package sensor

import "sync"

// Scripted is a test double that returns scripted temperatures.
type Scripted struct {
	mu sync.Mutex

	// Samples are returned in order. Once exhausted the last one repeats.
	Samples []float64
	// ReadError, if set, is returned by ReadTemperature.
	ReadError error

	index int
	reads int
}

func NewScripted(samples ...float64) *Scripted {
	return &Scripted{Samples: samples}
}

func (s *Scripted) ReadTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	if s.ReadError != nil {
		return 0, s.ReadError
	}
	if len(s.Samples) == 0 {
		return 0, ErrNoSamples
	}
	v := s.Samples[s.index]
	if s.index < len(s.Samples)-1 {
		s.index++
	}
	return v, nil
}

// Reads returns how many times ReadTemperature was called.
func (s *Scripted) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Set replaces the script and rewinds it.
func (s *Scripted) Set(samples ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Samples = samples
	s.index = 0
}
