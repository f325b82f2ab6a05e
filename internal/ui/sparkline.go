package ui

import "strings"

// sparkChars are the eight bar heights, lowest first.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps the last N throughput samples and renders them as bars.
type Sparkline struct {
	samples []float64
}

// NewSparkline creates a sparkline holding up to width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 30
	}
	return &Sparkline{samples: make([]float64, 0, width)}
}

// Add appends a sample, dropping the oldest when full.
func (s *Sparkline) Add(v float64) {
	if len(s.samples) == cap(s.samples) {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:len(s.samples)-1]
	}
	s.samples = append(s.samples, v)
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int { return len(s.samples) }

// Clear drops every sample.
func (s *Sparkline) Clear() { s.samples = s.samples[:0] }

// Render draws the samples scaled to the largest one, left-padded with spaces
// to the capacity.
func (s *Sparkline) Render() string {
	peak := 0.0
	for _, v := range s.samples {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", cap(s.samples)-len(s.samples)))
	for _, v := range s.samples {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkChars)-1))
		}
		idx = min(max(idx, 0), len(sparkChars)-1)
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}
