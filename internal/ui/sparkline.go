package ui

import "strings"

// SparklineChars are the block characters used for rendering, lowest to highest.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders a compact bar chart of recent throughput samples.
type Sparkline struct {
	samples []float64
	maxSize int
}

// NewSparkline creates a sparkline that keeps the most recent maxSize samples.
func NewSparkline(maxSize int) *Sparkline {
	if maxSize <= 0 {
		maxSize = 60
	}
	return &Sparkline{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	if value < 0 {
		value = 0
	}
	if len(s.samples) >= s.maxSize {
		s.samples = s.samples[1:]
	}
	s.samples = append(s.samples, value)
}

// Render returns the sparkline at its natural width (one rune per sample).
func (s *Sparkline) Render() string {
	return s.render(len(s.samples))
}

// RenderWithWidth returns the sparkline constrained to width runes,
// keeping the most recent samples.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 {
		return ""
	}
	return s.render(width)
}

func (s *Sparkline) render(width int) string {
	if len(s.samples) == 0 || width <= 0 {
		return ""
	}

	samples := s.samples
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	min, max := samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	var b strings.Builder
	b.Grow(len(samples) * 3) // block runes are 3 bytes in UTF-8

	if max == min {
		// Flat line: render midway rather than all-blank or all-full.
		mid := SparklineChars[len(SparklineChars)/2]
		for range samples {
			b.WriteRune(mid)
		}
		return b.String()
	}

	scale := float64(len(SparklineChars)-1) / (max - min)
	for _, v := range samples {
		idx := int((v - min) * scale)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(SparklineChars) {
			idx = len(SparklineChars) - 1
		}
		b.WriteRune(SparklineChars[idx])
	}
	return b.String()
}

// Clear removes all samples.
func (s *Sparkline) Clear() {
	s.samples = s.samples[:0]
}

// Len returns the number of stored samples.
func (s *Sparkline) Len() int {
	return len(s.samples)
}
