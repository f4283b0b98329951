// Package transcript holds the segment type shared by the coordinator, the merger and the writers.
package transcript

import "math"

// Segment is one span of recognized speech in absolute seconds from the start of the recording.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// RoundMillis rounds seconds to millisecond precision.
func RoundMillis(sec float64) float64 {
	return math.Round(sec*1000) / 1000
}
