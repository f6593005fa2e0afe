// Package liveness holds the blink-count gate that stands between a face match and an attendance mark.
package liveness

import (
	"faceattend/internal/metrics"
	"faceattend/internal/recognition"
)

// DefaultRequiredBlinks is the number of blinks that arm the gate.
const DefaultRequiredBlinks = 2

// State names where the gate is in its cycle.
type State int

const (
	Idle State = iota
	Accumulating
	Armed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Armed:
		return "armed"
	default:
		return "unknown"
	}
}

// Verified is a match that passed the liveness check.
type Verified struct {
	StudentID        string
	Name             string
	Confidence       float64
	LivenessVerified bool
}

// Outcome is what one observation produced.
type Outcome struct {
	Fired     []Verified
	Discarded bool
}

// Gate counts blinks across frames and releases the matches of the frame that completes the count.
// A Gate belongs to a single stream goroutine and is not safe for concurrent use.
type Gate struct {
	required int
	blinks   int
	state    State
}

func NewGate(requiredBlinks int) *Gate {
	if requiredBlinks <= 0 {
		requiredBlinks = DefaultRequiredBlinks
	}
	return &Gate{required: requiredBlinks}
}

// State returns the current state.
func (g *Gate) State() State { return g.state }

// Blinks returns the accumulated blink count.
func (g *Gate) Blinks() int { return g.blinks }

// Required returns the blink count that arms the gate.
func (g *Gate) Required() int { return g.required }

// Observe feeds one processed frame. Once the count reaches the requirement the gate fires one Verified
// per match in this frame, or discards the evidence when the frame has no match. Either way it resets.
func (g *Gate) Observe(blink bool, matches []recognition.Match) Outcome {
	if blink {
		g.blinks++
		g.state = Accumulating
	}
	if g.blinks < g.required {
		return Outcome{}
	}
	g.state = Armed

	if len(matches) == 0 {
		g.Reset()
		metrics.LivenessOutcomes().WithLabelValues("discarded").Inc()
		return Outcome{Discarded: true}
	}

	fired := make([]Verified, 0, len(matches))
	for _, m := range matches {
		fired = append(fired, Verified{
			StudentID:        m.StudentID,
			Name:             m.Name,
			Confidence:       m.Confidence,
			LivenessVerified: true,
		})
	}
	g.Reset()
	metrics.LivenessOutcomes().WithLabelValues("fired").Inc()
	return Outcome{Fired: fired}
}

// Reset clears the blink count and returns to Idle.
func (g *Gate) Reset() {
	g.blinks = 0
	g.state = Idle
}
