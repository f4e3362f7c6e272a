// Package trend classifies a student's recent score trajectory.
package trend

import (
	"fmt"
	"math"

	"github.com/score-portal/score-portal/internal/domain/score"
)

// Direction is the classification of the latest score change.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

const (
	// WindowSize is the number of most recent exams considered.
	WindowSize = 3
	// Threshold is the total-score delta beyond which a change counts.
	Threshold = 5.0
)

// MessageNotEnoughData is reported when fewer than two exams exist.
const MessageNotEnoughData = "not enough data"

// Analysis is the result of Analyze.
type Analysis struct {
	Direction   Direction `json:"direction"`
	Delta       float64   `json:"delta"`
	Progression float64   `json:"progression"`
	Volatility  float64   `json:"volatility"`
	WindowSize  int       `json:"windowSize"`
	Message     string    `json:"message"`
}

// Analyze inspects the last WindowSize exams of history. The history may be
// in any order; it is sorted by test date internally and never mutated.
func Analyze(history []score.TestScore) Analysis {
	chronological := score.SortChronological(history)
	window := Window(chronological)

	a := Analysis{Direction: DirectionNeutral, WindowSize: len(window)}
	if len(window) < 2 {
		a.Message = MessageNotEnoughData
		return a
	}

	latest := window[len(window)-1]
	previous := window[len(window)-2]
	a.Delta = latest.TotalScore - previous.TotalScore

	switch {
	case a.Delta > Threshold:
		a.Direction = DirectionUp
	case a.Delta < -Threshold:
		a.Direction = DirectionDown
	}

	a.Progression = Progression(window)
	a.Volatility = Volatility(window)
	a.Message = fmt.Sprintf("%+.1f points since the previous exam", a.Delta)
	return a
}

// Window returns the most recent min(WindowSize, len) entries of a
// chronologically ordered history.
func Window(chronological []score.TestScore) []score.TestScore {
	if len(chronological) <= WindowSize {
		return chronological
	}
	return chronological[len(chronological)-WindowSize:]
}

// Progression is the average per-exam change over a chronological window,
// positive when scores improve. A single exam yields 0.
func Progression(window []score.TestScore) float64 {
	if len(window) < 2 {
		return 0
	}
	first := window[0].TotalScore
	last := window[len(window)-1].TotalScore
	return (last - first) / float64(len(window)-1)
}

// Volatility is the population standard deviation of the window totals.
func Volatility(window []score.TestScore) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		sum += s.TotalScore
	}
	mean := sum / float64(len(window))

	var sq float64
	for _, s := range window {
		d := s.TotalScore - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(window)))
}
