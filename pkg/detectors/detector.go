// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import (
	"fmt"
	"strings"
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	Scorer

	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns anomaly scores for the given samples.
	// Scores are normalized to [0, 1] where higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// Threshold returns the frozen decision threshold.
	Threshold() float64

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Scorer is the narrow inference contract used by the analysis pipeline.
// Implementations must not mutate state while scoring: the same features
// always yield the same Result.
type Scorer interface {
	Score(features []float64) (Result, error)
}

// Label is the binary outcome of scoring.
type Label int

const (
	// Normal means the score is below the model threshold.
	Normal Label = iota
	// Anomaly means the score reached the model threshold.
	Anomaly
)

func (l Label) String() string {
	if l == Anomaly {
		return "anomaly"
	}
	return "normal"
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "normal":
		*l = Normal
	case "anomaly":
		*l = Anomaly
	default:
		return fmt.Errorf("unknown label %q", b)
	}
	return nil
}

// Decide maps a score to a label. A score equal to the threshold is anomalous.
func Decide(score, threshold float64) Label {
	if score >= threshold {
		return Anomaly
	}
	return Normal
}

// Result represents an anomaly detection result for one sample.
type Result struct {
	// Label is Anomaly when Value reaches the model threshold.
	Label Label
	// Value is the anomaly score in [0, 1].
	Value float64
}

// IsAnomaly reports whether the sample was flagged.
func (r Result) IsAnomaly() bool {
	return r.Label == Anomaly
}
