// Package preprocess cleans validated rows and projects them into scaled
// feature vectors using parameters frozen at training time.
package preprocess

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hed1ad/vlogguard/pkg/schema"
)

// Policy decides what happens to a row that cannot be repaired.
type Policy string

const (
	// PolicyDrop removes the row and records it in the result.
	PolicyDrop Policy = "drop"
	// PolicyReject fails the whole input with a *DataError.
	PolicyReject Policy = "reject"
)

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyDrop, "":
		return PolicyDrop, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown preprocessing policy %q", s)
}

// Preprocessor imputes, filters and scales rows. It holds no mutable state
// and is safe for concurrent use.
type Preprocessor struct {
	params Params
	policy Policy
}

// New creates a Preprocessor over frozen parameters.
func New(params Params, policy Policy) (*Preprocessor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if policy != PolicyDrop && policy != PolicyReject {
		return nil, fmt.Errorf("unknown preprocessing policy %q", policy)
	}
	return &Preprocessor{params: params, policy: policy}, nil
}

// Features returns the feature order the preprocessor expects.
func (p *Preprocessor) Features() []string {
	return p.params.Features
}

// Policy returns the configured row policy.
func (p *Preprocessor) Policy() Policy {
	return p.policy
}

// Dropped records a row removed during preprocessing.
type Dropped struct {
	Index  int
	Reason string
}

// Result is the output of Run. Rows and Features are index-aligned and keep
// the input order.
type Result struct {
	Rows     []schema.LogRow
	Features [][]float64
	Dropped  []Dropped
}

// Run imputes missing readings with the frozen medians, removes rows that
// stay unusable and scales the rest. Input rows are not modified.
func (p *Preprocessor) Run(rows []schema.LogRow) (*Result, error) {
	res := &Result{
		Rows:     make([]schema.LogRow, 0, len(rows)),
		Features: make([][]float64, 0, len(rows)),
	}

	for _, row := range rows {
		if len(row.Values) != len(p.params.Features) {
			return nil, fmt.Errorf("row %d has %d readings, expected %d",
				row.Index, len(row.Values), len(p.params.Features))
		}

		cleaned, reason := p.impute(row)
		if reason != "" {
			if p.policy == PolicyReject {
				return nil, &DataError{Row: row.Index, Reason: reason}
			}
			res.Dropped = append(res.Dropped, Dropped{Index: row.Index, Reason: reason})
			continue
		}

		res.Rows = append(res.Rows, cleaned)
		res.Features = append(res.Features, p.Transform(cleaned.Values))
	}

	return res, nil
}

// impute returns a cleaned copy of row, or a reason why it is unusable.
func (p *Preprocessor) impute(row schema.LogRow) (schema.LogRow, string) {
	if row.MissingCount() == len(row.Values) {
		return row, "all sensor readings missing"
	}

	cleaned := row.Clone()
	if len(cleaned.Imputed) != len(cleaned.Values) {
		cleaned.Imputed = make([]bool, len(cleaned.Values))
	}
	for i, v := range cleaned.Values {
		if !math.IsNaN(v) {
			continue
		}
		fill := p.params.Median[i]
		if math.IsNaN(fill) {
			return row, fmt.Sprintf("no fill value for missing %s", p.params.Features[i])
		}
		cleaned.Values[i] = fill
		cleaned.Imputed[i] = true
	}
	return cleaned, ""
}

// Transform applies the frozen standard scaler to one cleaned vector.
func (p *Preprocessor) Transform(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - p.params.Mean[i]) / p.params.scale(i)
	}
	return out
}

// DataError reports a row that could not be repaired under PolicyReject.
type DataError struct {
	Row    int
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: row %d: %s", e.Row, e.Reason)
}

// ErrParamsMismatch is returned when parameter slices disagree in length.
var ErrParamsMismatch = errors.New("scaler parameters have inconsistent lengths")
