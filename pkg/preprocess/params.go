package preprocess

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Params are the frozen imputation and scaling parameters, one entry per
// feature. They are fitted offline and never recomputed per request.
type Params struct {
	Features []string  `msgpack:"features"`
	Median   []float64 `msgpack:"median"`
	Mean     []float64 `msgpack:"mean"`
	Scale    []float64 `msgpack:"scale"`
}

// Validate checks the parameters are complete and consistent.
func (p Params) Validate() error {
	n := len(p.Features)
	if n == 0 {
		return errors.New("scaler parameters have no features")
	}
	if len(p.Median) != n || len(p.Mean) != n || len(p.Scale) != n {
		return ErrParamsMismatch
	}
	for i := range p.Features {
		if math.IsNaN(p.Mean[i]) || math.IsInf(p.Mean[i], 0) {
			return fmt.Errorf("invalid mean for %s", p.Features[i])
		}
		if math.IsNaN(p.Scale[i]) || math.IsInf(p.Scale[i], 0) || p.Scale[i] < 0 {
			return fmt.Errorf("invalid scale for %s", p.Features[i])
		}
	}
	return nil
}

// scale returns the divisor for feature i; constant features keep a unit scale.
func (p Params) scale(i int) float64 {
	if p.Scale[i] == 0 {
		return 1
	}
	return p.Scale[i]
}

// FitParams computes medians, means and population standard deviations of
// each column, ignoring NaN cells. It is only used by the offline fit step.
func FitParams(features []string, data [][]float64) (Params, error) {
	if len(features) == 0 {
		return Params{}, errors.New("no features")
	}
	if len(data) == 0 {
		return Params{}, errors.New("empty training data")
	}

	p := Params{
		Features: slices.Clone(features),
		Median:   make([]float64, len(features)),
		Mean:     make([]float64, len(features)),
		Scale:    make([]float64, len(features)),
	}

	col := make([]float64, 0, len(data))
	for j, name := range features {
		col = col[:0]
		for i, row := range data {
			if len(row) != len(features) {
				return Params{}, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(features))
			}
			if !math.IsNaN(row[j]) {
				col = append(col, row[j])
			}
		}
		if len(col) == 0 {
			return Params{}, fmt.Errorf("column %s has no values", name)
		}

		var sum float64
		for _, v := range col {
			sum += v
		}
		mean := sum / float64(len(col))

		var ss float64
		for _, v := range col {
			ss += (v - mean) * (v - mean)
		}

		p.Mean[j] = mean
		p.Scale[j] = math.Sqrt(ss / float64(len(col)))
		p.Median[j] = median(col)
	}

	return p, nil
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
