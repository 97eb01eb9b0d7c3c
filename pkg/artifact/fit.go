package artifact

import (
	"errors"
	"fmt"
	"math"

	"github.com/hed1ad/vlogguard/pkg/detectors/iforest"
	"github.com/hed1ad/vlogguard/pkg/preprocess"
)

// Fit computes scaler parameters and trains a forest on rows of normal
// readings. Missing readings (NaN) are filled with the fitted medians before
// scaling, the same way analysis fills them. This is the offline step; the
// analysis path never calls it.
func Fit(features []string, data [][]float64, opts ...iforest.Option) (preprocess.Params, *iforest.IsolationForest, error) {
	params, err := preprocess.FitParams(features, data)
	if err != nil {
		return preprocess.Params{}, nil, err
	}
	pp, err := preprocess.New(params, preprocess.PolicyDrop)
	if err != nil {
		return preprocess.Params{}, nil, err
	}

	scaled := make([][]float64, 0, len(data))
	for _, row := range data {
		filled := make([]float64, len(row))
		usable := false
		for i, v := range row {
			if math.IsNaN(v) {
				v = params.Median[i]
			} else {
				usable = true
			}
			filled[i] = v
		}
		if usable {
			scaled = append(scaled, pp.Transform(filled))
		}
	}
	if len(scaled) == 0 {
		return preprocess.Params{}, nil, errors.New("no usable training rows")
	}

	forest := iforest.New(opts...)
	if err := forest.Fit(scaled); err != nil {
		return preprocess.Params{}, nil, fmt.Errorf("fit forest: %w", err)
	}
	return params, forest, nil
}
