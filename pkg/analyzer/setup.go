package analyzer

import (
	"fmt"

	"github.com/hed1ad/vlogguard/pkg/artifact"
	"github.com/hed1ad/vlogguard/pkg/interpret"
	"github.com/hed1ad/vlogguard/pkg/preprocess"
	"github.com/hed1ad/vlogguard/pkg/profile"
)

// Setup describes an analyzer built from a sensor profile and loaded
// model artifacts.
type Setup struct {
	Profile profile.Profile
	Bundle  *artifact.Bundle
	Policy  preprocess.Policy
	Mode    interpret.Mode
	// Rules replace the profile's default rules when non-empty.
	Rules []interpret.Spec
}

// FromBundle wires a profile and a model bundle into an Analyzer.
func FromBundle(s Setup, opts ...Option) (*Analyzer, error) {
	if s.Bundle == nil {
		return nil, ErrNoScorer
	}
	sch := s.Profile.Schema()
	if err := s.Bundle.CheckFeatures(sch.Sensors()); err != nil {
		return nil, err
	}

	pp, err := preprocess.New(s.Bundle.Params, s.Policy)
	if err != nil {
		return nil, fmt.Errorf("preprocessor: %w", err)
	}

	specs := s.Rules
	if len(specs) == 0 {
		specs = s.Profile.Rules
	}
	rules, err := interpret.Compile(specs)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	mode := s.Mode
	if mode == "" {
		mode = interpret.FirstMatch
	}
	in, err := interpret.New(rules, mode)
	if err != nil {
		return nil, err
	}

	return New(Config{
		Profile:      s.Profile.Name,
		ModelVersion: s.Bundle.Version,
		Schema:       sch,
		Preprocessor: pp,
		Scorer:       s.Bundle.Forest,
		Threshold:    s.Bundle.Forest.Threshold(),
		Interpreter:  in,
	}, opts...)
}
