// Package interpret maps anomalous sensor rows to diagnostic findings using
// an ordered list of threshold rules.
package interpret

import (
	"fmt"
	"strings"

	"github.com/hed1ad/vlogguard/pkg/detectors"
	"github.com/hed1ad/vlogguard/pkg/schema"
)

// Mode selects how many rules may fire for one row.
type Mode string

const (
	// FirstMatch stops at the highest-priority matching rule.
	FirstMatch Mode = "first"
	// AllMatches reports every matching rule, one finding per category.
	AllMatches Mode = "all"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case FirstMatch, "":
		return FirstMatch, nil
	case AllMatches:
		return AllMatches, nil
	}
	return "", fmt.Errorf("unknown interpretation mode %q", s)
}

const unknownExplanation = "General Anomaly Detected: the model identified an unusual combination of " +
	"sensor readings that does not match a known fault pattern."

// Interpreter evaluates rules in priority order. It is immutable and safe
// for concurrent use.
type Interpreter struct {
	rules []Rule
	mode  Mode
}

// New creates an Interpreter. Rules are copied.
func New(rules []Rule, mode Mode) (*Interpreter, error) {
	if mode != FirstMatch && mode != AllMatches {
		return nil, fmt.Errorf("unknown interpretation mode %q", mode)
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return &Interpreter{
		rules: append([]Rule(nil), rules...),
		mode:  mode,
	}, nil
}

// Rules returns the rules in evaluation order.
func (in *Interpreter) Rules() []Rule {
	return append([]Rule(nil), in.rules...)
}

// Mode returns the configured mode.
func (in *Interpreter) Mode() Mode {
	return in.mode
}

// CheckSensors verifies that every rule reads sensors from the given set.
func (in *Interpreter) CheckSensors(sensors []string) error {
	known := make(map[string]struct{}, len(sensors))
	for _, s := range sensors {
		known[s] = struct{}{}
	}
	for _, r := range in.rules {
		for _, s := range r.sensors() {
			if _, ok := known[s]; !ok {
				return fmt.Errorf("rule %s: unknown sensor %q", r.Name, s)
			}
		}
	}
	return nil
}

// Interpret returns the findings for one anomalous row. It always returns
// at least one finding: when no rule matches the row is reported as
// UNKNOWN with LOW severity.
func (in *Interpreter) Interpret(row schema.LogRow, res detectors.Result) []Finding {
	var findings []Finding
	seen := make(map[Category]struct{})

	for _, r := range in.rules {
		details, ok := r.Match(row)
		if !ok {
			continue
		}
		if _, dup := seen[r.Category]; dup {
			continue
		}
		seen[r.Category] = struct{}{}
		findings = append(findings, newFinding(r, row, details))
		if in.mode == FirstMatch {
			break
		}
	}

	if len(findings) == 0 {
		findings = append(findings, Finding{
			Category:    Unknown,
			Severity:    Low,
			Rule:        "unmatched",
			Explanation: fmt.Sprintf("%s (anomaly score %.3f)", unknownExplanation, res.Value),
			Signals:     row.Readings(),
		})
	}
	return findings
}

func newFinding(r Rule, row schema.LogRow, details []string) Finding {
	signals := make(map[string]float64)
	for _, s := range r.sensors() {
		if v, ok := row.Value(s); ok {
			signals[s] = v
		}
	}
	if len(signals) == 0 {
		signals = row.Readings()
	}

	explanation := r.Explanation
	if explanation == "" {
		explanation = fmt.Sprintf("%s detected by rule %s", r.Category, r.Name)
	}
	return Finding{
		Category:    r.Category,
		Severity:    r.Severity,
		Rule:        r.Name,
		Explanation: fmt.Sprintf("%s (%s)", explanation, strings.Join(details, "; ")),
		Signals:     signals,
	}
}
