package interpret

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hed1ad/vlogguard/pkg/schema"
)

// AnySensor in a Missing condition matches an imputed reading on any sensor.
const AnySensor = "*"

// Condition tests one sensor. It matches when the reading lies below
// LowerBound or above UpperBound, or, with Missing set, when the reading
// was imputed during preprocessing.
type Condition struct {
	Sensor     string   `mapstructure:"sensor" json:"sensor"`
	LowerBound *float64 `mapstructure:"lower_bound" json:"lower_bound,omitempty"`
	UpperBound *float64 `mapstructure:"upper_bound" json:"upper_bound,omitempty"`
	Missing    bool     `mapstructure:"missing" json:"missing,omitempty"`
}

// Above is shorthand for a condition that matches readings above v.
func Above(sensor string, v float64) Condition {
	return Condition{Sensor: sensor, UpperBound: &v}
}

// Below is shorthand for a condition that matches readings below v.
func Below(sensor string, v float64) Condition {
	return Condition{Sensor: sensor, LowerBound: &v}
}

// Imputed is shorthand for a condition that matches filled-in readings.
func Imputed(sensor string) Condition {
	return Condition{Sensor: sensor, Missing: true}
}

func (c Condition) validate() error {
	if c.Sensor == "" {
		return errors.New("condition has no sensor")
	}
	hasBound := c.LowerBound != nil || c.UpperBound != nil
	if c.Missing && hasBound {
		return fmt.Errorf("condition on %s mixes missing with bounds", c.Sensor)
	}
	if !c.Missing && !hasBound {
		return fmt.Errorf("condition on %s has neither bound nor missing", c.Sensor)
	}
	if c.Sensor == AnySensor && !c.Missing {
		return errors.New("wildcard sensor is only valid with missing")
	}
	if c.LowerBound != nil && c.UpperBound != nil && *c.LowerBound > *c.UpperBound {
		return fmt.Errorf("condition on %s has lower_bound above upper_bound", c.Sensor)
	}
	return nil
}

// match evaluates the condition and returns a short description of the hit.
func (c Condition) match(row schema.LogRow) (string, bool) {
	if c.Missing {
		if c.Sensor == AnySensor {
			imputed := row.ImputedSensors()
			if len(imputed) == 0 {
				return "", false
			}
			return strings.Join(imputed, ", ") + " missing", true
		}
		if row.WasImputed(c.Sensor) {
			return c.Sensor + " missing", true
		}
		return "", false
	}

	v, ok := row.Value(c.Sensor)
	if !ok {
		return "", false
	}
	if c.LowerBound != nil && v < *c.LowerBound {
		return fmt.Sprintf("%s=%s below %s", c.Sensor, num(v), num(*c.LowerBound)), true
	}
	if c.UpperBound != nil && v > *c.UpperBound {
		return fmt.Sprintf("%s=%s above %s", c.Sensor, num(v), num(*c.UpperBound)), true
	}
	return "", false
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Spec is the configuration form of a rule.
type Spec struct {
	Name        string      `mapstructure:"name" json:"name"`
	Category    string      `mapstructure:"category" json:"category"`
	Severity    string      `mapstructure:"severity" json:"severity"`
	Explanation string      `mapstructure:"explanation" json:"explanation"`
	When        []Condition `mapstructure:"when" json:"when"`
}

// Rule maps a conjunction of conditions to a category and a static severity.
type Rule struct {
	Name        string
	Category    Category
	Severity    Severity
	Explanation string
	When        []Condition
}

// Compile validates specs and converts them into rules, keeping their order.
func Compile(specs []Spec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for i, s := range specs {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("rule %s: duplicate name", name)
		}
		seen[name] = struct{}{}

		cat, err := ParseCategory(s.Category)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		if cat == Unknown {
			return nil, fmt.Errorf("rule %s: %s is reserved for unmatched anomalies", name, Unknown)
		}
		sev, err := ParseSeverity(s.Severity)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		r := Rule{
			Name:        name,
			Category:    cat,
			Severity:    sev,
			Explanation: s.Explanation,
			When:        s.When,
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Validate checks the rule is well formed.
func (r Rule) Validate() error {
	if len(r.When) == 0 {
		return fmt.Errorf("rule %s: no conditions", r.Name)
	}
	for _, c := range r.When {
		if err := c.validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return nil
}

// Match evaluates every condition against the row. It returns the
// condition descriptions when all of them hold.
func (r Rule) Match(row schema.LogRow) ([]string, bool) {
	details := make([]string, 0, len(r.When))
	for _, c := range r.When {
		d, ok := c.match(row)
		if !ok {
			return nil, false
		}
		details = append(details, d)
	}
	return details, true
}

// sensors returns the concrete sensors the rule reads.
func (r Rule) sensors() []string {
	var out []string
	for _, c := range r.When {
		if c.Sensor != AnySensor {
			out = append(out, c.Sensor)
		}
	}
	return out
}
