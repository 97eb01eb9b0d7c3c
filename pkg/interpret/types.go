package interpret

import (
	"fmt"
	"strings"
)

// Category is a diagnostic fault class.
type Category string

const (
	// Overheating covers engine or coolant temperature faults.
	Overheating Category = "OVERHEATING"
	// LowVoltage is a battery reading below its operating range.
	LowVoltage Category = "LOW_VOLTAGE"
	// ChargingFault is low voltage while driving, usually the alternator.
	ChargingFault Category = "CHARGING_FAULT"
	// BrakeFault is brake pressure inconsistent with the vehicle's motion.
	BrakeFault Category = "BRAKE_FAULT"
	// SensorDropout marks rows whose readings had to be imputed.
	SensorDropout Category = "SENSOR_DROPOUT"
	// Unknown is emitted for anomalies that no rule explains.
	Unknown Category = "UNKNOWN"
)

// Categories lists every known category in report order.
var Categories = []Category{Overheating, LowVoltage, ChargingFault, BrakeFault, SensorDropout, Unknown}

// ParseCategory converts a configuration string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown fault category %q", s)
}

// Severity is the ordinal urgency of a finding.
type Severity int

// Severity levels, lowest first.
const (
	Low Severity = iota
	Medium
	High
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{Low, Medium, High}

func (s Severity) String() string {
	switch s {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity converts a configuration string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Finding is one diagnosis for an anomalous row.
type Finding struct {
	Category    Category           `json:"category"`
	Severity    Severity           `json:"severity"`
	Rule        string             `json:"rule"`
	Explanation string             `json:"explanation"`
	Signals     map[string]float64 `json:"signals"`
}
