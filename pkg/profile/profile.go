// Package profile defines the known vehicle log layouts and their default
// fault rules.
package profile

import (
	"fmt"
	"sort"

	"github.com/hed1ad/vlogguard/pkg/interpret"
	"github.com/hed1ad/vlogguard/pkg/schema"
)

// Profile describes one log layout.
type Profile struct {
	Name             string
	Sensors          []string
	TimestampColumn  string
	RequireTimestamp bool
	Rules            []interpret.Spec
}

// Schema returns the validation schema of the profile.
func (p Profile) Schema() schema.Schema {
	return schema.New(p.Sensors, p.TimestampColumn, p.RequireTimestamp)
}

const (
	Synthetic  = "synthetic"
	Telematics = "telematics"
)

var registry = map[string]Profile{
	Synthetic: {
		Name: Synthetic,
		Sensors: []string{
			"engine_temp",
			"vehicle_speed",
			"battery_voltage",
			"brake_pressure",
		},
		TimestampColumn: "timestamp",
		Rules:           syntheticRules,
	},
	Telematics: {
		Name: Telematics,
		Sensors: []string{
			"air_intake_temperature",
			"calculated_engine_load",
			"control_module_voltage",
			"engine_coolant_temperature",
			"engine_rpm",
			"intake_manifold_absolute_pressure",
			"throttle_position",
			"vehicle_speed",
		},
		TimestampColumn: "timestamp",
		Rules:           telematicsRules,
	},
}

// Get returns the named profile.
func Get(name string) (Profile, error) {
	p, ok := registry[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (known: %v)", name, Names())
	}
	return p, nil
}

// Names returns the registered profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var syntheticRules = []interpret.Spec{
	{
		Name:        "critical_overheating",
		Category:    "OVERHEATING",
		Severity:    "HIGH",
		Explanation: "Critical Overheating Detected: engine temperature is beyond the safe operating limit. Stop the vehicle and inspect the cooling system.",
		When:        []interpret.Condition{interpret.Above("engine_temp", 120)},
	},
	{
		Name:        "overheating_low_speed",
		Category:    "OVERHEATING",
		Severity:    "HIGH",
		Explanation: "Overheating at Low Speed: engine temperature is dangerously high while the vehicle is slow or idle. Suspect cooling system failure such as a stuck thermostat or fan fault.",
		When: []interpret.Condition{
			interpret.Above("engine_temp", 105),
			interpret.Below("vehicle_speed", 20),
		},
	},
	{
		Name:        "elevated_engine_temp",
		Category:    "OVERHEATING",
		Severity:    "MEDIUM",
		Explanation: "Engine Temperature Anomaly: engine is running hotter than normal for the current vehicle speed. Potential cooling issue.",
		When: []interpret.Condition{
			interpret.Above("engine_temp", 100),
			interpret.Below("vehicle_speed", 40),
		},
	},
	{
		Name:        "deep_discharge",
		Category:    "LOW_VOLTAGE",
		Severity:    "MEDIUM",
		Explanation: "Low Battery Voltage: battery voltage is well below the operating range. Check battery health and connections.",
		When:        []interpret.Condition{interpret.Below("battery_voltage", 11.5)},
	},
	{
		Name:        "charging_fault",
		Category:    "CHARGING_FAULT",
		Severity:    "HIGH",
		Explanation: "Charging System Fault: battery voltage is low while the vehicle is in motion. Suspect alternator failure. Risk of vehicle stalling.",
		When: []interpret.Condition{
			interpret.Below("battery_voltage", 12.0),
			interpret.Above("vehicle_speed", 10),
		},
	},
	{
		Name:        "low_battery",
		Category:    "LOW_VOLTAGE",
		Severity:    "MEDIUM",
		Explanation: "Low Battery Voltage: battery voltage is below the normal operating range. Could indicate an aging battery or early-stage alternator issue.",
		When:        []interpret.Condition{interpret.Below("battery_voltage", 12.2)},
	},
	{
		Name:        "brake_at_speed",
		Category:    "BRAKE_FAULT",
		Severity:    "HIGH",
		Explanation: "Brake System Anomaly: high brake pressure at highway speed without significant deceleration. Could indicate a sensor fault or unintended braking.",
		When: []interpret.Condition{
			interpret.Above("brake_pressure", 50),
			interpret.Above("vehicle_speed", 80),
		},
	},
	{
		Name:        "sensor_dropout",
		Category:    "SENSOR_DROPOUT",
		Severity:    "MEDIUM",
		Explanation: "Sensor Dropout: one or more readings were missing and replaced with reference values. Check sensor wiring and connectors.",
		When:        []interpret.Condition{interpret.Imputed(interpret.AnySensor)},
	},
}

var telematicsRules = []interpret.Spec{
	{
		Name:        "coolant_overheating",
		Category:    "OVERHEATING",
		Severity:    "HIGH",
		Explanation: "Coolant Overheating: engine coolant temperature is beyond the safe operating limit.",
		When:        []interpret.Condition{interpret.Above("engine_coolant_temperature", 120)},
	},
	{
		Name:        "coolant_hot_at_idle",
		Category:    "OVERHEATING",
		Severity:    "MEDIUM",
		Explanation: "Coolant Temperature Anomaly: coolant is hot while the vehicle is idle. Check radiator fan operation.",
		When: []interpret.Condition{
			interpret.Above("engine_coolant_temperature", 105),
			interpret.Below("vehicle_speed", 5),
		},
	},
	{
		Name:        "module_undervoltage",
		Category:    "LOW_VOLTAGE",
		Severity:    "MEDIUM",
		Explanation: "Control Module Undervoltage: supply voltage is below the operating range.",
		When:        []interpret.Condition{interpret.Below("control_module_voltage", 11.5)},
	},
	{
		Name:        "charging_fault",
		Category:    "CHARGING_FAULT",
		Severity:    "HIGH",
		Explanation: "Charging System Fault: supply voltage is low while the engine is running. Suspect alternator failure.",
		When: []interpret.Condition{
			interpret.Below("control_module_voltage", 12.5),
			interpret.Above("engine_rpm", 600),
		},
	},
	{
		Name:        "sensor_dropout",
		Category:    "SENSOR_DROPOUT",
		Severity:    "MEDIUM",
		Explanation: "Sensor Dropout: one or more readings were missing and replaced with reference values.",
		When:        []interpret.Condition{interpret.Imputed(interpret.AnySensor)},
	},
}
