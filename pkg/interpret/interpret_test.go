package interpret

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/vlogguard/pkg/detectors"
	"github.com/hed1ad/vlogguard/pkg/schema"
)

var sensors = []string{"coolant_temp", "vehicle_speed", "battery_voltage"}

var flagged = detectors.Result{Label: detectors.Anomaly, Value: 0.71}

func testRules(t *testing.T) []Rule {
	t.Helper()
	rules, err := Compile([]Spec{
		{
			Name:        "overheating",
			Category:    "OVERHEATING",
			Severity:    "HIGH",
			Explanation: "Engine overheating",
			When:        []Condition{Above("coolant_temp", 120)},
		},
		{
			Name:        "low_voltage",
			Category:    "low_voltage",
			Severity:    "medium",
			Explanation: "Battery voltage low",
			When:        []Condition{Below("battery_voltage", 11.5)},
		},
		{
			Name:     "hot_and_slow",
			Category: "OVERHEATING",
			Severity: "MEDIUM",
			When: []Condition{
				Above("coolant_temp", 100),
				Below("vehicle_speed", 20),
			},
		},
		{
			Name:     "dropout",
			Category: "SENSOR_DROPOUT",
			Severity: "LOW",
			When:     []Condition{Imputed(AnySensor)},
		},
	})
	require.NoError(t, err)
	return rules
}

func newRow(temp, speed, volt float64) schema.LogRow {
	return schema.NewRow(0, sensors, []float64{temp, speed, volt})
}

func TestInterpretScenarios(t *testing.T) {
	in, err := New(testRules(t), FirstMatch)
	require.NoError(t, err)

	tests := []struct {
		name         string
		row          schema.LogRow
		wantCategory Category
		wantSeverity Severity
		wantRule     string
	}{
		{"overheating", newRow(130, 60, 13.2), Overheating, High, "overheating"},
		{"low voltage", newRow(90, 60, 9.0), LowVoltage, Medium, "low_voltage"},
		{"conjunction", newRow(110, 10, 13.2), Overheating, Medium, "hot_and_slow"},
		{"conjunction partial", newRow(110, 50, 13.2), Unknown, Low, "unmatched"},
		{"boundary is not a hit", newRow(120, 60, 11.5), Unknown, Low, "unmatched"},
		{"nothing matches", newRow(90, 60, 13.2), Unknown, Low, "unmatched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := in.Interpret(tt.row, flagged)
			require.Len(t, findings, 1)
			f := findings[0]
			assert.Equal(t, tt.wantCategory, f.Category)
			assert.Equal(t, tt.wantSeverity, f.Severity)
			assert.Equal(t, tt.wantRule, f.Rule)
			assert.NotEmpty(t, f.Explanation)
			assert.NotEmpty(t, f.Signals)
		})
	}
}

func TestInterpretFirstMatchHonoursOrder(t *testing.T) {
	in, err := New(testRules(t), FirstMatch)
	require.NoError(t, err)

	findings := in.Interpret(newRow(130, 10, 9.0), flagged)
	require.Len(t, findings, 1)
	assert.Equal(t, "overheating", findings[0].Rule)
	assert.Equal(t, map[string]float64{"coolant_temp": 130}, findings[0].Signals)
	assert.Contains(t, findings[0].Explanation, "coolant_temp=130 above 120")
}

func TestInterpretAllMatches(t *testing.T) {
	in, err := New(testRules(t), AllMatches)
	require.NoError(t, err)

	row := newRow(130, 10, 9.0)
	row.Imputed[1] = true

	findings := in.Interpret(row, flagged)
	require.Len(t, findings, 3)
	assert.Equal(t, "overheating", findings[0].Rule)
	assert.Equal(t, "low_voltage", findings[1].Rule)
	// hot_and_slow is shadowed by the higher-priority OVERHEATING finding
	assert.Equal(t, "dropout", findings[2].Rule)
	assert.Contains(t, findings[2].Explanation, "vehicle_speed missing")
}

func TestInterpretUnknownCarriesAllSignals(t *testing.T) {
	in, err := New(nil, FirstMatch)
	require.NoError(t, err)

	findings := in.Interpret(newRow(90, 60, 13.2), flagged)
	require.Len(t, findings, 1)
	assert.Equal(t, Unknown, findings[0].Category)
	assert.Equal(t, Low, findings[0].Severity)
	assert.Len(t, findings[0].Signals, 3)
	assert.Contains(t, findings[0].Explanation, "0.710")
}

func TestInterpretSeverityIgnoresScore(t *testing.T) {
	in, err := New(testRules(t), FirstMatch)
	require.NoError(t, err)

	low := in.Interpret(newRow(130, 60, 13), detectors.Result{Label: detectors.Anomaly, Value: 0.51})
	high := in.Interpret(newRow(130, 60, 13), detectors.Result{Label: detectors.Anomaly, Value: 0.99})
	assert.Equal(t, low[0].Severity, high[0].Severity)
}

func TestCompileErrors(t *testing.T) {
	bound := 1.0
	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown category", Spec{Name: "a", Category: "EXPLODED", Severity: "HIGH", When: []Condition{Above("x", 1)}}},
		{"unknown reserved", Spec{Name: "a", Category: "UNKNOWN", Severity: "HIGH", When: []Condition{Above("x", 1)}}},
		{"bad severity", Spec{Name: "a", Category: "OVERHEATING", Severity: "CRITICAL", When: []Condition{Above("x", 1)}}},
		{"no conditions", Spec{Name: "a", Category: "OVERHEATING", Severity: "HIGH"}},
		{"no bound", Spec{Name: "a", Category: "OVERHEATING", Severity: "HIGH", When: []Condition{{Sensor: "x"}}}},
		{"no sensor", Spec{Name: "a", Category: "OVERHEATING", Severity: "HIGH", When: []Condition{{UpperBound: &bound}}}},
		{"wildcard bound", Spec{Name: "a", Category: "OVERHEATING", Severity: "HIGH", When: []Condition{Above(AnySensor, 1)}}},
		{"missing and bound", Spec{Name: "a", Category: "OVERHEATING", Severity: "HIGH",
			When: []Condition{{Sensor: "x", Missing: true, UpperBound: &bound}}}},
		{"inverted band", Spec{Name: "a", Category: "OVERHEATING", Severity: "HIGH",
			When: []Condition{{Sensor: "x", LowerBound: ptr(5), UpperBound: ptr(1)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Spec{tt.spec})
			assert.Error(t, err)
		})
	}

	_, err := Compile([]Spec{
		{Name: "dup", Category: "OVERHEATING", Severity: "HIGH", When: []Condition{Above("x", 1)}},
		{Name: "dup", Category: "OVERHEATING", Severity: "HIGH", When: []Condition{Above("x", 2)}},
	})
	assert.Error(t, err)
}

func TestCompileNamesUnnamedRules(t *testing.T) {
	rules, err := Compile([]Spec{{Category: "BRAKE_FAULT", Severity: "HIGH", When: []Condition{Above("brake", 50)}}})
	require.NoError(t, err)
	assert.Equal(t, "rule_1", rules[0].Name)
}

func TestBandCondition(t *testing.T) {
	c := Condition{Sensor: "battery_voltage", LowerBound: ptr(11.5), UpperBound: ptr(14.8)}
	for _, tt := range []struct {
		v    float64
		want bool
	}{{9, true}, {11.5, false}, {13, false}, {15.2, true}} {
		_, got := c.match(schema.NewRow(0, []string{"battery_voltage"}, []float64{tt.v}))
		assert.Equal(t, tt.want, got, tt.v)
	}
}

func TestConditionNaNNeverMatchesBounds(t *testing.T) {
	_, ok := Above("a", 1).match(schema.NewRow(0, []string{"a"}, []float64{math.NaN()}))
	assert.False(t, ok)
	_, ok = Above("zzz", 1).match(schema.NewRow(0, []string{"a"}, []float64{5}))
	assert.False(t, ok)
}

func TestCheckSensors(t *testing.T) {
	in, err := New(testRules(t), FirstMatch)
	require.NoError(t, err)

	assert.NoError(t, in.CheckSensors(sensors))
	assert.Error(t, in.CheckSensors([]string{"coolant_temp"}))
}

func TestParseHelpers(t *testing.T) {
	m, err := ParseMode("ALL")
	require.NoError(t, err)
	assert.Equal(t, AllMatches, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, FirstMatch, m)
	_, err = ParseMode("some")
	assert.Error(t, err)

	_, err = New(nil, Mode("some"))
	assert.Error(t, err)

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("high")))
	assert.Equal(t, High, s)
	b, err := Medium.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "MEDIUM", string(b))
	assert.Error(t, s.UnmarshalText([]byte("urgent")))
}

func ptr(v float64) *float64 { return &v }
