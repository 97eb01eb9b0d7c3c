package schema

import (
	"math"
	"time"
)

// LogRow is one timestamped sample. Values follow the order of Sensors();
// a NaN value is a missing reading. After preprocessing no NaN remains and
// Imputed marks the readings that were filled in.
type LogRow struct {
	Index     int
	Timestamp time.Time
	Values    []float64
	Imputed   []bool

	sensors []string
}

// NewRow builds a row over the given sensor order. Values are copied.
func NewRow(index int, sensors []string, values []float64) LogRow {
	v := make([]float64, len(values))
	copy(v, values)
	return LogRow{
		Index:   index,
		Values:  v,
		Imputed: make([]bool, len(values)),
		sensors: sensors,
	}
}

// Sensors returns the sensor names, aligned with Values.
func (r LogRow) Sensors() []string {
	return r.sensors
}

// HasTimestamp reports whether the row carried a parseable timestamp.
func (r LogRow) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// Value returns the reading of the named sensor.
func (r LogRow) Value(name string) (float64, bool) {
	i := r.pos(name)
	if i < 0 {
		return 0, false
	}
	return r.Values[i], true
}

// WasImputed reports whether the named reading was filled in by preprocessing.
func (r LogRow) WasImputed(name string) bool {
	i := r.pos(name)
	return i >= 0 && i < len(r.Imputed) && r.Imputed[i]
}

// ImputedSensors lists the sensors whose readings were filled in.
func (r LogRow) ImputedSensors() []string {
	var out []string
	for i, imp := range r.Imputed {
		if imp {
			out = append(out, r.sensors[i])
		}
	}
	return out
}

// MissingCount returns the number of NaN readings.
func (r LogRow) MissingCount() int {
	n := 0
	for _, v := range r.Values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Readings returns the non-missing readings keyed by sensor name.
func (r LogRow) Readings() map[string]float64 {
	out := make(map[string]float64, len(r.Values))
	for i, v := range r.Values {
		if !math.IsNaN(v) {
			out[r.sensors[i]] = v
		}
	}
	return out
}

// Clone returns a deep copy of the row.
func (r LogRow) Clone() LogRow {
	c := r
	c.Values = append([]float64(nil), r.Values...)
	c.Imputed = append([]bool(nil), r.Imputed...)
	return c
}

func (r LogRow) pos(name string) int {
	for i, s := range r.sensors {
		if s == name {
			return i
		}
	}
	return -1
}
