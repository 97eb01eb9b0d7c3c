// Package schema validates raw sensor tables against an expected column set.
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	vio "github.com/hed1ad/vlogguard/pkg/io"
)

// Type is the declared type of a column.
type Type int

const (
	// Numeric columns hold sensor readings.
	Numeric Type = iota
	// Timestamp columns hold the sample time.
	Timestamp
)

func (t Type) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Timestamp:
		return "timestamp"
	}
	return "unknown"
}

// Column declares one expected column.
type Column struct {
	Name     string
	Type     Type
	Required bool
}

// Schema is the expected layout of a log file.
type Schema struct {
	Columns []Column
}

// New builds a schema from sensor names and an optional timestamp column.
// Sensors are always required; the timestamp is required only when requireTS is set.
func New(sensors []string, timestamp string, requireTS bool) Schema {
	cols := make([]Column, 0, len(sensors)+1)
	if timestamp != "" {
		cols = append(cols, Column{Name: timestamp, Type: Timestamp, Required: requireTS})
	}
	for _, s := range sensors {
		cols = append(cols, Column{Name: s, Type: Numeric, Required: true})
	}
	return Schema{Columns: cols}
}

// Sensors returns the numeric column names in declaration order.
func (s Schema) Sensors() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Type == Numeric {
			out = append(out, c.Name)
		}
	}
	return out
}

// TimestampColumn returns the timestamp column name, or "".
func (s Schema) TimestampColumn() string {
	for _, c := range s.Columns {
		if c.Type == Timestamp {
			return c.Name
		}
	}
	return ""
}

// Frame is a validated table: typed rows in input order.
type Frame struct {
	Sensors []string
	Rows    []LogRow
	// Coerced counts malformed numeric cells that were turned into missing values.
	Coerced int
	// BadTimestamps counts timestamp cells that could not be parsed.
	BadTimestamps int
}

// Validate checks column presence and types and converts the table into rows.
// It fails fast: any schema problem yields a *SchemaError and no rows.
func (s Schema) Validate(t *vio.Table) (*Frame, error) {
	if t == nil || len(t.Header) == 0 {
		return nil, &SchemaError{Reason: "input has no header"}
	}

	serr := &SchemaError{}
	index := make(map[string]int, len(s.Columns))
	for _, c := range s.Columns {
		pos := t.Column(c.Name)
		if pos < 0 {
			if c.Required {
				serr.Missing = append(serr.Missing, c.Name)
			}
			continue
		}
		index[c.Name] = pos
	}
	if len(serr.Missing) > 0 {
		return nil, serr
	}
	if t.Len() == 0 {
		return nil, &SchemaError{Reason: "input has no data rows"}
	}

	sensors := s.Sensors()
	frame := &Frame{
		Sensors: sensors,
		Rows:    make([]LogRow, t.Len()),
	}
	for i := range frame.Rows {
		frame.Rows[i] = LogRow{
			Index:   i,
			Values:  make([]float64, len(sensors)),
			Imputed: make([]bool, len(sensors)),
			sensors: sensors,
		}
	}

	for j, name := range sensors {
		col := index[name]
		nonNull, parsed := 0, 0
		for i := range frame.Rows {
			cell := t.Cell(i, col)
			if IsNull(cell) {
				frame.Rows[i].Values[j] = math.NaN()
				continue
			}
			nonNull++
			v, ok := ParseNumber(cell)
			if !ok {
				frame.Rows[i].Values[j] = math.NaN()
				continue
			}
			parsed++
			frame.Rows[i].Values[j] = v
		}
		if nonNull > 0 && parsed == 0 {
			serr.Mistyped = append(serr.Mistyped, name)
		}
		frame.Coerced += nonNull - parsed
	}

	if ts := s.TimestampColumn(); ts != "" {
		if col, ok := index[ts]; ok {
			nonNull, parsed := 0, 0
			for i := range frame.Rows {
				cell := t.Cell(i, col)
				if IsNull(cell) {
					continue
				}
				nonNull++
				tm, ok := ParseTime(cell)
				if !ok {
					continue
				}
				parsed++
				frame.Rows[i].Timestamp = tm
			}
			if nonNull > 0 && parsed == 0 {
				serr.Mistyped = append(serr.Mistyped, ts)
			}
			frame.BadTimestamps = nonNull - parsed
		}
	}

	if len(serr.Mistyped) > 0 {
		return nil, serr
	}
	return frame, nil
}

var nullTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
	"-":    {},
}

// IsNull reports whether a cell denotes a missing value.
func IsNull(cell string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// ParseNumber converts a cell to a finite float.
func ParseNumber(cell string) (float64, bool) {
	v, err := cast.ToFloat64E(strings.TrimSpace(cell))
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseTime converts a cell to a time. Plain numbers are read as unix seconds.
func ParseTime(cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if secs, ok := ParseNumber(cell); ok {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
	}
	tm, err := cast.ToTimeE(cell)
	if err != nil {
		return time.Time{}, false
	}
	return tm, true
}

// SchemaError reports a structural problem with the input. No report is
// produced for an input that fails schema validation.
type SchemaError struct {
	Missing  []string
	Mistyped []string
	Reason   string
	Err      error
}

func (e *SchemaError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Mistyped) > 0 {
		parts = append(parts, fmt.Sprintf("non-numeric or unparseable columns: %s", strings.Join(e.Mistyped, ", ")))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "schema error"
	}
	return "schema error: " + strings.Join(parts, "; ")
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
