// Package synth generates synthetic vehicle logs for the synthetic profile.
// Normal logs train the reference model; mixed logs carry injected faults
// and exercise the analysis path.
package synth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// Header is the column order written by WriteCSV.
var Header = []string{"timestamp", "vehicle_speed", "engine_temp", "battery_voltage", "brake_pressure", "error_code"}

// Fault codes written to the error_code column of injected rows.
const (
	CodeNone          = 0
	CodeStuckThermo   = 101
	CodeAlternator    = 202
	CodeBrakeDragging = 305
)

type phase int

const (
	idle phase = iota
	city
	highway
)

// Record is one generated log line.
type Record struct {
	Timestamp      time.Time
	VehicleSpeed   float64
	EngineTemp     float64
	BatteryVoltage float64
	BrakePressure  float64
	ErrorCode      int
}

// Values returns the readings in the synthetic profile's sensor order.
func (r Record) Values() []float64 {
	return []float64{r.EngineTemp, r.VehicleSpeed, r.BatteryVoltage, r.BrakePressure}
}

// Config controls a generation run. The same config always yields the same
// records.
type Config struct {
	Rows  int
	Seed  int64
	Start time.Time
	Step  time.Duration
	// Inject adds thermostat, alternator and brake faults to a fraction of rows.
	Inject bool
}

func (c Config) withDefaults() Config {
	if c.Start.IsZero() {
		c.Start = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	}
	if c.Step <= 0 {
		c.Step = time.Second
	}
	return c
}

var ErrNoRows = errors.New("row count must be positive")

// Generate produces cfg.Rows records.
func Generate(cfg Config) ([]Record, error) {
	if cfg.Rows <= 0 {
		return nil, ErrNoRows
	}
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	out := make([]Record, cfg.Rows)
	temp := 88.0
	for i := range out {
		p := pickPhase(rng)

		var speed float64
		switch p {
		case idle:
			speed = rng.Float64()
		case city:
			speed = uniform(rng, 10, 60)
		case highway:
			speed = uniform(rng, 80, 120)
		}

		// Temperature lags behind the driving phase.
		temp += (phaseTemp(p) - temp) * 0.1
		temp += rng.NormFloat64() * 0.3

		// The alternator holds the voltage near its regulated level.
		voltage := phaseVoltage(p) + rng.NormFloat64()*0.1
		if speed > 80 {
			voltage -= uniform(rng, 0.05, 0.1)
		}

		brake := 0.0
		if p == city {
			brake = rng.ExpFloat64() * 5
		}

		out[i] = Record{
			Timestamp:      cfg.Start.Add(time.Duration(i) * cfg.Step),
			VehicleSpeed:   clip(speed+rng.NormFloat64()*2, 0, 200),
			EngineTemp:     clip(temp, 80, 100),
			BatteryVoltage: clip(voltage, 12.2, 14.8),
			BrakePressure:  clip(brake, 0, 20),
		}
	}

	if cfg.Inject {
		inject(rng, out)
	}
	return out, nil
}

func pickPhase(rng *rand.Rand) phase {
	switch x := rng.Float64(); {
	case x < 0.2:
		return idle
	case x < 0.7:
		return city
	default:
		return highway
	}
}

func phaseTemp(p phase) float64 {
	switch p {
	case idle:
		return 86
	case highway:
		return 96
	default:
		return 90
	}
}

func phaseVoltage(p phase) float64 {
	switch p {
	case idle:
		return 13.6
	default:
		return 13.9
	}
}

func inject(rng *rand.Rand, recs []Record) {
	for i := range recs {
		r := &recs[i]
		switch {
		case r.VehicleSpeed < 10 && i > 100 && rng.Float64() < 0.1:
			r.EngineTemp = uniform(rng, 105, 115)
			r.ErrorCode = CodeStuckThermo
		case r.VehicleSpeed > 80 && rng.Float64() < 0.05:
			r.BrakePressure = uniform(rng, 50, 80)
			r.ErrorCode = CodeBrakeDragging
		case r.VehicleSpeed > 40 && rng.Float64() < 0.05:
			r.BatteryVoltage = uniform(rng, 10.5, 11.8)
			r.ErrorCode = CodeAlternator
		}
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// WriteCSV writes records with Header as the first line.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	line := make([]string, len(Header))
	for _, r := range recs {
		line[0] = r.Timestamp.Format(time.RFC3339)
		line[1] = format(r.VehicleSpeed)
		line[2] = format(r.EngineTemp)
		line[3] = format(r.BatteryVoltage)
		line[4] = format(r.BrakePressure)
		line[5] = strconv.Itoa(r.ErrorCode)
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
