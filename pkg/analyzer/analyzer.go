// Package analyzer runs the vehicle-log pipeline: validation, cleaning,
// scoring, interpretation and report assembly.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/hed1ad/vlogguard/pkg/detectors"
	vcsv "github.com/hed1ad/vlogguard/pkg/io/csv"
	"github.com/hed1ad/vlogguard/pkg/interpret"
	"github.com/hed1ad/vlogguard/pkg/preprocess"
	"github.com/hed1ad/vlogguard/pkg/report"
	"github.com/hed1ad/vlogguard/pkg/schema"
)

// Enricher attaches free-text advice to an anomalous row. Implementations
// must not fail: they return nil or fallback advice instead.
type Enricher interface {
	Advise(ctx context.Context, row schema.LogRow, score float64, findings []interpret.Finding) *report.Advice
}

// Config is the immutable state shared by every run.
type Config struct {
	Profile      string
	ModelVersion string
	Schema       schema.Schema
	Preprocessor *preprocess.Preprocessor
	Scorer       detectors.Scorer
	Threshold    float64
	Interpreter  *interpret.Interpreter
}

// Stats are cumulative counters over the analyzer's lifetime.
type Stats struct {
	Runs      int64 `json:"runs"`
	Failures  int64 `json:"failures"`
	Rows      int64 `json:"rows"`
	Anomalies int64 `json:"anomalies"`
}

// Analyzer is safe for concurrent use.
type Analyzer struct {
	cfg         Config
	logger      *zap.Logger
	enricher    Enricher
	adviceLimit int

	runs      *atomic.Int64
	failures  *atomic.Int64
	rows      *atomic.Int64
	anomalies *atomic.Int64
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithEnricher attaches advice to every anomalous row.
func WithEnricher(e Enricher) Option {
	return func(a *Analyzer) {
		a.enricher = e
	}
}

// WithAdviceLimit caps how many anomalous rows per report are sent to the
// enricher. Zero means no cap.
func WithAdviceLimit(n int) Option {
	return func(a *Analyzer) {
		a.adviceLimit = n
	}
}

var (
	ErrNoScorer      = errors.New("analyzer needs a scorer")
	ErrNoPreprocess  = errors.New("analyzer needs a preprocessor")
	ErrNoInterpreter = errors.New("analyzer needs an interpreter")
)

// New checks that the pieces fit together and returns an Analyzer.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	switch {
	case cfg.Scorer == nil:
		return nil, ErrNoScorer
	case cfg.Preprocessor == nil:
		return nil, ErrNoPreprocess
	case cfg.Interpreter == nil:
		return nil, ErrNoInterpreter
	}

	sensors := cfg.Schema.Sensors()
	features := cfg.Preprocessor.Features()
	if len(sensors) != len(features) {
		return nil, fmt.Errorf("profile has %d sensors, model expects %d", len(sensors), len(features))
	}
	for i := range sensors {
		if sensors[i] != features[i] {
			return nil, fmt.Errorf("sensor %d is %q in the profile but %q in the model", i, sensors[i], features[i])
		}
	}
	if err := cfg.Interpreter.CheckSensors(sensors); err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:       cfg,
		logger:    zap.NewNop(),
		runs:      atomic.NewInt64(0),
		failures:  atomic.NewInt64(0),
		rows:      atomic.NewInt64(0),
		anomalies: atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze reads a CSV log from src and returns its report. name is used as
// the report source. Schema problems yield *schema.SchemaError and
// unrepairable rows under the reject policy yield *preprocess.DataError.
func (a *Analyzer) Analyze(ctx context.Context, src io.Reader, name string) (*report.Report, error) {
	a.runs.Inc()
	started := time.Now()

	rep, err := a.analyze(ctx, src, name)
	if err != nil {
		a.failures.Inc()
		a.logger.Warn("analysis failed", zap.String("source", name), zap.Error(err))
		return nil, err
	}

	a.rows.Add(int64(rep.Summary.TotalRows))
	a.anomalies.Add(int64(rep.Summary.AnomalyCount))
	a.logger.Info("analysis completed",
		zap.String("id", rep.ID),
		zap.String("source", name),
		zap.Int("rows", rep.Summary.TotalRows),
		zap.Int("dropped", rep.Summary.DroppedRows),
		zap.Int("anomalies", rep.Summary.AnomalyCount),
		zap.Duration("took", time.Since(started)),
	)
	return rep, nil
}

func (a *Analyzer) analyze(ctx context.Context, src io.Reader, name string) (*report.Report, error) {
	table, err := vcsv.NewReader(src).Read()
	if err != nil {
		return nil, &schema.SchemaError{Reason: "unreadable CSV", Err: err}
	}
	frame, err := a.cfg.Schema.Validate(table)
	if err != nil {
		return nil, err
	}

	cleaned, err := a.cfg.Preprocessor.Run(frame.Rows)
	if err != nil {
		return nil, err
	}

	asm := report.NewAssembler(report.Meta{
		Source:        name,
		Profile:       a.cfg.Profile,
		ModelVersion:  a.cfg.ModelVersion,
		Threshold:     a.cfg.Threshold,
		Policy:        string(a.cfg.Preprocessor.Policy()),
		Mode:          string(a.cfg.Interpreter.Mode()),
		UploadedRows:  len(frame.Rows),
		CoercedCells:  frame.Coerced,
		BadTimestamps: frame.BadTimestamps,
	})
	for _, d := range cleaned.Dropped {
		asm.Drop(d.Index, d.Reason)
	}

	advised := 0
	for i, row := range cleaned.Rows {
		res, err := a.cfg.Scorer.Score(cleaned.Features[i])
		if err != nil {
			return nil, fmt.Errorf("score row %d: %w", row.Index, err)
		}

		out := report.RowOutcome{
			Index:   row.Index,
			Label:   res.Label,
			Score:   res.Value,
			Imputed: row.ImputedSensors(),
		}
		if row.HasTimestamp() {
			ts := row.Timestamp
			out.Timestamp = &ts
		}
		if res.IsAnomaly() {
			out.Findings = a.cfg.Interpreter.Interpret(row, res)
			if a.enricher != nil && (a.adviceLimit == 0 || advised < a.adviceLimit) {
				out.Advice = a.enricher.Advise(ctx, row, res.Value, out.Findings)
				advised++
			}
		}
		asm.Add(out)
	}

	return asm.Build(), nil
}

// Stats returns a snapshot of the run counters.
func (a *Analyzer) Stats() Stats {
	return Stats{
		Runs:      a.runs.Load(),
		Failures:  a.failures.Load(),
		Rows:      a.rows.Load(),
		Anomalies: a.anomalies.Load(),
	}
}

// Profile returns the name of the sensor profile in use.
func (a *Analyzer) Profile() string {
	return a.cfg.Profile
}

// ModelVersion returns the version of the loaded model.
func (a *Analyzer) ModelVersion() string {
	return a.cfg.ModelVersion
}

// Rules returns the names of the interpretation rules in evaluation order.
func (a *Analyzer) Rules() []string {
	rules := a.cfg.Interpreter.Rules()
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	return names
}

// Policy returns the missing-value policy.
func (a *Analyzer) Policy() preprocess.Policy {
	return a.cfg.Preprocessor.Policy()
}

// Mode returns the interpretation mode.
func (a *Analyzer) Mode() interpret.Mode {
	return a.cfg.Interpreter.Mode()
}
