package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/vlogguard/pkg/detectors"
	"github.com/hed1ad/vlogguard/pkg/interpret"
)

// Meta describes the run a report belongs to.
type Meta struct {
	ID           string
	Source       string
	Profile      string
	ModelVersion string
	Threshold    float64
	// Policy and Mode name the missing-value policy and interpretation mode.
	Policy string
	Mode   string
	// UploadedRows is the number of data rows in the input file.
	UploadedRows int
	// CoercedCells is the number of malformed cells read as missing.
	CoercedCells int
	// BadTimestamps is the number of timestamp cells that did not parse.
	BadTimestamps int
}

// Assembler collects outcomes for one run. It is not safe for concurrent use.
type Assembler struct {
	meta    Meta
	rows    []RowOutcome
	dropped []DroppedRow
	now     func() time.Time
}

// NewAssembler starts a report. An empty ID is replaced by a random UUID.
func NewAssembler(meta Meta) *Assembler {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	return &Assembler{meta: meta, now: time.Now}
}

// Add appends the outcome of the next row. Outcomes must be added in input order.
func (a *Assembler) Add(o RowOutcome) {
	if o.Findings == nil {
		o.Findings = []interpret.Finding{}
	}
	a.rows = append(a.rows, o)
}

// Drop records a row removed before scoring.
func (a *Assembler) Drop(index int, reason string) {
	a.dropped = append(a.dropped, DroppedRow{Index: index, Reason: reason})
}

// Build computes the summary in a single pass and returns the report. The
// assembler must not be used afterwards.
func (a *Assembler) Build() *Report {
	s := Summary{
		UploadedRows:  a.meta.UploadedRows,
		TotalRows:     len(a.rows),
		DroppedRows:   len(a.dropped),
		CoercedCells:  a.meta.CoercedCells,
		BadTimestamps: a.meta.BadTimestamps,
		BySeverity:    make(map[string]int, len(interpret.Severities)),
		ByCategory:    make(map[string]int),
	}
	for _, sev := range interpret.Severities {
		s.BySeverity[sev.String()] = 0
	}

	for _, row := range a.rows {
		if row.Label == detectors.Anomaly {
			s.AnomalyCount++
		}
		s.ImputedValues += len(row.Imputed)
		for _, f := range row.Findings {
			s.FindingCount++
			s.BySeverity[f.Severity.String()]++
			s.ByCategory[string(f.Category)]++
		}
	}

	rows := a.rows
	if rows == nil {
		rows = []RowOutcome{}
	}

	return &Report{
		ID:           a.meta.ID,
		Source:       a.meta.Source,
		Status:       StatusCompleted,
		Profile:      a.meta.Profile,
		ModelVersion: a.meta.ModelVersion,
		Threshold:    a.meta.Threshold,
		Policy:       a.meta.Policy,
		Mode:         a.meta.Mode,
		CreatedAt:    a.now().UTC(),
		Summary:      s,
		Rows:         rows,
		Dropped:      a.dropped,
	}
}
