// Package report assembles per-row analysis outcomes into the report
// handed to presentation layers.
package report

import (
	"time"

	"github.com/hed1ad/vlogguard/pkg/detectors"
	"github.com/hed1ad/vlogguard/pkg/interpret"
)

// Status of a finished analysis.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
)

// Advice is optional free-text guidance attached to an anomalous row.
// It never changes a finding's severity.
type Advice struct {
	RootCause          string   `json:"root_cause"`
	SuggestedSeverity  string   `json:"suggested_severity,omitempty"`
	RecommendedActions []string `json:"recommended_actions"`
}

// RowOutcome is the result for one row that survived preprocessing.
// Findings is empty, never nil, for normal rows.
type RowOutcome struct {
	Index     int                 `json:"index"`
	Timestamp *time.Time          `json:"timestamp,omitempty"`
	Label     detectors.Label     `json:"label"`
	Score     float64             `json:"score"`
	Findings  []interpret.Finding `json:"findings"`
	Imputed   []string            `json:"imputed,omitempty"`
	Advice    *Advice             `json:"advice,omitempty"`
}

// DroppedRow is a row removed by preprocessing.
type DroppedRow struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Summary holds the aggregate counts of a report.
type Summary struct {
	UploadedRows  int            `json:"uploaded_rows"`
	TotalRows     int            `json:"total_rows"`
	DroppedRows   int            `json:"dropped_rows"`
	AnomalyCount  int            `json:"anomaly_count"`
	FindingCount  int            `json:"finding_count"`
	BySeverity    map[string]int `json:"by_severity"`
	ByCategory    map[string]int `json:"by_category"`
	ImputedValues int            `json:"imputed_values"`
	CoercedCells  int            `json:"coerced_cells"`
	BadTimestamps int            `json:"bad_timestamps"`
}

// Report is the immutable result of one analysis run.
type Report struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Status       Status       `json:"status"`
	Profile      string       `json:"profile"`
	ModelVersion string       `json:"model_version"`
	Threshold    float64      `json:"threshold"`
	Policy       string       `json:"policy,omitempty"`
	Mode         string       `json:"interpret_mode,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Summary      Summary      `json:"summary"`
	Rows         []RowOutcome `json:"rows"`
	Dropped      []DroppedRow `json:"dropped,omitempty"`
}

// Anomalies returns the anomalous rows in input order.
func (r *Report) Anomalies() []RowOutcome {
	var out []RowOutcome
	for _, row := range r.Rows {
		if row.Label == detectors.Anomaly {
			out = append(out, row)
		}
	}
	return out
}
