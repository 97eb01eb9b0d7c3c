package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/hed1ad/vlogguard/pkg/interpret"
)

// WriteText renders a human-readable listing of the report. Colour is used
// only when colored is set.
func WriteText(w io.Writer, r *Report, colored bool) error {
	title := color.New(color.Bold)
	high := color.New(color.FgHiRed, color.Bold)
	medium := color.New(color.FgYellow)
	low := color.New(color.FgCyan)
	dim := color.New(color.Faint)
	if !colored {
		for _, c := range []*color.Color{title, high, medium, low, dim} {
			c.DisableColor()
		}
	}
	sevColor := map[interpret.Severity]*color.Color{
		interpret.High:   high,
		interpret.Medium: medium,
		interpret.Low:    low,
	}

	var b strings.Builder
	title.Fprintf(&b, "Vehicle log analysis %s\n", r.ID)
	fmt.Fprintf(&b, "source: %s  profile: %s  model: %s  status: %s\n",
		r.Source, r.Profile, r.ModelVersion, r.Status)

	s := r.Summary
	fmt.Fprintf(&b, "rows: %d analyzed / %d uploaded (%d dropped)  anomalies: %d\n",
		s.TotalRows, s.UploadedRows, s.DroppedRows, s.AnomalyCount)
	fmt.Fprintf(&b, "severity: HIGH=%d MEDIUM=%d LOW=%d\n",
		s.BySeverity["HIGH"], s.BySeverity["MEDIUM"], s.BySeverity["LOW"])
	if s.CoercedCells > 0 || s.BadTimestamps > 0 {
		dim.Fprintf(&b, "unreadable cells: %d values, %d timestamps\n", s.CoercedCells, s.BadTimestamps)
	}

	anomalies := r.Anomalies()
	if len(anomalies) == 0 {
		fmt.Fprintln(&b, "no anomalies detected")
	}
	for _, row := range anomalies {
		fmt.Fprintf(&b, "\nrow %d", row.Index)
		if row.Timestamp != nil {
			fmt.Fprintf(&b, " @ %s", row.Timestamp.Format(time.RFC3339))
		}
		dim.Fprintf(&b, "  score=%.3f\n", row.Score)
		for _, f := range row.Findings {
			sevColor[f.Severity].Fprintf(&b, "  [%-6s] %s", f.Severity, f.Category)
			fmt.Fprintf(&b, "  %s\n", f.Explanation)
		}
		if row.Advice != nil {
			fmt.Fprintf(&b, "  advice: %s\n", row.Advice.RootCause)
			for _, a := range row.Advice.RecommendedActions {
				fmt.Fprintf(&b, "    - %s\n", a)
			}
		}
	}

	for _, d := range r.Dropped {
		dim.Fprintf(&b, "dropped row %d: %s\n", d.Index, d.Reason)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
