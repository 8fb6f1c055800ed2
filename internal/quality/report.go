package quality

import (
	"fmt"
	"strings"
)

// Render formats the report for terminal output.
func (r *Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Data Quality Report  %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Score: %d/100  Status: %s\n", r.Score, r.Status)
	fmt.Fprintf(&b, "Tracked series/instruments: %d\n", r.TotalSeries)

	section(&b, "Completeness", r.StaleSeries)
	section(&b, "Accuracy", r.Accuracy)
	section(&b, "Curve integrity", r.Curve)
	section(&b, "Point-in-time", r.PointInTime)

	return b.String()
}

func section(b *strings.Builder, title string, issues []Issue) {
	if len(issues) == 0 {
		fmt.Fprintf(b, "\n%s: OK\n", title)
		return
	}
	fmt.Fprintf(b, "\n%s: %d issue(s)\n", title, len(issues))
	for _, is := range issues {
		fmt.Fprintf(b, "  - %-28s %s\n", is.Subject, is.Detail)
	}
}
