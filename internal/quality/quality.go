// Package quality scores the landed store across four independent checks:
// completeness (staleness), accuracy (plausible ranges), curve integrity and
// point-in-time correctness. A failed check is data, reported in the score
// and detail; only a query failure is an error.
package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"macroflow/internal/store"
	"macroflow/logger"
)

// ValueRange bounds the plausible values of one series for the accuracy
// check.
type ValueRange struct {
	Series string
	Min    float64
	Max    float64
}

// Config carries the engine's thresholds. Zero values fall back to the
// defaults used in production.
type Config struct {
	// AccuracyRanges is the fixed set of series with known plausible
	// bounds.
	AccuracyRanges []ValueRange

	// MinCurveTenors is the smallest tenor count a (curve, date) pair may
	// carry before it is flagged as insufficient.
	MinCurveTenors int

	// Now overrides the staleness reference clock in tests.
	Now func() time.Time
}

// Issue is one finding from one check.
type Issue struct {
	Check   string
	Subject string
	Detail  string
}

// Report is the aggregated outcome of all checks.
type Report struct {
	Score  int
	Status string

	StaleSeries []Issue
	TotalSeries int
	Accuracy    []Issue
	Curve       []Issue
	PointInTime []Issue
	GeneratedAt time.Time
}

// Engine reads the landed store back and computes the composite reliability
// score. It never mutates the store.
type Engine struct {
	store *store.Store
	cfg   Config
	log   *logger.Log
}

func NewEngine(s *store.Store, cfg Config) *Engine {
	if cfg.MinCurveTenors <= 0 {
		cfg.MinCurveTenors = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{store: s, cfg: cfg, log: logger.GetLogger()}
}

// RunAllChecks executes every check and aggregates the score. Check findings
// never surface as errors; only store access failures do.
func (e *Engine) RunAllChecks(ctx context.Context) (*Report, error) {
	log := e.log.WithComponent("quality_engine")

	rep := &Report{GeneratedAt: e.cfg.Now().UTC()}

	stale, total, err := e.checkCompleteness(ctx)
	if err != nil {
		return nil, fmt.Errorf("completeness check: %w", err)
	}
	rep.StaleSeries = stale
	rep.TotalSeries = total

	if rep.Accuracy, err = e.checkAccuracy(ctx); err != nil {
		return nil, fmt.Errorf("accuracy check: %w", err)
	}
	if rep.Curve, err = e.checkCurveIntegrity(ctx); err != nil {
		return nil, fmt.Errorf("curve integrity check: %w", err)
	}
	if rep.PointInTime, err = e.checkPointInTime(ctx); err != nil {
		return nil, fmt.Errorf("point-in-time check: %w", err)
	}

	rep.Score = score(rep)
	rep.Status = statusFor(rep.Score)

	log.WithFields(logger.Fields{
		"score":        rep.Score,
		"status":       rep.Status,
		"stale_series": len(rep.StaleSeries),
		"accuracy":     len(rep.Accuracy),
		"curve":        len(rep.Curve),
		"pit":          len(rep.PointInTime),
	}).Info("data quality checks completed")

	return rep, nil
}

// checkCompleteness flags every active series or instrument whose latest
// stored observation is older than its frequency's staleness threshold. A
// series with no rows at all is always stale.
func (e *Engine) checkCompleteness(ctx context.Context) ([]Issue, int, error) {
	now := e.cfg.Now().UTC()
	var issues []Issue

	series, err := e.store.ActiveSeriesStatus(ctx)
	if err != nil {
		return nil, 0, err
	}
	for _, st := range series {
		if !st.HasData {
			issues = append(issues, Issue{
				Check:   "completeness",
				Subject: st.SourceName + "/" + st.Code,
				Detail:  "no observations stored",
			})
			continue
		}
		limit := st.Frequency.StalenessDays()
		age := int(now.Sub(st.LastDate).Hours() / 24)
		if age > limit {
			issues = append(issues, Issue{
				Check:   "completeness",
				Subject: st.SourceName + "/" + st.Code,
				Detail:  fmt.Sprintf("last observation %s is %d days old (limit %d)", st.LastDate.Format("2006-01-02"), age, limit),
			})
		}
	}

	instruments, err := e.store.ActiveInstrumentStatus(ctx)
	if err != nil {
		return nil, 0, err
	}
	for _, st := range instruments {
		if !st.HasData {
			issues = append(issues, Issue{
				Check:   "completeness",
				Subject: st.Ticker,
				Detail:  "no bars stored",
			})
			continue
		}
		if age := int(now.Sub(st.LastDate).Hours() / 24); age > 5 {
			issues = append(issues, Issue{
				Check:   "completeness",
				Subject: st.Ticker,
				Detail:  fmt.Sprintf("last bar %s is %d days old (limit 5)", st.LastDate.Format("2006-01-02"), age),
			})
		}
	}

	return issues, len(series) + len(instruments), nil
}

func (e *Engine) checkAccuracy(ctx context.Context) ([]Issue, error) {
	var issues []Issue
	for _, r := range e.cfg.AccuracyRanges {
		violations, err := e.store.ValuesOutsideRange(ctx, r.Series, r.Min, r.Max)
		if err != nil {
			return nil, err
		}
		for _, v := range violations {
			issues = append(issues, Issue{
				Check:   "accuracy",
				Subject: v.SeriesCode,
				Detail:  fmt.Sprintf("%s: value %g outside [%g, %g]", v.Date.Format("2006-01-02"), v.Value, r.Min, r.Max),
			})
		}
	}
	return issues, nil
}

// realCurve reports whether a curve identifier denotes a real or breakeven
// curve, which may legitimately carry negative rates.
func realCurve(code string) bool {
	u := strings.ToUpper(code)
	return strings.Contains(u, "REAL") || strings.Contains(u, "BEI") || strings.Contains(u, "ILB") || strings.Contains(u, "BREAKEVEN")
}

func (e *Engine) checkCurveIntegrity(ctx context.Context) ([]Issue, error) {
	snapshots, err := e.store.CurveSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	for _, c := range snapshots {
		if c.TenorCount < e.cfg.MinCurveTenors {
			issues = append(issues, Issue{
				Check:   "curve_integrity",
				Subject: c.CurveCode,
				Detail:  fmt.Sprintf("%s: only %d tenor points (minimum %d)", c.Date.Format("2006-01-02"), c.TenorCount, e.cfg.MinCurveTenors),
			})
		}
		if c.MinRate < 0 && !realCurve(c.CurveCode) {
			issues = append(issues, Issue{
				Check:   "curve_integrity",
				Subject: c.CurveCode,
				Detail:  fmt.Sprintf("%s: negative rate %g on nominal curve", c.Date.Format("2006-01-02"), c.MinRate),
			})
		}
	}
	return issues, nil
}

func (e *Engine) checkPointInTime(ctx context.Context) ([]Issue, error) {
	violations, err := e.store.PITViolations(ctx)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, v := range violations {
		issues = append(issues, Issue{
			Check:   "point_in_time",
			Subject: v.SeriesCode,
			Detail: fmt.Sprintf("observation %s (revision %d) released %s, before the period it describes",
				v.ObservationDate.Format("2006-01-02"), v.Revision, v.ReleaseTime.Format(time.RFC3339)),
		})
	}
	return issues, nil
}

// score starts at 100 and subtracts capped penalties per check: up to 30
// proportional to the stale fraction, 2 per accuracy violation capped at 20,
// 2 per curve issue capped at 20, 5 per PIT violation capped at 30; floored
// at 0.
func score(rep *Report) int {
	s := 100.0

	if rep.TotalSeries > 0 {
		frac := float64(len(rep.StaleSeries)) / float64(rep.TotalSeries)
		if frac > 1 {
			frac = 1
		}
		s -= 30 * frac
	}

	s -= capped(2*float64(len(rep.Accuracy)), 20)
	s -= capped(2*float64(len(rep.Curve)), 20)
	s -= capped(5*float64(len(rep.PointInTime)), 30)

	if s < 0 {
		s = 0
	}
	return int(s + 0.5)
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func statusFor(score int) string {
	switch {
	case score >= 70:
		return "PASS"
	case score >= 40:
		return "WARN"
	default:
		return "FAIL"
	}
}
