package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"macroflow/models"
)

// SeriesStatus is one active series and its most recent stored observation
// across all fact families, consumed by the completeness check.
type SeriesStatus struct {
	SourceName string
	Code       string
	Frequency  models.Frequency
	LastDate   time.Time
	HasData    bool
}

// ActiveSeriesStatus returns every active catalog series with the latest
// observation date found in any fact table referencing it.
func (s *Store) ActiveSeriesStatus(ctx context.Context) ([]SeriesStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ds.name, sm.series_code, sm.frequency,
			MAX(COALESCE(
				(SELECT MAX(observation_date) FROM macro_observations WHERE series_id = sm.id), ''),
				COALESCE((SELECT MAX(curve_date) FROM curve_points WHERE series_id = sm.id), ''),
				COALESCE((SELECT MAX(flow_date) FROM flow_points WHERE series_id = sm.id), ''))
		FROM series_metadata sm
		JOIN data_sources ds ON ds.id = sm.source_id
		WHERE sm.active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query active series: %w", err)
	}
	defer rows.Close()

	var out []SeriesStatus
	for rows.Next() {
		var st SeriesStatus
		var freq, last string
		if err := rows.Scan(&st.SourceName, &st.Code, &freq, &last); err != nil {
			return nil, err
		}
		st.Frequency = models.Frequency(freq)
		if last != "" {
			t, perr := time.Parse(dateLayout, last)
			if perr == nil {
				st.LastDate = t
				st.HasData = true
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// InstrumentStatus is the market-bar counterpart of SeriesStatus. Bars are
// daily by construction.
type InstrumentStatus struct {
	Ticker   string
	LastDate time.Time
	HasData  bool
}

func (s *Store) ActiveInstrumentStatus(ctx context.Context) ([]InstrumentStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.ticker, COALESCE((SELECT MAX(bar_date) FROM market_bars WHERE instrument_id = i.id), '')
		FROM instruments i
		WHERE i.active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query active instruments: %w", err)
	}
	defer rows.Close()

	var out []InstrumentStatus
	for rows.Next() {
		var st InstrumentStatus
		var last string
		if err := rows.Scan(&st.Ticker, &last); err != nil {
			return nil, err
		}
		if last != "" {
			if t, perr := time.Parse(dateLayout, last); perr == nil {
				st.LastDate = t
				st.HasData = true
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RangeViolation is one stored value outside its configured plausible range.
type RangeViolation struct {
	SeriesCode string
	Date       time.Time
	Value      float64
}

// ValuesOutsideRange returns macro observations of the given series code whose
// value falls outside [min, max].
func (s *Store) ValuesOutsideRange(ctx context.Context, seriesCode string, min, max float64) ([]RangeViolation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sm.series_code, mo.observation_date, mo.value
		FROM macro_observations mo
		JOIN series_metadata sm ON sm.id = mo.series_id
		WHERE sm.series_code = ? AND (mo.value < ? OR mo.value > ?)
		ORDER BY mo.observation_date
	`, seriesCode, min, max)
	if err != nil {
		return nil, fmt.Errorf("query range violations: %w", err)
	}
	defer rows.Close()

	var out []RangeViolation
	for rows.Next() {
		var v RangeViolation
		var date string
		if err := rows.Scan(&v.SeriesCode, &date, &v.Value); err != nil {
			return nil, err
		}
		v.Date, _ = time.Parse(dateLayout, date)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CurveSnapshot aggregates one (curve, date) pair for the integrity check.
type CurveSnapshot struct {
	CurveCode  string
	Date       time.Time
	TenorCount int
	MinRate    float64
}

func (s *Store) CurveSnapshots(ctx context.Context) ([]CurveSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sm.series_code, cp.curve_date, COUNT(*), MIN(cp.rate)
		FROM curve_points cp
		JOIN series_metadata sm ON sm.id = cp.series_id
		GROUP BY cp.series_id, cp.curve_date
		ORDER BY sm.series_code, cp.curve_date
	`)
	if err != nil {
		return nil, fmt.Errorf("query curve snapshots: %w", err)
	}
	defer rows.Close()

	var out []CurveSnapshot
	for rows.Next() {
		var c CurveSnapshot
		var date string
		if err := rows.Scan(&c.CurveCode, &date, &c.TenorCount, &c.MinRate); err != nil {
			return nil, err
		}
		c.Date, _ = time.Parse(dateLayout, date)
		out = append(out, c)
	}
	return out, rows.Err()
}

// PITViolation is a macro observation whose release time predates the period
// it describes, the look-ahead hazard the point-in-time check exists for.
type PITViolation struct {
	SeriesCode      string
	ObservationDate time.Time
	ReleaseTime     time.Time
	Revision        int
}

func (s *Store) PITViolations(ctx context.Context) ([]PITViolation, error) {
	// Both columns are ISO-formatted text, so lexicographic comparison is
	// date comparison; release_time carries a time-of-day suffix, which
	// sorts after the bare date of the same day.
	rows, err := s.db.QueryContext(ctx, `
		SELECT sm.series_code, mo.observation_date, mo.release_time, mo.revision
		FROM macro_observations mo
		JOIN series_metadata sm ON sm.id = mo.series_id
		WHERE mo.release_time < mo.observation_date
		ORDER BY sm.series_code, mo.observation_date
	`)
	if err != nil {
		return nil, fmt.Errorf("query pit violations: %w", err)
	}
	defer rows.Close()

	var out []PITViolation
	for rows.Next() {
		var v PITViolation
		var obs, rel string
		if err := rows.Scan(&v.SeriesCode, &obs, &rel, &v.Revision); err != nil {
			return nil, err
		}
		v.ObservationDate, _ = time.Parse(dateLayout, obs)
		v.ReleaseTime, _ = time.Parse(time.RFC3339, rel)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountFacts returns the row count of one fact family, used by tests and the
// completeness report.
func (s *Store) CountFacts(ctx context.Context, kind models.RecordKind) (int64, error) {
	table, ok := map[models.RecordKind]string{
		models.KindMacroObservation: "macro_observations",
		models.KindMarketBar:        "market_bars",
		models.KindCurvePoint:       "curve_points",
		models.KindFlowPoint:        "flow_points",
		models.KindFiscalMetric:     "fiscal_metrics",
	}[kind]
	if !ok {
		return 0, fmt.Errorf("store: unknown record kind %q", kind)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return n, nil
}
