package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"macroflow/logger"
	"macroflow/models"
)

// InsertRecords persists a normalized batch with conflict-skip semantics and
// returns the number of rows actually inserted (conflicted duplicates are
// excluded from the count). Referenced DataSource/SeriesMetadata/Instrument
// rows are lazily ensured before the fact rows land. An empty batch no-ops
// and returns 0.
func (s *Store) InsertRecords(ctx context.Context, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var (
		macro  []models.MacroObservation
		bars   []models.MarketBar
		curves []models.CurvePoint
		flows  []models.FlowPoint
		fiscal []models.FiscalMetric
	)
	for _, r := range records {
		switch rec := r.(type) {
		case models.MacroObservation:
			macro = append(macro, rec)
		case *models.MacroObservation:
			macro = append(macro, *rec)
		case models.MarketBar:
			bars = append(bars, rec)
		case *models.MarketBar:
			bars = append(bars, *rec)
		case models.CurvePoint:
			curves = append(curves, rec)
		case *models.CurvePoint:
			curves = append(curves, *rec)
		case models.FlowPoint:
			flows = append(flows, rec)
		case *models.FlowPoint:
			flows = append(flows, *rec)
		case models.FiscalMetric:
			fiscal = append(fiscal, rec)
		case *models.FiscalMetric:
			fiscal = append(fiscal, *rec)
		default:
			return 0, fmt.Errorf("store: unsupported record type %T", r)
		}
	}

	total := 0
	n, err := s.insertMacro(ctx, macro)
	total += n
	if err != nil {
		return total, err
	}
	n, err = s.insertBars(ctx, bars)
	total += n
	if err != nil {
		return total, err
	}
	n, err = s.insertCurves(ctx, curves)
	total += n
	if err != nil {
		return total, err
	}
	n, err = s.insertFlows(ctx, flows)
	total += n
	if err != nil {
		return total, err
	}
	n, err = s.insertFiscal(ctx, fiscal)
	total += n
	if err != nil {
		return total, err
	}
	return total, nil
}

// seriesID lazily ensures the referenced series row. Connectors normally
// declare full metadata up front via EnsureSeries; this path only fires for
// undeclared codes and creates a minimal active entry.
func (s *Store) seriesID(ctx context.Context, source, code string) (int64, error) {
	s.mu.Lock()
	id, ok := s.seriesIDs[source+"|"+code]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	return s.EnsureSeries(ctx, models.SeriesMeta{
		SourceName: source,
		Code:       code,
		Active:     true,
	})
}

func (s *Store) insertMacro(ctx context.Context, obs []models.MacroObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	const cols = 6
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		id, err := s.seriesID(ctx, o.SourceName, o.SeriesCode)
		if err != nil {
			return 0, err
		}
		release := o.ReleaseTime
		if release.IsZero() {
			release = o.ObservationDate
		}
		rows = append(rows, []any{
			id, dateStr(o.ObservationDate), release.UTC().Format(time.RFC3339),
			o.Value, o.Revision, nowStr(),
		})
	}
	return s.bulkInsert(ctx, `INSERT INTO macro_observations
		(series_id, observation_date, release_time, value, revision, created_at)`,
		`ON CONFLICT(series_id, observation_date, revision) DO NOTHING`, cols, rows)
}

func (s *Store) insertBars(ctx context.Context, bars []models.MarketBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	const cols = 8
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		id, err := s.instrumentID(ctx, b.Ticker)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			id, dateStr(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume, nowStr(),
		})
	}
	return s.bulkInsert(ctx, `INSERT INTO market_bars
		(instrument_id, bar_date, open, high, low, close, volume, created_at)`,
		`ON CONFLICT(instrument_id, bar_date) DO NOTHING`, cols, rows)
}

func (s *Store) instrumentID(ctx context.Context, ticker string) (int64, error) {
	s.mu.Lock()
	id, ok := s.instrumIDs[ticker]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	return s.EnsureInstrument(ctx, models.Instrument{Ticker: ticker, Active: true})
}

func (s *Store) insertCurves(ctx context.Context, points []models.CurvePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	const cols = 6
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		id, err := s.seriesID(ctx, p.SourceName, p.CurveCode)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			id, dateStr(p.Date), p.Tenor, p.TenorDays, p.Rate, nowStr(),
		})
	}
	return s.bulkInsert(ctx, `INSERT INTO curve_points
		(series_id, curve_date, tenor, tenor_days, rate, created_at)`,
		`ON CONFLICT(series_id, curve_date, tenor) DO NOTHING`, cols, rows)
}

func (s *Store) insertFlows(ctx context.Context, flows []models.FlowPoint) (int, error) {
	if len(flows) == 0 {
		return 0, nil
	}
	const cols = 5
	rows := make([][]any, 0, len(flows))
	for _, f := range flows {
		id, err := s.seriesID(ctx, f.SourceName, f.SeriesCode)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			id, dateStr(f.Date), f.FlowType, f.Value, nowStr(),
		})
	}
	return s.bulkInsert(ctx, `INSERT INTO flow_points
		(series_id, flow_date, flow_type, value, created_at)`,
		`ON CONFLICT(series_id, flow_date, flow_type) DO NOTHING`, cols, rows)
}

func (s *Store) insertFiscal(ctx context.Context, metrics []models.FiscalMetric) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	const cols = 6
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		id, err := s.EnsureSource(ctx, models.DataSource{Name: m.SourceName})
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			id, m.Country, dateStr(m.Date), m.Metric, m.Value, nowStr(),
		})
	}
	return s.bulkInsert(ctx, `INSERT INTO fiscal_metrics
		(source_id, country, metric_date, metric, value, created_at)`,
		`ON CONFLICT(country, metric_date, metric) DO NOTHING`, cols, rows)
}

// bulkInsert writes rows in sub-batches bounded by maxParamsPerStmt, each in
// its own transaction, and sums the rows actually inserted. A failure partway
// leaves earlier sub-batches committed; the conflict-skip key makes the
// eventual retry safe.
func (s *Store) bulkInsert(ctx context.Context, insertHead, conflictTail string, cols int, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	rowsPerBatch := maxParamsPerStmt / cols
	if rowsPerBatch < 1 {
		rowsPerBatch = 1
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"

	total := 0
	for start := 0; start < len(rows); start += rowsPerBatch {
		end := start + rowsPerBatch
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*cols)
		for i, row := range batch {
			placeholders[i] = placeholder
			args = append(args, row...)
		}
		query := insertHead + " VALUES " + strings.Join(placeholders, ", ") + " " + conflictTail

		inserted, err := s.execBatch(ctx, query, args)
		total += inserted
		if err != nil {
			return total, err
		}
	}

	if total < len(rows) {
		s.log.WithComponent("store").WithFields(logger.Fields{
			"batch_size": len(rows),
			"inserted":   total,
			"skipped":    len(rows) - total,
		}).Debug("conflict-skip upsert ignored existing rows")
	}
	return total, nil
}

func (s *Store) execBatch(ctx context.Context, query string, args []any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch tx: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("bulk insert rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch tx: %w", err)
	}
	return int(affected), nil
}
