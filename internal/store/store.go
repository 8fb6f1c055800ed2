// Package store is the destination time-series store. All writes go through
// natural-key conflict-skip upserts so re-running any fetch window is safe;
// fact rows are immutable once written and corrections land as new revisions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"macroflow/logger"
	"macroflow/models"
)

// maxParamsPerStmt bounds the bind parameters in one INSERT so large batches
// stay under the driver's statement limits. Each sub-batch commits in its own
// transaction; idempotency makes a retry after partial failure safe.
const maxParamsPerStmt = 900

type Store struct {
	db  *sql.DB
	log *logger.Log

	mu         sync.Mutex
	sourceIDs  map[string]int64
	seriesIDs  map[string]int64
	instrumIDs map[string]int64
}

// Open opens (creating if needed) the sqlite database at path and applies the
// embedded schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:         db,
		log:        logger.GetLogger(),
		sourceIDs:  make(map[string]int64),
		seriesIDs:  make(map[string]int64),
		instrumIDs: make(map[string]int64),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS data_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			base_url TEXT NOT NULL DEFAULT '',
			auth_mode TEXT NOT NULL DEFAULT '',
			rate_limit INTEGER NOT NULL DEFAULT 0,
			locale TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS series_metadata (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL REFERENCES data_sources(id),
			series_code TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			frequency TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			decimal_sep TEXT NOT NULL DEFAULT '.',
			date_format TEXT NOT NULL DEFAULT '2006-01-02',
			revisable INTEGER NOT NULL DEFAULT 0,
			release_lag_days INTEGER NOT NULL DEFAULT 0,
			release_tz TEXT NOT NULL DEFAULT 'UTC',
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			UNIQUE (source_id, series_code)
		);`,
		`CREATE TABLE IF NOT EXISTS instruments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			asset_class TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			exchange TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS macro_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			series_id INTEGER NOT NULL REFERENCES series_metadata(id),
			observation_date TEXT NOT NULL,
			release_time TEXT NOT NULL,
			value REAL NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (series_id, observation_date, revision)
		);`,
		`CREATE TABLE IF NOT EXISTS market_bars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id INTEGER NOT NULL REFERENCES instruments(id),
			bar_date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (instrument_id, bar_date)
		);`,
		`CREATE TABLE IF NOT EXISTS curve_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			series_id INTEGER NOT NULL REFERENCES series_metadata(id),
			curve_date TEXT NOT NULL,
			tenor TEXT NOT NULL,
			tenor_days INTEGER NOT NULL DEFAULT 0,
			rate REAL NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (series_id, curve_date, tenor)
		);`,
		`CREATE TABLE IF NOT EXISTS flow_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			series_id INTEGER NOT NULL REFERENCES series_metadata(id),
			flow_date TEXT NOT NULL,
			flow_type TEXT NOT NULL,
			value REAL NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (series_id, flow_date, flow_type)
		);`,
		`CREATE TABLE IF NOT EXISTS fiscal_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL REFERENCES data_sources(id),
			country TEXT NOT NULL,
			metric_date TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (country, metric_date, metric)
		);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const dateLayout = "2006-01-02"

func dateStr(t time.Time) string { return t.Format(dateLayout) }

func nowStr() string { return time.Now().UTC().Format(time.RFC3339) }

// EnsureSource upserts the provider row and returns its id. The upsert uses a
// no-op DO UPDATE on the key column purely so RETURNING yields the id in one
// atomic round trip; an existing row is never overwritten.
func (s *Store) EnsureSource(ctx context.Context, src models.DataSource) (int64, error) {
	if src.Name == "" {
		return 0, fmt.Errorf("store: data source name is required")
	}

	s.mu.Lock()
	if id, ok := s.sourceIDs[src.Name]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO data_sources (name, base_url, auth_mode, rate_limit, locale, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id
	`, src.Name, src.BaseURL, src.AuthMode, src.RateLimit, src.Locale, src.Notes, nowStr()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure source %q: %w", src.Name, err)
	}

	s.mu.Lock()
	s.sourceIDs[src.Name] = id
	s.mu.Unlock()
	return id, nil
}

// EnsureSeries upserts the catalog entry for (source, code) and returns its
// id. Metadata is written only on first creation.
func (s *Store) EnsureSeries(ctx context.Context, meta models.SeriesMeta) (int64, error) {
	if meta.SourceName == "" || meta.Code == "" {
		return 0, fmt.Errorf("store: series source and code are required")
	}
	key := meta.SourceName + "|" + meta.Code

	s.mu.Lock()
	if id, ok := s.seriesIDs[key]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	sourceID, err := s.EnsureSource(ctx, models.DataSource{Name: meta.SourceName})
	if err != nil {
		return 0, err
	}

	freq := meta.Frequency
	if freq == "" {
		freq = models.FreqMonthly
	}
	decimalSep := meta.DecimalSep
	if decimalSep == "" {
		decimalSep = "."
	}
	dateFormat := meta.DateFormat
	if dateFormat == "" {
		dateFormat = dateLayout
	}
	releaseTZ := meta.ReleaseTZ
	if releaseTZ == "" {
		releaseTZ = "UTC"
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO series_metadata (
			source_id, series_code, name, frequency, country, unit,
			decimal_sep, date_format, revisable, release_lag_days, release_tz, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, series_code) DO UPDATE SET series_code = excluded.series_code
		RETURNING id
	`, sourceID, meta.Code, meta.Name, string(freq), meta.Country, meta.Unit,
		decimalSep, dateFormat, boolInt(meta.Revisable), meta.ReleaseLagDays, releaseTZ, boolInt(meta.Active), nowStr()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure series %s/%s: %w", meta.SourceName, meta.Code, err)
	}

	s.mu.Lock()
	s.seriesIDs[key] = id
	s.mu.Unlock()
	return id, nil
}

// EnsureInstrument upserts the ticker registry row and returns its id.
func (s *Store) EnsureInstrument(ctx context.Context, inst models.Instrument) (int64, error) {
	if inst.Ticker == "" {
		return 0, fmt.Errorf("store: instrument ticker is required")
	}

	s.mu.Lock()
	if id, ok := s.instrumIDs[inst.Ticker]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO instruments (ticker, name, asset_class, country, currency, exchange, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET ticker = excluded.ticker
		RETURNING id
	`, inst.Ticker, inst.Name, inst.AssetClass, inst.Country, inst.Currency, inst.Exchange, boolInt(inst.Active), nowStr()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure instrument %q: %w", inst.Ticker, err)
	}

	s.mu.Lock()
	s.instrumIDs[inst.Ticker] = id
	s.mu.Unlock()
	return id, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
