package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	appconfig "macroflow/config"
	"macroflow/internal/connector"
	"macroflow/internal/fetch"
	"macroflow/internal/store"
	"macroflow/models"
)

type fakeConnector struct {
	*connector.Base
	records []models.Record
	err     error
}

func (f *fakeConnector) Fetch(context.Context, time.Time, time.Time) ([]models.Record, error) {
	return f.records, f.err
}

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Macroflow: appconfig.MacroflowConfig{Name: "macroflow", Version: "test"},
		Fetch: appconfig.FetchConfig{
			Timeout:       10 * time.Second,
			MaxConcurrent: 2,
			Retry:         appconfig.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0},
		},
		Sources: appconfig.SourcesConfig{
			Fred:  appconfig.SourceConfig{Enabled: true, BaseURL: "http://fred.test"},
			Stooq: appconfig.SourceConfig{Enabled: true, BaseURL: "http://stooq.test"},
		},
	}
}

func newTestRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewRunner(testConfig(), st, nil), st
}

func fakeBuilder(records []models.Record, err error) Builder {
	return func(st *store.Store, _ connector.Settings) connector.Connector {
		source := models.DataSource{Name: "stooq", BaseURL: "http://stooq.test"}
		instruments := []models.Instrument{{Ticker: "^SPX", Active: true}}
		return &fakeConnector{
			Base:    connector.NewBase(source, nil, instruments, st, nil),
			records: records,
			err:     err,
		}
	}
}

func window() (time.Time, time.Time) {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
}

func TestRunSourceLandsRecords(t *testing.T) {
	r, st := newTestRunner(t)
	bar := models.MarketBar{
		SourceName: "stooq", Ticker: "^SPX",
		Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Open: 1, High: 2, Low: 0.5, Close: 1.5,
	}
	r.registry["stooq"] = fakeBuilder([]models.Record{bar}, nil)

	start, end := window()
	out := r.RunSource(context.Background(), "stooq", start, end)
	if out.Err != nil {
		t.Fatalf("RunSource: %v", out.Err)
	}
	if out.Fetched != 1 || out.Inserted != 1 {
		t.Errorf("outcome = %+v, want 1 fetched and 1 inserted", out)
	}
	if out.Status != StatusOK {
		t.Errorf("status = %q, want %q", out.Status, StatusOK)
	}
	count, err := st.CountFacts(context.Background(), models.KindMarketBar)
	if err != nil {
		t.Fatalf("CountFacts: %v", err)
	}
	if count != 1 {
		t.Errorf("stored bars = %d, want 1", count)
	}
}

func TestRunSourceRejectsDisabledSource(t *testing.T) {
	r, _ := newTestRunner(t)
	start, end := window()
	if out := r.RunSource(context.Background(), "ecb", start, end); out.Err == nil || out.Status != StatusSkipped {
		t.Errorf("disabled source should be skipped, got %+v", out)
	}
	if out := r.RunSource(context.Background(), "nope", start, end); out.Err == nil || out.Status != StatusSkipped {
		t.Errorf("unknown source should be skipped, got %+v", out)
	}
}

func TestRunSourceClassifiesRateLimit(t *testing.T) {
	r, _ := newTestRunner(t)
	rlErr := &fetch.RateLimitError{Source: "stooq", StatusCode: 429}
	r.registry["stooq"] = fakeBuilder(nil, rlErr)

	start, end := window()
	out := r.RunSource(context.Background(), "stooq", start, end)
	if out.Err == nil {
		t.Fatal("rate limited run should carry an error")
	}
	if out.Status != StatusRateLimited {
		t.Errorf("status = %q, want %q", out.Status, StatusRateLimited)
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	r, st := newTestRunner(t)
	r.registry["fred"] = fakeBuilder(nil, errors.New("upstream down"))
	bar := models.MarketBar{
		SourceName: "stooq", Ticker: "^SPX",
		Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Open: 1, High: 1, Low: 1, Close: 1,
	}
	r.registry["stooq"] = fakeBuilder([]models.Record{bar}, nil)

	start, end := window()
	outcomes := r.RunAll(context.Background(), start, end)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}

	byName := map[string]Outcome{}
	for _, o := range outcomes {
		byName[o.Source] = o
	}
	if byName["fred"].Err == nil {
		t.Error("fred outcome should carry the fetch error")
	}
	if byName["stooq"].Err != nil || byName["stooq"].Inserted != 1 {
		t.Errorf("stooq outcome = %+v", byName["stooq"])
	}
	count, _ := st.CountFacts(context.Background(), models.KindMarketBar)
	if count != 1 {
		t.Errorf("stored bars = %d, want 1", count)
	}
}

func TestRunSourceEmptyWindow(t *testing.T) {
	r, st := newTestRunner(t)
	r.registry["stooq"] = fakeBuilder(nil, nil)

	start, end := window()
	out := r.RunSource(context.Background(), "stooq", start, end)
	if out.Err != nil {
		t.Fatalf("RunSource: %v", out.Err)
	}
	if out.Fetched != 0 || out.Inserted != 0 {
		t.Errorf("outcome = %+v, want zero activity", out)
	}
	count, _ := st.CountFacts(context.Background(), models.KindMarketBar)
	if count != 0 {
		t.Errorf("stored bars = %d, want 0", count)
	}
}

func TestSettingsMergeDefaults(t *testing.T) {
	r, _ := newTestRunner(t)

	merged := r.settings(appconfig.SourceConfig{BaseURL: "http://x.test"})
	if merged.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want inherited 10s", merged.Timeout)
	}
	if merged.MaxConcurrent != 2 {
		t.Errorf("max concurrent = %d, want inherited 2", merged.MaxConcurrent)
	}
	if merged.Retry.MaxAttempts != 3 {
		t.Errorf("retry attempts = %d, want 3", merged.Retry.MaxAttempts)
	}

	override := r.settings(appconfig.SourceConfig{BaseURL: "http://x.test", Timeout: time.Second, MaxConcurrent: 7})
	if override.Timeout != time.Second || override.MaxConcurrent != 7 {
		t.Errorf("override = %+v", override)
	}
}
