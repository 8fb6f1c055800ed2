package quality

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"macroflow/internal/store"
	"macroflow/models"
)

var testNow = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func openSeeded(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "quality.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(s *store.Store, cfg Config) *Engine {
	cfg.Now = func() time.Time { return testNow }
	return NewEngine(s, cfg)
}

func seedSeries(t *testing.T, s *store.Store, code string, freq models.Frequency) {
	t.Helper()
	_, err := s.EnsureSeries(context.Background(), models.SeriesMeta{
		SourceName: "testsrc",
		Code:       code,
		Name:       code,
		Frequency:  freq,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("ensure series %s: %v", code, err)
	}
}

func insert(t *testing.T, s *store.Store, recs ...models.Record) {
	t.Helper()
	if _, err := s.InsertRecords(context.Background(), recs); err != nil {
		t.Fatalf("insert records: %v", err)
	}
}

func obs(code string, date time.Time, value float64) models.MacroObservation {
	return models.MacroObservation{
		SourceName:      "testsrc",
		SeriesCode:      code,
		ObservationDate: date,
		ReleaseTime:     date.Add(8 * time.Hour),
		Value:           value,
	}
}

func TestFreshDataScoresFull(t *testing.T) {
	s := openSeeded(t)
	seedSeries(t, s, "CPI_US", models.FreqMonthly)
	insert(t, s, obs("CPI_US", testNow.AddDate(0, 0, -10), 2.4))

	rep, err := newTestEngine(s, Config{}).RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}
	if rep.Score != 100 {
		t.Errorf("score = %d, want 100", rep.Score)
	}
	if rep.Status != "PASS" {
		t.Errorf("status = %q, want PASS", rep.Status)
	}
	if len(rep.StaleSeries) != 0 {
		t.Errorf("stale issues = %v, want none", rep.StaleSeries)
	}
}

func TestStaleSeriesPenalty(t *testing.T) {
	s := openSeeded(t)
	// Monthly limit is 50 days; 90 days old is stale.
	seedSeries(t, s, "CPI_STALE", models.FreqMonthly)
	insert(t, s, obs("CPI_STALE", testNow.AddDate(0, 0, -90), 2.0))
	// A series with no data at all is stale too.
	seedSeries(t, s, "CPI_EMPTY", models.FreqMonthly)

	rep, err := newTestEngine(s, Config{}).RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}
	if len(rep.StaleSeries) != 2 {
		t.Fatalf("stale issues = %d, want 2: %v", len(rep.StaleSeries), rep.StaleSeries)
	}
	// Every tracked series stale: full 30-point completeness penalty.
	if rep.Score != 70 {
		t.Errorf("score = %d, want 70", rep.Score)
	}
	if rep.Status != "PASS" {
		t.Errorf("status = %q, want PASS at the boundary", rep.Status)
	}
}

func TestFrequencyThresholds(t *testing.T) {
	cases := []struct {
		freq    models.Frequency
		ageDays int
		stale   bool
	}{
		{models.FreqDaily, 4, false},
		{models.FreqDaily, 6, true},
		{models.FreqWeekly, 13, true},
		{models.FreqQuarterly, 100, false},
		{models.FreqAnnual, 200, false},
		{models.FreqAnnual, 500, true},
	}
	for _, tc := range cases {
		s := openSeeded(t)
		seedSeries(t, s, "SER", tc.freq)
		insert(t, s, obs("SER", testNow.AddDate(0, 0, -tc.ageDays), 1.0))

		rep, err := newTestEngine(s, Config{}).RunAllChecks(context.Background())
		if err != nil {
			t.Fatalf("RunAllChecks(%s, %d days): %v", tc.freq, tc.ageDays, err)
		}
		if got := len(rep.StaleSeries) > 0; got != tc.stale {
			t.Errorf("freq %s age %d: stale = %v, want %v", tc.freq, tc.ageDays, got, tc.stale)
		}
	}
}

func TestAccuracyRangeViolations(t *testing.T) {
	s := openSeeded(t)
	seedSeries(t, s, "UNRATE", models.FreqMonthly)
	insert(t, s,
		obs("UNRATE", testNow.AddDate(0, 0, -20), 4.1),
		obs("UNRATE", testNow.AddDate(0, 0, -48), 38.0),
	)

	cfg := Config{AccuracyRanges: []ValueRange{{Series: "UNRATE", Min: 0, Max: 30}}}
	rep, err := newTestEngine(s, cfg).RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}
	if len(rep.Accuracy) != 1 {
		t.Fatalf("accuracy issues = %d, want 1: %v", len(rep.Accuracy), rep.Accuracy)
	}
	if rep.Score != 98 {
		t.Errorf("score = %d, want 98", rep.Score)
	}
}

func TestCurveIntegrity(t *testing.T) {
	s := openSeeded(t)
	date := testNow.AddDate(0, 0, -3)

	// Nominal curve with a negative rate and too few tenors.
	tenors := []struct {
		tenor string
		days  int
		rate  float64
	}{
		{"1Y", 365, -0.10}, {"2Y", 730, 0.25}, {"5Y", 1825, 0.80},
	}
	var recs []models.Record
	for _, tn := range tenors {
		recs = append(recs, models.CurvePoint{
			SourceName: "testsrc", CurveCode: "UST_NOMINAL",
			Date: date, Tenor: tn.tenor, TenorDays: tn.days, Rate: tn.rate,
		})
		// Real-rate curve with the same shape is allowed to go negative.
		recs = append(recs, models.CurvePoint{
			SourceName: "testsrc", CurveCode: "UST_REAL",
			Date: date, Tenor: tn.tenor, TenorDays: tn.days, Rate: tn.rate,
		})
	}
	insert(t, s, recs...)

	rep, err := newTestEngine(s, Config{MinCurveTenors: 5}).RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}

	var nominalNeg, tenorShort int
	for _, is := range rep.Curve {
		if is.Subject == "UST_REAL" && is.Detail != "" && containsNegative(is.Detail) {
			t.Errorf("real curve flagged for negative rate: %v", is)
		}
		if is.Subject == "UST_NOMINAL" && containsNegative(is.Detail) {
			nominalNeg++
		}
		if containsTenor(is.Detail) {
			tenorShort++
		}
	}
	if nominalNeg != 1 {
		t.Errorf("nominal negative-rate issues = %d, want 1: %v", nominalNeg, rep.Curve)
	}
	if tenorShort != 2 {
		t.Errorf("tenor-count issues = %d, want 2 (both curves short): %v", tenorShort, rep.Curve)
	}
}

func containsNegative(detail string) bool { return strings.Contains(detail, "negative rate") }
func containsTenor(detail string) bool    { return strings.Contains(detail, "tenor points") }

func TestPointInTimeViolations(t *testing.T) {
	s := openSeeded(t)
	seedSeries(t, s, "GDP_US", models.FreqQuarterly)

	good := obs("GDP_US", testNow.AddDate(0, 0, -30), 2.1)
	bad := models.MacroObservation{
		SourceName:      "testsrc",
		SeriesCode:      "GDP_US",
		ObservationDate: testNow.AddDate(0, 0, -30),
		ReleaseTime:     testNow.AddDate(0, 0, -60),
		Value:           2.2,
		Revision:        1,
	}
	insert(t, s, good, bad)

	rep, err := newTestEngine(s, Config{}).RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}
	if len(rep.PointInTime) != 1 {
		t.Fatalf("pit issues = %d, want 1: %v", len(rep.PointInTime), rep.PointInTime)
	}
	if rep.Score != 95 {
		t.Errorf("score = %d, want 95", rep.Score)
	}
}

func TestPenaltiesAreCapped(t *testing.T) {
	s := openSeeded(t)
	seedSeries(t, s, "WILD", models.FreqDaily)

	var recs []models.Record
	for i := 0; i < 15; i++ {
		recs = append(recs, obs("WILD", testNow.AddDate(0, 0, -i-1), 1000+float64(i)))
	}
	// Eight PIT violations would cost 40 uncapped; the cap holds it at 30.
	for i := 0; i < 8; i++ {
		recs = append(recs, models.MacroObservation{
			SourceName:      "testsrc",
			SeriesCode:      "WILD",
			ObservationDate: testNow.AddDate(0, 0, -i-1),
			ReleaseTime:     testNow.AddDate(0, -6, 0),
			Value:           1,
			Revision:        1,
		})
	}
	insert(t, s, recs...)

	cfg := Config{AccuracyRanges: []ValueRange{{Series: "WILD", Min: 0, Max: 10}}}
	rep, err := newTestEngine(s, cfg).RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks: %v", err)
	}
	// 100 - 20 (accuracy cap) - 30 (pit cap) = 50.
	if rep.Score != 50 {
		t.Errorf("score = %d, want 50", rep.Score)
	}
	if rep.Status != "WARN" {
		t.Errorf("status = %q, want WARN", rep.Status)
	}
}

func TestStatusBands(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{100, "PASS"}, {70, "PASS"}, {69, "WARN"}, {40, "WARN"}, {39, "FAIL"}, {0, "FAIL"},
	}
	for _, tc := range cases {
		if got := statusFor(tc.score); got != tc.want {
			t.Errorf("statusFor(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestRenderReport(t *testing.T) {
	rep := &Report{
		Score:       72,
		Status:      "PASS",
		TotalSeries: 3,
		StaleSeries: []Issue{{Check: "completeness", Subject: "testsrc/CPI", Detail: "no observations stored"}},
		GeneratedAt: testNow,
	}
	out := rep.Render()
	for _, want := range []string{"Score: 72/100", "PASS", "Completeness: 1 issue(s)", "testsrc/CPI", "Accuracy: OK"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}
