package models

import "testing"

func TestStalenessDays(t *testing.T) {
	cases := []struct {
		freq Frequency
		want int
	}{
		{FreqDaily, 5},
		{FreqWeekly, 12},
		{FreqMonthly, 50},
		{FreqQuarterly, 120},
		{FreqAnnual, 400},
		{Frequency("X"), 50},
	}
	for _, c := range cases {
		if got := c.freq.StalenessDays(); got != c.want {
			t.Errorf("StalenessDays(%q) = %d, want %d", c.freq, got, c.want)
		}
	}
}

func TestRecordKinds(t *testing.T) {
	records := map[RecordKind]Record{
		KindMacroObservation: MacroObservation{},
		KindMarketBar:        MarketBar{},
		KindCurvePoint:       CurvePoint{},
		KindFlowPoint:        FlowPoint{},
		KindFiscalMetric:     FiscalMetric{},
	}
	for want, r := range records {
		if r.Kind() != want {
			t.Errorf("%T.Kind() = %q, want %q", r, r.Kind(), want)
		}
	}
}
