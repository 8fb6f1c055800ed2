package models

import "time"

// RecordKind tags the fact-table family a record belongs to.
type RecordKind string

const (
	KindMacroObservation RecordKind = "macro_observation"
	KindMarketBar        RecordKind = "market_bar"
	KindCurvePoint       RecordKind = "curve_point"
	KindFlowPoint        RecordKind = "flow_point"
	KindFiscalMetric     RecordKind = "fiscal_metric"
)

// Record is the canonical, normalized unit every connector produces. Each
// implementation carries its own natural key; the store relies on that key for
// conflict-skip idempotency.
type Record interface {
	Kind() RecordKind
}

// MacroObservation is one value of an economic series for one period.
// ObservationDate is the period the value describes; ReleaseTime is when the
// value became publicly knowable and must never precede ObservationDate.
// Corrections arrive as a higher Revision, never as an update.
type MacroObservation struct {
	SourceName      string
	SeriesCode      string
	ObservationDate time.Time
	ReleaseTime     time.Time
	Value           float64
	Revision        int
}

func (MacroObservation) Kind() RecordKind { return KindMacroObservation }

// MarketBar is one OHLCV bar for an instrument. Natural key (ticker, date).
type MarketBar struct {
	SourceName string
	Ticker     string
	Date       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

func (MarketBar) Kind() RecordKind { return KindMarketBar }

// CurvePoint is one tenor of a yield or swap curve on one date. Natural key
// (curve, date, tenor).
type CurvePoint struct {
	SourceName string
	CurveCode  string
	Date       time.Time
	Tenor      string
	TenorDays  int
	Rate       float64
}

func (CurvePoint) Kind() RecordKind { return KindCurvePoint }

// FlowPoint is one capital-flow or positioning observation. FlowType
// disambiguates rows sharing a series and date (e.g. "long", "short", "net").
type FlowPoint struct {
	SourceName string
	SeriesCode string
	Date       time.Time
	FlowType   string
	Value      float64
}

func (FlowPoint) Kind() RecordKind { return KindFlowPoint }

// FiscalMetric is one fiscal aggregate for a country. Natural key
// (country, date, metric).
type FiscalMetric struct {
	SourceName string
	Country    string
	Date       time.Time
	Metric     string
	Value      float64
}

func (FiscalMetric) Kind() RecordKind { return KindFiscalMetric }
