package models

// Frequency describes the native observation cadence of a series.
type Frequency string

const (
	FreqDaily     Frequency = "D"
	FreqWeekly    Frequency = "W"
	FreqMonthly   Frequency = "M"
	FreqQuarterly Frequency = "Q"
	FreqAnnual    Frequency = "A"
)

// StalenessDays returns how old the most recent observation of a series may
// be, in days, before the completeness check flags it as stale.
func (f Frequency) StalenessDays() int {
	switch f {
	case FreqDaily:
		return 5
	case FreqWeekly:
		return 12
	case FreqMonthly:
		return 50
	case FreqQuarterly:
		return 120
	case FreqAnnual:
		return 400
	default:
		return 50
	}
}

// DataSource identifies one external provider. Rows are created lazily on the
// first successful connector run and never deleted.
type DataSource struct {
	Name      string
	BaseURL   string
	AuthMode  string
	RateLimit int
	Locale    string
	Notes     string
}

// SeriesMeta is the catalog entry for one logical series from one source.
// Unique on (source, code); once created it is never overwritten.
type SeriesMeta struct {
	SourceName string
	Code       string
	Name       string
	Frequency  Frequency
	Country    string
	Unit       string

	// DecimalSep and DateFormat capture the provider's native conventions
	// so the normalizer can be driven without provider logic leaking into
	// shared components.
	DecimalSep string
	DateFormat string

	Revisable      bool
	ReleaseLagDays int
	ReleaseTZ      string
	Active         bool
}

// Instrument is a registry entry for a tradeable ticker.
type Instrument struct {
	Ticker     string
	Name       string
	AssetClass string
	Country    string
	Currency   string
	Exchange   string
	Active     bool
}
