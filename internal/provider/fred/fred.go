// Package fred pulls macroeconomic series from the FRED observations API:
// flat JSON, API-key auth, with realtime periods carrying revision history.
package fred

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"macroflow/internal/chunk"
	"macroflow/internal/connector"
	"macroflow/internal/fetch"
	"macroflow/internal/normalize"
	"macroflow/internal/store"
	"macroflow/logger"
	"macroflow/models"
)

const sourceName = "fred"

// defaultSeries is the catalog pulled when the config does not narrow it.
var defaultSeries = []models.SeriesMeta{
	{SourceName: sourceName, Code: "CPIAUCSL", Name: "CPI All Urban Consumers", Frequency: models.FreqMonthly, Country: "US", Unit: "index", Revisable: true, ReleaseLagDays: 45, ReleaseTZ: "America/New_York", Active: true},
	{SourceName: sourceName, Code: "UNRATE", Name: "Unemployment Rate", Frequency: models.FreqMonthly, Country: "US", Unit: "percent", Revisable: true, ReleaseLagDays: 7, ReleaseTZ: "America/New_York", Active: true},
	{SourceName: sourceName, Code: "GDPC1", Name: "Real GDP", Frequency: models.FreqQuarterly, Country: "US", Unit: "chained_usd_bn", Revisable: true, ReleaseLagDays: 30, ReleaseTZ: "America/New_York", Active: true},
	{SourceName: sourceName, Code: "FEDFUNDS", Name: "Federal Funds Effective Rate", Frequency: models.FreqMonthly, Country: "US", Unit: "percent", ReleaseTZ: "America/New_York", Active: true},
	{SourceName: sourceName, Code: "GFDEBTN", Name: "Federal Debt Total", Frequency: models.FreqQuarterly, Country: "US", Unit: "usd_mn", Revisable: true, ReleaseLagDays: 60, ReleaseTZ: "America/New_York", Active: true},
}

type Connector struct {
	*connector.Base
	baseURL      string
	apiKey       string
	series       []models.SeriesMeta
	maxSpanYears int
}

func New(st *store.Store, cfg connector.Settings) *Connector {
	client := fetch.NewClient(cfg.ClientOptions(sourceName, nil))
	source := models.DataSource{
		Name:      sourceName,
		BaseURL:   cfg.BaseURL,
		AuthMode:  "api_key",
		RateLimit: cfg.RequestsPerSecond,
	}
	maxSpan := cfg.MaxSpanYears
	if maxSpan <= 0 {
		maxSpan = 10
	}
	return &Connector{
		Base:         connector.NewBase(source, defaultSeries, nil, st, client),
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		series:       defaultSeries,
		maxSpanYears: maxSpan,
	}
}

// observationsResponse mirrors the relevant slice of the API payload. Values
// arrive as strings; "." marks a missing observation.
type observationsResponse struct {
	Observations []struct {
		RealtimeStart string `json:"realtime_start"`
		Date          string `json:"date"`
		Value         string `json:"value"`
	} `json:"observations"`
}

func (c *Connector) Fetch(ctx context.Context, start, end time.Time) ([]models.Record, error) {
	var out []models.Record
	for _, sm := range c.series {
		for _, r := range chunk.Split(start, end, c.maxSpanYears) {
			recs, err := c.fetchWindow(ctx, sm, r.Start, r.End)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}
	return out, nil
}

func (c *Connector) fetchWindow(ctx context.Context, sm models.SeriesMeta, start, end time.Time) ([]models.Record, error) {
	q := url.Values{}
	q.Set("series_id", sm.Code)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format("2006-01-02"))
	q.Set("observation_end", end.Format("2006-01-02"))

	body, err := c.Client.Get(ctx, c.baseURL+"/fred/series/observations?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp observationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &connector.DataParsingError{Source: sourceName, Snippet: string(body), Err: err}
	}

	// Release timestamps carry the provider's local calendar.
	releaseLoc := time.UTC
	if sm.ReleaseTZ != "" {
		if loc, err := time.LoadLocation(sm.ReleaseTZ); err == nil {
			releaseLoc = loc
		}
	}

	var out []models.Record
	for _, obs := range resp.Observations {
		// A corrupt observation drops that row, not the window.
		value, ok, err := normalize.ParseNumeric(obs.Value, ".")
		if err != nil {
			c.Log().WithError(err).WithFields(logger.Fields{"series": sm.Code, "date": obs.Date}).Warn("skipping observation with unparseable value")
			continue
		}
		if !ok {
			continue
		}
		obsDate, err := normalize.ParseDate(obs.Date)
		if err != nil {
			c.Log().WithError(err).WithFields(logger.Fields{"series": sm.Code, "date": obs.Date}).Warn("skipping observation with unparseable date")
			continue
		}
		release := obsDate.AddDate(0, 0, sm.ReleaseLagDays)
		revision := 0
		if obs.RealtimeStart != "" {
			rt, err := normalize.ParseDateIn(obs.RealtimeStart, releaseLoc)
			if err != nil {
				c.Log().WithError(err).WithFields(logger.Fields{"series": sm.Code, "date": obs.Date, "realtime_start": obs.RealtimeStart}).Warn("skipping observation with unparseable realtime period")
				continue
			}
			// A realtime start after the scheduled release marks a
			// revised figure.
			if rt.After(release) {
				revision = 1
				release = rt
			} else if rt.After(obsDate) {
				release = rt
			}
		}
		out = append(out, models.MacroObservation{
			SourceName:      sourceName,
			SeriesCode:      sm.Code,
			ObservationDate: obsDate,
			ReleaseTime:     release,
			Value:           value,
			Revision:        revision,
		})
	}
	return out, nil
}

var _ connector.Connector = (*Connector)(nil)
