// Package cftc pulls futures positioning reports from the CFTC's Socrata
// endpoint. The API pages through $limit/$offset and never signals
// completion explicitly, so the page driver's short-page rule and hard cap
// both matter here.
package cftc

import (
	"context"
	"encoding/json"
	"fmt"
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

const sourceName = "cftc"

// markets maps upstream contract codes to the series codes we track.
var markets = map[string]string{
	"099741": "COT_EUR_FX",
	"098662": "COT_USD_INDEX",
	"13874A": "COT_SP500_CONS",
}

type Connector struct {
	*connector.Base
	baseURL  string
	pageSize int
	maxPages int
}

func New(st *store.Store, cfg connector.Settings) *Connector {
	headers := map[string]string{"Accept": "application/json"}
	if cfg.APIKey != "" {
		headers["X-App-Token"] = cfg.APIKey
	}
	client := fetch.NewClient(cfg.ClientOptions(sourceName, headers))
	source := models.DataSource{
		Name:      sourceName,
		BaseURL:   cfg.BaseURL,
		AuthMode:  "app_token",
		RateLimit: cfg.RequestsPerSecond,
	}
	series := make([]models.SeriesMeta, 0, len(markets))
	for _, code := range markets {
		series = append(series, models.SeriesMeta{
			SourceName: sourceName,
			Code:       code,
			Name:       code,
			Frequency:  models.FreqWeekly,
			Country:    "US",
			Unit:       "contracts",
			Active:     true,
		})
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Connector{
		Base:     connector.NewBase(source, series, nil, st, client),
		baseURL:  cfg.BaseURL,
		pageSize: pageSize,
		maxPages: maxPages,
	}
}

// report is one weekly row. Socrata serves every field as a string.
type report struct {
	MarketCode   string `json:"cftc_contract_market_code"`
	ReportDate   string `json:"report_date_as_yyyy_mm_dd"`
	NoncommLong  string `json:"noncomm_positions_long_all"`
	NoncommShort string `json:"noncomm_positions_short_all"`
	CommLong     string `json:"comm_positions_long_all"`
	CommShort    string `json:"comm_positions_short_all"`
}

func (c *Connector) Fetch(ctx context.Context, start, end time.Time) ([]models.Record, error) {
	rows, err := chunk.Collect(ctx, sourceName, c.pageSize, c.maxPages, func(ctx context.Context, page int) ([]report, error) {
		return c.fetchPage(ctx, start, end, page)
	})
	if err != nil {
		return nil, err
	}

	var out []models.Record
	for _, row := range rows {
		code, tracked := markets[row.MarketCode]
		if !tracked {
			continue
		}
		// A corrupt report drops that row, not the window.
		date, err := normalize.ParseDate(row.ReportDate, "2006-01-02T15:04:05.000", "2006-01-02")
		if err != nil {
			c.Log().WithError(err).WithFields(logger.Fields{"market": row.MarketCode, "report_date": row.ReportDate}).Warn("skipping report with unparseable date")
			continue
		}
		for _, f := range []struct {
			flowType string
			raw      string
		}{
			{"noncomm_long", row.NoncommLong},
			{"noncomm_short", row.NoncommShort},
			{"comm_long", row.CommLong},
			{"comm_short", row.CommShort},
		} {
			flowType, raw := f.flowType, f.raw
			value, present, err := normalize.ParseNumeric(raw, ".")
			if err != nil {
				c.Log().WithError(err).WithFields(logger.Fields{"series": code, "flow_type": flowType, "report_date": row.ReportDate}).Warn("skipping flow point with unparseable value")
				continue
			}
			if !present {
				continue
			}
			out = append(out, models.FlowPoint{
				SourceName: sourceName,
				SeriesCode: code,
				Date:       date,
				FlowType:   flowType,
				Value:      value,
			})
		}
	}
	return out, nil
}

func (c *Connector) fetchPage(ctx context.Context, start, end time.Time, page int) ([]report, error) {
	q := url.Values{}
	q.Set("$limit", fmt.Sprint(c.pageSize))
	q.Set("$offset", fmt.Sprint((page-1)*c.pageSize))
	q.Set("$order", "report_date_as_yyyy_mm_dd")
	q.Set("$where", fmt.Sprintf("report_date_as_yyyy_mm_dd between '%s' and '%s'",
		start.Format("2006-01-02"), end.Format("2006-01-02")))

	body, err := c.Client.Get(ctx, c.baseURL+"/resource/6dca-aqww.json?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var rows []report
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &connector.DataParsingError{Source: sourceName, Snippet: string(body), Err: err}
	}
	return rows, nil
}

var _ connector.Connector = (*Connector)(nil)
