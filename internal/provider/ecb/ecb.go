// Package ecb pulls euro-area yield curves from the ECB data portal's
// csvdata export. The feed uses comma decimal separators and one row per
// (date, tenor) pair.
package ecb

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"macroflow/internal/connector"
	"macroflow/internal/fetch"
	"macroflow/internal/normalize"
	"macroflow/internal/store"
	"macroflow/logger"
	"macroflow/models"
)

const sourceName = "ecb"

// curves maps the portal's series keys to our curve codes. The real curve
// (inflation-linked) legitimately trades negative.
var curves = map[string]string{
	"YC.B.U2.EUR.4F.G_N_A.SV_C_YM": "EA_AAA_SPOT",
	"YC.B.U2.EUR.4F.G_N_C.SV_C_YM": "EA_ALL_SPOT",
	"YC.B.U2.EUR.4F.G_R_A.SV_C_YM": "EA_AAA_REAL",
}

// tenorDays resolves the portal's tenor labels to calendar days so curve
// points sort correctly along the maturity axis.
var tenorDays = map[string]int{
	"3M": 91, "6M": 182, "9M": 273,
	"1Y": 365, "2Y": 730, "3Y": 1095, "5Y": 1825,
	"7Y": 2555, "10Y": 3650, "15Y": 5475, "20Y": 7300, "30Y": 10950,
}

type Connector struct {
	*connector.Base
	baseURL string
}

func New(st *store.Store, cfg connector.Settings) *Connector {
	client := fetch.NewClient(cfg.ClientOptions(sourceName, map[string]string{"Accept": "text/csv"}))
	source := models.DataSource{
		Name:      sourceName,
		BaseURL:   cfg.BaseURL,
		AuthMode:  "none",
		RateLimit: cfg.RequestsPerSecond,
		Locale:    "de_DE",
	}
	series := make([]models.SeriesMeta, 0, len(curves))
	for _, code := range curves {
		series = append(series, models.SeriesMeta{
			SourceName: sourceName,
			Code:       code,
			Name:       code,
			Frequency:  models.FreqDaily,
			Country:    "EA",
			Unit:       "percent",
			DecimalSep: ",",
			Active:     true,
		})
	}
	return &Connector{
		Base:    connector.NewBase(source, series, nil, st, client),
		baseURL: cfg.BaseURL,
	}
}

func (c *Connector) Fetch(ctx context.Context, start, end time.Time) ([]models.Record, error) {
	var out []models.Record
	for key, code := range curves {
		q := url.Values{}
		q.Set("startPeriod", start.Format("2006-01-02"))
		q.Set("endPeriod", end.Format("2006-01-02"))
		q.Set("format", "csvdata")

		body, err := c.Client.Get(ctx, c.baseURL+"/service/data/"+key+"?"+q.Encode())
		if err != nil {
			return nil, err
		}
		recs, err := parseCurveCSV(code, body)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// parseCurveCSV reads the portal's csvdata layout: a header row naming the
// columns, then one row per observation. Only TIME_PERIOD, TENOR and
// OBS_VALUE matter; the rest of the columns vary per dataset and are
// ignored.
func parseCurveCSV(curveCode string, body []byte) ([]models.Record, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, &connector.DataParsingError{Source: sourceName, Snippet: string(body), Err: fmt.Errorf("reading header: %w", err)}
	}
	dateCol, tenorCol, valueCol := -1, -1, -1
	for i, name := range header {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "TIME_PERIOD":
			dateCol = i
		case "TENOR", "DATA_TYPE_FM":
			tenorCol = i
		case "OBS_VALUE":
			valueCol = i
		}
	}
	if dateCol < 0 || tenorCol < 0 || valueCol < 0 {
		return nil, &connector.DataParsingError{
			Source:  sourceName,
			Snippet: strings.Join(header, ","),
			Err:     fmt.Errorf("csv header missing TIME_PERIOD, TENOR or OBS_VALUE"),
		}
	}

	log := logger.GetLogger().WithComponent("connector_" + sourceName)

	var out []models.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, &connector.DataParsingError{Source: sourceName, Snippet: strings.Join(row, ","), Err: err}
		}
		if len(row) <= dateCol || len(row) <= tenorCol || len(row) <= valueCol {
			continue
		}

		tenor := strings.TrimSpace(row[tenorCol])
		days, known := tenorDays[tenor]
		if !known {
			continue
		}
		// A corrupt cell drops the row, not the window.
		rate, present, err := normalize.ParseNumeric(row[valueCol], ",")
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"curve": curveCode, "row": strings.Join(row, ",")}).Warn("skipping curve point with unparseable rate")
			continue
		}
		if !present {
			continue
		}
		date, err := normalize.ParseDate(row[dateCol])
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"curve": curveCode, "row": strings.Join(row, ",")}).Warn("skipping curve point with unparseable date")
			continue
		}

		out = append(out, models.CurvePoint{
			SourceName: sourceName,
			CurveCode:  curveCode,
			Date:       date,
			Tenor:      tenor,
			TenorDays:  days,
			Rate:       rate,
		})
	}
}

var _ connector.Connector = (*Connector)(nil)
