// Package stooq pulls daily OHLCV bars as plain CSV, one request per
// instrument. No auth, no paging; the window goes into d1/d2 query params.
package stooq

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

const sourceName = "stooq"

var defaultInstruments = []models.Instrument{
	{Ticker: "^SPX", Name: "S&P 500", AssetClass: "equity_index", Country: "US", Currency: "USD", Active: true},
	{Ticker: "^DAX", Name: "DAX", AssetClass: "equity_index", Country: "DE", Currency: "EUR", Active: true},
	{Ticker: "EURUSD", Name: "EUR/USD", AssetClass: "fx", Country: "", Currency: "USD", Active: true},
	{Ticker: "XAUUSD", Name: "Gold Spot", AssetClass: "commodity", Country: "", Currency: "USD", Active: true},
}

type Connector struct {
	*connector.Base
	baseURL     string
	instruments []models.Instrument
}

func New(st *store.Store, cfg connector.Settings) *Connector {
	client := fetch.NewClient(cfg.ClientOptions(sourceName, nil))
	source := models.DataSource{
		Name:      sourceName,
		BaseURL:   cfg.BaseURL,
		AuthMode:  "none",
		RateLimit: cfg.RequestsPerSecond,
	}
	return &Connector{
		Base:        connector.NewBase(source, nil, defaultInstruments, st, client),
		baseURL:     cfg.BaseURL,
		instruments: defaultInstruments,
	}
}

func (c *Connector) Fetch(ctx context.Context, start, end time.Time) ([]models.Record, error) {
	var out []models.Record
	for _, inst := range c.instruments {
		q := url.Values{}
		q.Set("s", strings.ToLower(inst.Ticker))
		q.Set("d1", start.Format("20060102"))
		q.Set("d2", end.Format("20060102"))
		q.Set("i", "d")

		body, err := c.Client.Get(ctx, c.baseURL+"/q/d/l/?"+q.Encode())
		if err != nil {
			return nil, err
		}
		bars, err := parseBars(inst.Ticker, body)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}
	return out, nil
}

// parseBars reads the "Date,Open,High,Low,Close,Volume" export. Some
// instruments (FX, spot metals) omit volume.
func parseBars(ticker string, body []byte) ([]models.Record, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, &connector.DataParsingError{Source: sourceName, Snippet: string(body), Err: fmt.Errorf("reading header: %w", err)}
	}
	if len(header) < 5 || !strings.EqualFold(strings.TrimSpace(header[0]), "Date") {
		return nil, &connector.DataParsingError{
			Source:  sourceName,
			Snippet: strings.Join(header, ","),
			Err:     fmt.Errorf("unexpected csv header"),
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
		if len(row) < 5 {
			continue
		}

		// A corrupt cell drops the row, not the window.
		date, err := normalize.ParseDate(row[0])
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"ticker": ticker, "row": strings.Join(row, ",")}).Warn("skipping bar with unparseable date")
			continue
		}

		var ohlc [4]float64
		skip := false
		for i := 0; i < 4; i++ {
			v, present, err := normalize.ParseNumeric(row[i+1], ".")
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{"ticker": ticker, "row": strings.Join(row, ",")}).Warn("skipping bar with unparseable price")
				skip = true
				break
			}
			if !present {
				skip = true
				break
			}
			ohlc[i] = v
		}
		if skip {
			continue
		}

		var volume float64
		if len(row) > 5 {
			if v, present, err := normalize.ParseNumeric(row[5], "."); err == nil && present {
				volume = v
			}
		}

		out = append(out, models.MarketBar{
			SourceName: sourceName,
			Ticker:     ticker,
			Date:       date,
			Open:       ohlc[0],
			High:       ohlc[1],
			Low:        ohlc[2],
			Close:      ohlc[3],
			Volume:     volume,
		})
	}
}

var _ connector.Connector = (*Connector)(nil)
