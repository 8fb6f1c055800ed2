// Package connector defines the contract every data-source adapter
// implements and the shared base that handles catalog registration and
// persistence.
package connector

import (
	"context"
	"fmt"
	"time"

	"macroflow/internal/fetch"
	"macroflow/internal/store"
	"macroflow/logger"
	"macroflow/models"
)

// Connector is one upstream data source. Fetch pulls and parses a window of
// records; Store lands them idempotently.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, start, end time.Time) ([]models.Record, error)
	Store(ctx context.Context, records []models.Record) (int, error)
	Close() error
}

// Settings is the per-source tuning a connector constructor receives.
type Settings struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond int
	Burst             int
	MaxConcurrent     int
	Timeout           time.Duration
	Retry             fetch.RetryPolicy
	MaxSpanYears      int
	PageSize          int
	MaxPages          int
	Locale            string
}

// ClientOptions maps per-source settings onto the fetch client.
func (s Settings) ClientOptions(name string, headers map[string]string) fetch.Options {
	return fetch.Options{
		Source:            name,
		MaxConcurrent:     s.MaxConcurrent,
		Timeout:           s.Timeout,
		Retry:             s.Retry,
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
		Headers:           headers,
	}
}

// Base carries the pieces every connector shares. Concrete connectors embed
// it and implement Fetch themselves.
type Base struct {
	name   string
	store  *store.Store
	Client *fetch.Client
	log    *logger.Entry

	source      models.DataSource
	series      []models.SeriesMeta
	instruments []models.Instrument
	registered  bool
}

// NewBase wires a connector's shared state. The catalog entries are
// registered on first Store, not at construction, so a connector that never
// lands anything leaves no catalog trace.
func NewBase(source models.DataSource, series []models.SeriesMeta, instruments []models.Instrument, st *store.Store, client *fetch.Client) *Base {
	return &Base{
		name:        source.Name,
		store:       st,
		Client:      client,
		log:         logger.GetLogger().WithComponent("connector_" + source.Name),
		source:      source,
		series:      series,
		instruments: instruments,
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Log() *logger.Entry { return b.log }

// Store registers the connector's catalog on first use, then lands the batch.
// Re-running the same window inserts nothing and is not an error.
func (b *Base) Store(ctx context.Context, records []models.Record) (int, error) {
	if err := b.register(ctx); err != nil {
		return 0, err
	}

	inserted, err := b.store.InsertRecords(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("storing %s records: %w", b.name, err)
	}

	if skipped := len(records) - inserted; skipped > 0 {
		b.log.WithFields(logger.Fields{
			"inserted": inserted,
			"skipped":  skipped,
		}).Debug("duplicate records skipped on conflict")
	}
	return inserted, nil
}

func (b *Base) register(ctx context.Context) error {
	if b.registered {
		return nil
	}
	if _, err := b.store.EnsureSource(ctx, b.source); err != nil {
		return fmt.Errorf("registering source %s: %w", b.name, err)
	}
	for _, sm := range b.series {
		if _, err := b.store.EnsureSeries(ctx, sm); err != nil {
			return fmt.Errorf("registering series %s/%s: %w", b.name, sm.Code, err)
		}
	}
	for _, in := range b.instruments {
		if _, err := b.store.EnsureInstrument(ctx, in); err != nil {
			return fmt.Errorf("registering instrument %s: %w", in.Ticker, err)
		}
	}
	b.registered = true
	return nil
}

func (b *Base) Close() error {
	if b.Client != nil {
		b.Client.Close()
	}
	return nil
}

// Run fetches one window through the connector and stores whatever came
// back. A window that yields no records is normal for sparse calendars and
// returns zero without touching the store.
func Run(ctx context.Context, c Connector, start, end time.Time) (int, error) {
	log := logger.GetLogger().WithComponent("connector_run").WithFields(logger.Fields{
		"source": c.Name(),
		"from":   start.Format("2006-01-02"),
		"to":     end.Format("2006-01-02"),
	})

	records, err := c.Fetch(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", c.Name(), err)
	}
	if len(records) == 0 {
		log.Info("window yielded no records")
		return 0, nil
	}

	inserted, err := c.Store(ctx, records)
	if err != nil {
		return 0, err
	}

	log.WithFields(logger.Fields{
		"fetched":  len(records),
		"inserted": inserted,
	}).Info("window landed")
	return inserted, nil
}
