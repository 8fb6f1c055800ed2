// Package pipeline orchestrates one collection run: it builds the enabled
// connectors from config, drives each over the requested window, optionally
// archives the raw batches, and reports per-source outcomes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	appconfig "macroflow/config"
	"macroflow/internal/archive"
	"macroflow/internal/connector"
	"macroflow/internal/fetch"
	"macroflow/internal/provider/cftc"
	"macroflow/internal/provider/ecb"
	"macroflow/internal/provider/fred"
	"macroflow/internal/provider/stooq"
	"macroflow/internal/store"
	"macroflow/logger"
)

// Builder constructs one connector from its source settings.
type Builder func(st *store.Store, cfg connector.Settings) connector.Connector

// Registry maps source names to constructors. Tests swap entries to inject
// scripted connectors.
func Registry() map[string]Builder {
	return map[string]Builder{
		"fred":  func(st *store.Store, cfg connector.Settings) connector.Connector { return fred.New(st, cfg) },
		"ecb":   func(st *store.Store, cfg connector.Settings) connector.Connector { return ecb.New(st, cfg) },
		"cftc":  func(st *store.Store, cfg connector.Settings) connector.Connector { return cftc.New(st, cfg) },
		"stooq": func(st *store.Store, cfg connector.Settings) connector.Connector { return stooq.New(st, cfg) },
	}
}

// Outcome is the result of one source's run.
type Outcome struct {
	Source   string
	Fetched  int
	Inserted int
	Elapsed  time.Duration
	Status   string
	Err      error
}

// Status values reported per source.
const (
	StatusOK          = "ok"
	StatusRateLimited = "rate_limited"
	StatusFetchFailed = "fetch_failed"
	StatusParseFailed = "parse_failed"
	StatusStoreFailed = "store_failed"
	StatusSkipped     = "skipped"
)

// classify maps a run error onto a status for reporting.
func classify(err error, stage string) string {
	var rl *fetch.RateLimitError
	if errors.As(err, &rl) {
		return StatusRateLimited
	}
	var pe *connector.DataParsingError
	if errors.As(err, &pe) {
		return StatusParseFailed
	}
	if stage == "store" {
		return StatusStoreFailed
	}
	return StatusFetchFailed
}

type Runner struct {
	cfg      *appconfig.Config
	store    *store.Store
	archiver *archive.Archiver
	registry map[string]Builder
	log      *logger.Log
}

// NewRunner wires a run over the given store. archiver may be nil when the
// S3 landing zone is disabled.
func NewRunner(cfg *appconfig.Config, st *store.Store, archiver *archive.Archiver) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    st,
		archiver: archiver,
		registry: Registry(),
		log:      logger.GetLogger(),
	}
}

// RunSource drives one named source over [start, end].
func (r *Runner) RunSource(ctx context.Context, name string, start, end time.Time) Outcome {
	began := time.Now()
	out := Outcome{Source: name}

	srcCfg, known := r.cfg.Source(name)
	if !known {
		out.Status = StatusSkipped
		out.Err = fmt.Errorf("unknown source %q", name)
		return out
	}
	if !srcCfg.Enabled {
		out.Status = StatusSkipped
		out.Err = fmt.Errorf("source %q is disabled in config", name)
		return out
	}
	build, known := r.registry[name]
	if !known {
		out.Status = StatusSkipped
		out.Err = fmt.Errorf("no connector registered for source %q", name)
		return out
	}

	c := build(r.store, r.settings(srcCfg))
	defer c.Close()

	log := r.log.WithComponent("pipeline").WithFields(logger.Fields{
		"source": name,
		"from":   start.Format("2006-01-02"),
		"to":     end.Format("2006-01-02"),
	})
	log.Info("starting source run")

	records, err := c.Fetch(ctx, start, end)
	if err != nil {
		out.Err = fmt.Errorf("fetching %s: %w", name, err)
		out.Status = classify(err, "fetch")
		out.Elapsed = time.Since(began)
		log.WithError(err).WithFields(logger.Fields{"status": out.Status}).Error("source run failed")
		r.log.LogMetric("pipeline", "fetch_failures", 1, "count", logger.Fields{"source": name})
		return out
	}
	out.Fetched = len(records)

	if r.archiver != nil && len(records) > 0 {
		// Archive failures do not block landing; the store remains the
		// system of record.
		if err := r.archiver.Archive(ctx, name, records); err != nil {
			log.WithError(err).Warn("raw batch archive failed")
		}
	}

	if len(records) > 0 {
		inserted, err := c.Store(ctx, records)
		if err != nil {
			out.Err = err
			out.Status = classify(err, "store")
			out.Elapsed = time.Since(began)
			log.WithError(err).WithFields(logger.Fields{"status": out.Status}).Error("source run failed")
			return out
		}
		out.Inserted = inserted
	} else {
		log.Info("window yielded no records")
	}

	out.Status = StatusOK
	out.Elapsed = time.Since(began)
	log.WithFields(logger.Fields{
		"fetched":    out.Fetched,
		"inserted":   out.Inserted,
		"elapsed_ms": out.Elapsed.Milliseconds(),
	}).Info("source run completed")
	logger.AddRowsInserted(name, out.Inserted)
	logger.LogDataFlowEntry(log, name, "store", out.Inserted, "records")
	r.log.LogMetric("pipeline", "rows_inserted", out.Inserted, "count", logger.Fields{"source": name})
	return out
}

// RunAll drives every enabled source sequentially. One source failing does
// not stop the others; each outcome carries its own error.
func (r *Runner) RunAll(ctx context.Context, start, end time.Time) []Outcome {
	var outcomes []Outcome
	for _, name := range r.cfg.EnabledSources() {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Source: name, Status: StatusSkipped, Err: err})
			continue
		}
		outcomes = append(outcomes, r.RunSource(ctx, name, start, end))
	}
	return outcomes
}

// settings merges the global fetch defaults with one source's overrides.
func (r *Runner) settings(src appconfig.SourceConfig) connector.Settings {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Fetch.Timeout
	}
	maxConcurrent := src.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = r.cfg.Fetch.MaxConcurrent
	}
	return connector.Settings{
		BaseURL:           src.BaseURL,
		APIKey:            src.APIKey,
		RequestsPerSecond: src.RequestsPerSecond,
		Burst:             src.Burst,
		MaxConcurrent:     maxConcurrent,
		Timeout:           timeout,
		Retry: fetch.RetryPolicy{
			MaxAttempts: r.cfg.Fetch.Retry.MaxAttempts,
			BaseDelay:   r.cfg.Fetch.Retry.BaseDelay,
			MaxDelay:    r.cfg.Fetch.Retry.MaxDelay,
			Jitter:      r.cfg.Fetch.Retry.Jitter,
		},
		MaxSpanYears: src.MaxSpanYears,
		PageSize:     src.PageSize,
		MaxPages:     src.MaxPages,
		Locale:       src.Locale,
	}
}
