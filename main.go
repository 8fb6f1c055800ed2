package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"macroflow/config"
	"macroflow/internal/archive"
	"macroflow/internal/pipeline"
	"macroflow/internal/quality"
	"macroflow/internal/store"
	"macroflow/logger"
)

const dateLayout = "2006-01-02"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	fromFlag := flag.String("from", "", "Start of the ingestion window (YYYY-MM-DD, default 30 days ago)")
	toFlag := flag.String("to", "", "End of the ingestion window (YYYY-MM-DD, default today)")
	sourcesFlag := flag.String("sources", "", "Comma-separated subset of sources to run (default all enabled)")
	qualityFlag := flag.Bool("quality", false, "Run data quality checks after ingestion")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "Macroflow", cfg.Logging.DashboardName)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Macroflow.Name,
		"version": cfg.Macroflow.Version,
	}).Info("starting macroflow")

	start, end, err := window(*fromFlag, *toFlag)
	if err != nil {
		log.WithError(err).Error("invalid ingestion window")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	// A signal during a run cancels in-flight fetches; completed windows
	// are already committed.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Error("failed to open store")
		os.Exit(1)
	}
	defer st.Close()

	var archiver *archive.Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = archive.New(ctx, archive.Options{
			Bucket:          cfg.Storage.S3.Bucket,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			PathStyle:       cfg.Storage.S3.PathStyle,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			Compression:     cfg.Storage.S3.Compression,
			AppVersion:      cfg.Macroflow.Version,
		})
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archiver")
	}

	runner := pipeline.NewRunner(cfg, st, archiver)

	names := cfg.EnabledSources()
	if *sourcesFlag != "" {
		names = splitSources(*sourcesFlag)
	}

	log.WithFields(logger.Fields{
		"sources": strings.Join(names, ","),
		"from":    start.Format(dateLayout),
		"to":      end.Format(dateLayout),
	}).Info("ingestion window resolved")

	failed := 0
	for _, name := range names {
		out := runner.RunSource(ctx, name, start, end)
		if out.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%-8s %s  %v\n", out.Source, out.Status, out.Err)
			continue
		}
		fmt.Printf("%-8s fetched=%d inserted=%d elapsed=%s\n",
			out.Source, out.Fetched, out.Inserted, out.Elapsed.Round(time.Millisecond))
	}

	qualityFailed := false
	if *qualityFlag && ctx.Err() == nil {
		engine := quality.NewEngine(st, qualityConfig(cfg))
		report, err := engine.RunAllChecks(ctx)
		if err != nil {
			log.WithError(err).Error("quality checks failed to run")
			os.Exit(1)
		}
		fmt.Print(report.Render())
		qualityFailed = report.Status == "FAIL"
	}

	log.Info("macroflow finished")

	if failed > 0 || qualityFailed {
		os.Exit(1)
	}
}

// window resolves the -from/-to flags, defaulting to the trailing 30 days.
func window(from, to string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to date '%s': %w", to, err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -30)
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from date '%s': %w", from, err)
		}
		start = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %s precedes start %s", end.Format(dateLayout), start.Format(dateLayout))
	}
	return start, end, nil
}

func splitSources(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(strings.ToLower(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func qualityConfig(cfg *config.Config) quality.Config {
	ranges := make([]quality.ValueRange, 0, len(cfg.Quality.AccuracyRanges))
	for _, r := range cfg.Quality.AccuracyRanges {
		ranges = append(ranges, quality.ValueRange{Series: r.Series, Min: r.Min, Max: r.Max})
	}
	return quality.Config{
		AccuracyRanges: ranges,
		MinCurveTenors: cfg.Quality.MinCurveTenors,
	}
}
