package connector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"macroflow/internal/store"
	"macroflow/models"
)

type scriptedConnector struct {
	*Base
	fetch func(ctx context.Context, start, end time.Time) ([]models.Record, error)
}

func (c *scriptedConnector) Fetch(ctx context.Context, start, end time.Time) ([]models.Record, error) {
	return c.fetch(ctx, start, end)
}

func newScripted(t *testing.T, fetch func(ctx context.Context, start, end time.Time) ([]models.Record, error)) (*scriptedConnector, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "connector.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	source := models.DataSource{Name: "scripted", BaseURL: "http://localhost"}
	series := []models.SeriesMeta{{SourceName: "scripted", Code: "TEST_SERIES", Frequency: models.FreqMonthly, Active: true}}
	return &scriptedConnector{
		Base:  NewBase(source, series, nil, st, nil),
		fetch: fetch,
	}, st
}

func window() (time.Time, time.Time) {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
}

func TestRunLandsFetchedRecords(t *testing.T) {
	c, st := newScripted(t, func(_ context.Context, start, _ time.Time) ([]models.Record, error) {
		return []models.Record{
			models.MacroObservation{SourceName: "scripted", SeriesCode: "TEST_SERIES", ObservationDate: start, ReleaseTime: start.Add(time.Hour), Value: 1.5},
			models.MacroObservation{SourceName: "scripted", SeriesCode: "TEST_SERIES", ObservationDate: start.AddDate(0, 1, 0), ReleaseTime: start.AddDate(0, 1, 0), Value: 1.6},
		}, nil
	})
	start, end := window()

	n, err := Run(context.Background(), c, start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	count, err := st.CountFacts(context.Background(), models.KindMacroObservation)
	if err != nil {
		t.Fatalf("CountFacts: %v", err)
	}
	if count != 2 {
		t.Errorf("stored rows = %d, want 2", count)
	}
}

func TestRunIsIdempotentAcrossWindows(t *testing.T) {
	c, st := newScripted(t, func(_ context.Context, start, _ time.Time) ([]models.Record, error) {
		return []models.Record{
			models.MacroObservation{SourceName: "scripted", SeriesCode: "TEST_SERIES", ObservationDate: start, ReleaseTime: start, Value: 2.0},
		}, nil
	})
	start, end := window()

	if n, err := Run(context.Background(), c, start, end); err != nil || n != 1 {
		t.Fatalf("first Run = (%d, %v), want (1, nil)", n, err)
	}
	n, err := Run(context.Background(), c, start, end)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 0 {
		t.Errorf("second Run inserted = %d, want 0", n)
	}
	count, _ := st.CountFacts(context.Background(), models.KindMacroObservation)
	if count != 1 {
		t.Errorf("stored rows = %d, want 1", count)
	}
}

func TestRunSkipsStoreOnEmptyWindow(t *testing.T) {
	c, st := newScripted(t, func(context.Context, time.Time, time.Time) ([]models.Record, error) {
		return nil, nil
	})
	start, end := window()

	n, err := Run(context.Background(), c, start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}
	count, _ := st.CountFacts(context.Background(), models.KindMacroObservation)
	if count != 0 {
		t.Errorf("stored rows = %d, want 0 (store should be untouched)", count)
	}
}

func TestRunPropagatesFetchError(t *testing.T) {
	sentinel := errors.New("upstream down")
	c, _ := newScripted(t, func(context.Context, time.Time, time.Time) ([]models.Record, error) {
		return nil, sentinel
	})
	start, end := window()

	_, err := Run(context.Background(), c, start, end)
	if !errors.Is(err, sentinel) {
		t.Errorf("Run error = %v, want wrapped %v", err, sentinel)
	}
}

func TestDataParsingErrorFormatting(t *testing.T) {
	inner := errors.New("unexpected token")
	err := &DataParsingError{Source: "scripted", Snippet: "<html>err", Err: inner}
	if !errors.Is(err, inner) {
		t.Errorf("Unwrap lost inner error")
	}
	if msg := err.Error(); msg == "" || !errors.As(error(err), new(*DataParsingError)) {
		t.Errorf("unexpected formatting: %q", msg)
	}
}
