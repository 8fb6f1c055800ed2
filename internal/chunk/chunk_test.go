package chunk

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSplitCoversWindowExactly(t *testing.T) {
	cases := []struct {
		start, end string
		spanYears  int
	}{
		{"2010-01-01", "2024-06-30", 5},
		{"2010-01-01", "2010-06-30", 5},
		{"2000-02-29", "2013-03-15", 1},
		{"2019-12-31", "2020-01-01", 10},
		{"2015-07-04", "2015-07-04", 2},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%s_%d", tc.start, tc.end, tc.spanYears), func(t *testing.T) {
			start, end := day(tc.start), day(tc.end)
			chunks := Split(start, end, tc.spanYears)
			if len(chunks) == 0 {
				t.Fatal("expected at least one chunk")
			}
			if !chunks[0].Start.Equal(start) {
				t.Fatalf("first chunk starts at %v, want %v", chunks[0].Start, start)
			}
			if !chunks[len(chunks)-1].End.Equal(end) {
				t.Fatalf("last chunk ends at %v, want %v", chunks[len(chunks)-1].End, end)
			}
			for i, c := range chunks {
				if c.End.Before(c.Start) {
					t.Fatalf("chunk %d is inverted: %+v", i, c)
				}
				if c.Start.AddDate(tc.spanYears, 0, 0).AddDate(0, 0, -1).Before(c.End) {
					t.Fatalf("chunk %d exceeds %d years: %+v", i, tc.spanYears, c)
				}
				if i > 0 {
					gap := chunks[i-1].End.AddDate(0, 0, 1)
					if !c.Start.Equal(gap) {
						t.Fatalf("chunk %d starts at %v, want contiguous %v", i, c.Start, gap)
					}
				}
			}
		})
	}
}

func TestSplitNoMaxSpan(t *testing.T) {
	chunks := Split(day("2010-01-01"), day("2024-01-01"), 0)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
}

func TestSplitInvertedWindow(t *testing.T) {
	if chunks := Split(day("2024-01-01"), day("2010-01-01"), 5); chunks != nil {
		t.Fatalf("expected nil for inverted window, got %v", chunks)
	}
}

func TestCollectStopsOnShortPage(t *testing.T) {
	pages := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	var calls int
	items, err := Collect(context.Background(), "test", 3, 100, func(ctx context.Context, page int) ([]int, error) {
		calls++
		return pages[page-1], nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 page fetches, got %d", calls)
	}
	if len(items) != 7 {
		t.Fatalf("expected 7 items, got %d", len(items))
	}
}

func TestCollectHardCapOnEndlessPages(t *testing.T) {
	const pageSize, maxPages = 10, 4
	items, err := Collect(context.Background(), "endless", pageSize, maxPages, func(ctx context.Context, page int) ([]int, error) {
		full := make([]int, pageSize)
		return full, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != pageSize*maxPages {
		t.Fatalf("expected exactly %d items at the cap, got %d", pageSize*maxPages, len(items))
	}
}

func TestCollectPropagatesFetchError(t *testing.T) {
	wantErr := fmt.Errorf("boom")
	_, err := Collect(context.Background(), "test", 2, 5, func(ctx context.Context, page int) ([]int, error) {
		if page == 2 {
			return nil, wantErr
		}
		return []int{1, 2}, nil
	})
	if err == nil {
		t.Fatal("expected error from page fetch")
	}
}

func TestCollectRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, "test", 2, 5, func(ctx context.Context, page int) ([]int, error) {
		return []int{1, 2}, nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
}
