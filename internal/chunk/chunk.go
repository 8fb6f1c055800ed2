// Package chunk holds the pure request-planning algorithms shared by all
// connectors: date-range chunking for providers that cap query spans, and a
// page-by-page fetch driver with a hard safety cap.
package chunk

import (
	"context"
	"fmt"
	"time"

	"macroflow/logger"
)

// Range is one provider-legal [Start, End] sub-window, both ends inclusive.
type Range struct {
	Start time.Time
	End   time.Time
}

// Split divides [start, end] into consecutive ranges no longer than
// maxSpanYears each. A chunk ends one day before the next starts, so the
// concatenation covers the window exactly with no gaps or overlaps; AddDate
// normalizes Feb-29 boundaries in non-leap years. The final chunk is clipped
// to end. maxSpanYears <= 0 returns the whole window as a single range.
func Split(start, end time.Time, maxSpanYears int) []Range {
	if end.Before(start) {
		return nil
	}
	if maxSpanYears <= 0 {
		return []Range{{Start: start, End: end}}
	}

	var out []Range
	cur := start
	for {
		next := cur.AddDate(maxSpanYears, 0, 0)
		chunkEnd := next.AddDate(0, 0, -1)
		if !chunkEnd.Before(end) {
			out = append(out, Range{Start: cur, End: end})
			return out
		}
		out = append(out, Range{Start: cur, End: chunkEnd})
		cur = next
	}
}

// PageFunc fetches one page (1-based) and returns its items.
type PageFunc[T any] func(ctx context.Context, page int) ([]T, error)

// Collect drives a paginated fetch: it requests pages of pageSize items,
// accumulating results until a page comes back short (the provider's
// end-of-data signal) or maxPages is reached. The cap exists for providers
// that never signal completion; hitting it is logged as a warning, not an
// error.
func Collect[T any](ctx context.Context, source string, pageSize, maxPages int, fn PageFunc[T]) ([]T, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("pagination: page size must be positive, got %d", pageSize)
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var items []T
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		batch, err := fn(ctx, page)
		if err != nil {
			return items, err
		}
		items = append(items, batch...)

		if len(batch) < pageSize {
			return items, nil
		}
		if page >= maxPages {
			logger.GetLogger().WithComponent("pagination").WithFields(logger.Fields{
				"source":    source,
				"max_pages": maxPages,
				"page_size": pageSize,
				"items":     len(items),
			}).Warn("pagination stopped at max page cap; provider may have more data")
			return items, nil
		}
	}
}
