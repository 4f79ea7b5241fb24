// Package aggregate pulls the full order history page by page and filters
// it in memory.
package aggregate

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderwatch/internal/domain/order"
)

const (
	DefaultPageSize = 20
	DefaultMaxPages = 50
)

// Options configures an Aggregator.
type Options struct {
	PageSize      int
	MaxPages      int
	MeterProvider metric.MeterProvider
}

// Aggregator fetches every history page.
type Aggregator struct {
	src      order.HistoryFetcher
	pageSize int
	maxPages int
	pages    metric.Int64Counter
}

// New creates an Aggregator.
func New(src order.HistoryFetcher, opts Options) (*Aggregator, error) {
	if src == nil {
		return nil, errors.New("history source is required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	pages, err := opts.MeterProvider.Meter("orderwatch/aggregate").Int64Counter("orderwatch.aggregate.pages",
		metric.WithDescription("History pages fetched"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pages counter")
	}
	return &Aggregator{
		src:      src,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		pages:    pages,
	}, nil
}

// FetchAll reads pages sequentially from page 1 until the reported total
// pages or items are reached, a page comes back short, or the page cap is
// hit. Duplicate ids keep their first occurrence. The result is reversed so
// the most recent orders come first.
//
// Any page failure fails the whole call; callers keep their previous state.
func (a *Aggregator) FetchAll(ctx context.Context) ([]order.Fragment, error) {
	lg := zctx.From(ctx)

	var (
		out  []order.Fragment
		seen = make(map[string]struct{})
		page = 1
	)
	for ; page <= a.maxPages; page++ {
		p, err := a.src.FetchHistoryPage(ctx, page, a.pageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "page %d", page)
		}
		a.pages.Add(ctx, 1)

		for _, f := range p.Items {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			out = append(out, f)
		}

		if done(p, page, a.pageSize, len(out)) {
			break
		}
	}
	if page > a.maxPages {
		lg.Warn("History page cap reached", zap.Int("max_pages", a.maxPages), zap.Int("orders", len(out)))
		page = a.maxPages
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	lg.Debug("History fetched", zap.Int("pages", page), zap.Int("orders", len(out)))
	return out, nil
}

func done(p *order.HistoryPage, page, size, collected int) bool {
	switch {
	case p.TotalPages > 0 && page >= p.TotalPages:
		return true
	case p.TotalElements > 0 && collected >= p.TotalElements:
		return true
	case len(p.Items) < size:
		return true
	default:
		return false
	}
}
