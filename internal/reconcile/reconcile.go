// Package reconcile runs reconciliation cycles: it queries the status
// sources for an order and merges their answers into the working set.
package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// Store is the working set the reconciler commits to.
type Store interface {
	Get(id string) (*order.Order, bool)
	Apply(id string, frags ...order.Fragment) (*order.Order, order.Report)
	Remove(id string) bool
}

// Sources are the status sources consulted during a cycle.
type Sources struct {
	Detail   order.DetailFetcher
	Shipping order.ShippingFetcher
	Review   order.ReviewChecker
}

// Options configures a Reconciler.
type Options struct {
	// Concurrency bounds ReconcileAll. Defaults to 4.
	Concurrency    int
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Result describes one reconciliation cycle of one order.
type Result struct {
	ID string
	// Order is the state after the cycle, nil when removed or never known.
	Order   *order.Order
	Report  order.Report
	Removed bool
	// Failures are source failures contained by the cycle.
	Failures []error
}

// Reconciler merges source answers into the working set.
type Reconciler struct {
	store       Store
	src         Sources
	concurrency int

	tracer   trace.Tracer
	cycles   metric.Int64Counter
	fails    metric.Int64Counter
	rejects  metric.Int64Counter
	removals metric.Int64Counter

	lastSuccess atomic.Int64
}

// New creates a Reconciler. Detail is required.
func New(store Store, src Sources, opts Options) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if src.Detail == nil {
		return nil, errors.New("detail source is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}

	meter := opts.MeterProvider.Meter("orderwatch/reconcile")
	r := &Reconciler{
		store:       store,
		src:         src,
		concurrency: opts.Concurrency,
		tracer:      opts.TracerProvider.Tracer("orderwatch/reconcile"),
	}
	var err error
	if r.cycles, err = meter.Int64Counter("orderwatch.reconcile.cycles",
		metric.WithDescription("Reconciliation cycles run"),
	); err != nil {
		return nil, errors.Wrap(err, "cycles counter")
	}
	if r.fails, err = meter.Int64Counter("orderwatch.reconcile.failures",
		metric.WithDescription("Status source failures contained by a cycle"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if r.rejects, err = meter.Int64Counter("orderwatch.reconcile.rejections",
		metric.WithDescription("Regressive status candidates discarded"),
	); err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	if r.removals, err = meter.Int64Counter("orderwatch.reconcile.removals",
		metric.WithDescription("Orders removed after the detail source reported them missing"),
	); err != nil {
		return nil, errors.Wrap(err, "removals counter")
	}
	return r, nil
}

// LastSuccess returns when the detail source last answered, zero if never.
func (r *Reconciler) LastSuccess() time.Time {
	ns := r.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// consultShipping reports whether the held status makes the shipping
// projection informative.
func consultShipping(held *order.Order) bool {
	return held != nil && (held.Status == order.StatusConfirmed || held.Status == order.StatusShipping)
}

// Reconcile runs one cycle for the order id. Source failures never fail the
// cycle: they are logged, counted and returned in Result.Failures while the
// held state stays untouched. The error is non-nil only when ctx is done.
func (r *Reconciler) Reconcile(ctx context.Context, id string) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Order",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("order_id", id))
	r.cycles.Add(ctx, 1)

	res := Result{ID: id}
	held, known := r.store.Get(id)

	var (
		detail, shipping       *order.Fragment
		detailErr, shippingErr error
	)
	// Settle-all: every call runs to completion and reports on its own.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		detail, detailErr = r.src.Detail.FetchDetail(gctx, id)
		return nil
	})
	if r.src.Shipping != nil && consultShipping(held) {
		g.Go(func() error {
			shipping, shippingErr = r.src.Shipping.FetchShipping(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if detailErr == nil {
		r.lastSuccess.Store(time.Now().UnixNano())
	}

	if errors.Is(detailErr, order.ErrNotFound) {
		if r.store.Remove(id) {
			r.removals.Add(ctx, 1)
			lg.Info("Order removed", zap.String("source", order.SourceDetail.String()))
		}
		res.Removed = true
		span.SetAttributes(attribute.Bool("order.removed", true))
		return res, nil
	}

	var frags []order.Fragment
	if detailErr != nil {
		res.Failures = append(res.Failures, r.failure(ctx, lg, order.SourceDetail, detailErr))
	} else if detail != nil {
		frags = append(frags, *detail)
	}
	if shippingErr != nil {
		// Shipping gaps never affect the order.
		res.Failures = append(res.Failures, r.failure(ctx, lg, order.SourceShipping, shippingErr))
	} else if shipping != nil {
		frags = append(frags, *shipping)
	}

	if len(frags) == 0 {
		if known {
			res.Order = held
		}
		if len(res.Failures) > 0 {
			span.SetStatus(codes.Error, "all sources failed")
		}
		return res, nil
	}

	next, rep := r.store.Apply(id, frags...)
	res.Order, res.Report = next, rep
	r.recordRejections(ctx, lg, rep)
	if rep.StatusChanged() {
		lg.Info("Status changed",
			zap.String("from", rep.From.String()),
			zap.String("to", rep.To.String()),
			zap.String("source", rep.Owner.String()),
		)
	}

	if next != nil && next.Status == order.StatusDelivered && !next.ReviewChecked {
		r.checkReview(ctx, lg, &res)
	}
	return res, nil
}

// checkReview asks the review source once. The answer is cached on the
// order; a failure leaves ReviewChecked false so the next cycle that
// commits fragments retries. A cycle where every status source fails
// returns before this point and does not retry.
func (r *Reconciler) checkReview(ctx context.Context, lg *zap.Logger, res *Result) {
	if r.src.Review == nil {
		return
	}
	has, err := r.src.Review.HasReview(ctx, res.ID)
	if err != nil {
		res.Failures = append(res.Failures, r.failure(ctx, lg, order.SourceReview, err))
		return
	}
	next, rep := r.store.Apply(res.ID, order.Fragment{
		Source:    order.SourceReview,
		HasReview: order.Bool(has),
	})
	res.Order = next
	res.Report.Changed = res.Report.Changed || rep.Changed
	lg.Debug("Review checked", zap.Bool("has_review", has))
}

func (r *Reconciler) failure(ctx context.Context, lg *zap.Logger, src order.Source, err error) error {
	kind := order.KindOf(err)
	r.fails.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", src.String()),
		attribute.String("kind", string(kind)),
	))
	lg.Warn("Source failed",
		zap.String("source", src.String()),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return err
}

func (r *Reconciler) recordRejections(ctx context.Context, lg *zap.Logger, rep order.Report) {
	for _, rej := range rep.Rejections {
		r.rejects.Add(ctx, 1, metric.WithAttributes(attribute.String("source", rej.Source.String())))
		lg.Debug("Status candidate rejected",
			zap.String("source", rej.Source.String()),
			zap.String("current", rej.Current.String()),
			zap.String("candidate", rej.Candidate.String()),
		)
	}
}

// ReconcileAll runs cycles for ids with bounded concurrency. Results keep
// the order of ids.
func (r *Reconciler) ReconcileAll(ctx context.Context, ids []string) ([]Result, error) {
	results := make([]Result, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := r.Reconcile(gctx, id)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, errors.Wrap(err, "reconcile all")
	}
	return results, nil
}
