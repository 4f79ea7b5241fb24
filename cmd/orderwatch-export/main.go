package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderwatch/internal/aggregate"
	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/internal/reconcile"
	"github.com/xenking/orderwatch/internal/storage/snapshot"
	"github.com/xenking/orderwatch/internal/upstream"
	"github.com/xenking/orderwatch/internal/workset"
)

type options struct {
	out         string
	upstreamURL string
	token       string
	pageSize    int
	maxPages    int
	concurrency int
	timeout     time.Duration
	merge       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.out, "out", "orderwatch.snapshot.gz", "snapshot file to write")
	flag.StringVar(&opts.upstreamURL, "upstream-url", "", "marketplace API root (or MARKETPLACE_URL env)")
	flag.StringVar(&opts.token, "token", "", "bearer token (or MARKETPLACE_TOKEN env)")
	flag.IntVar(&opts.pageSize, "page-size", aggregate.DefaultPageSize, "history page size")
	flag.IntVar(&opts.maxPages, "max-pages", aggregate.DefaultMaxPages, "hard cap of history pages")
	flag.IntVar(&opts.concurrency, "concurrency", 4, "orders reconciled in parallel")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout of a single upstream call")
	flag.BoolVar(&opts.merge, "merge", true, "seed from the existing snapshot so known statuses never regress")
	flag.Parse()

	if opts.upstreamURL == "" {
		opts.upstreamURL = os.Getenv("MARKETPLACE_URL")
	}
	if opts.token == "" {
		opts.token = os.Getenv("MARKETPLACE_TOKEN")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.upstreamURL == "" {
		lg.Fatal("upstream URL is required: set -upstream-url or MARKETPLACE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Export failed", zap.Error(err))
	}
	lg.Info("Export completed", zap.String("out", opts.out))
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	client, err := upstream.New(upstream.Config{
		BaseURL:     opts.upstreamURL,
		AccessToken: opts.token,
		CallTimeout: opts.timeout,
	})
	if err != nil {
		return errors.Wrap(err, "create upstream client")
	}
	agg, err := aggregate.New(client, aggregate.Options{
		PageSize: opts.pageSize,
		MaxPages: opts.maxPages,
	})
	if err != nil {
		return errors.Wrap(err, "create aggregator")
	}

	// The previous snapshot and the history are independent reads.
	var (
		previous []*order.Order
		history  []order.Fragment
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.merge {
		g.Go(func() error {
			orders, err := snapshot.Load(gctx, opts.out)
			if err != nil {
				// An unreadable file is replaced, as the service does.
				lg.Warn("Ignoring unreadable snapshot", zap.String("path", opts.out), zap.Error(err))
				return nil
			}
			previous = orders
			return nil
		})
	}
	g.Go(func() error {
		frags, err := agg.FetchAll(gctx)
		if err != nil {
			return errors.Wrap(err, "fetch history")
		}
		history = frags
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	lg.Info("History fetched",
		zap.Int("orders", len(history)),
		zap.Int("previous", len(previous)),
	)

	set := workset.New()
	set.Seed(previous)
	set.Ingest(history)

	rec, err := reconcile.New(set, reconcile.Sources{
		Detail:   client,
		Shipping: client,
		Review:   client,
	}, reconcile.Options{Concurrency: opts.concurrency})
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}
	results, err := rec.ReconcileAll(ctx, set.IDs())
	if err != nil {
		return errors.Wrap(err, "reconcile")
	}
	var failed, removed int
	for _, res := range results {
		if res.Removed {
			removed++
		}
		if len(res.Failures) > 0 {
			failed++
		}
	}
	lg.Info("Reconciled",
		zap.Int("orders", len(results)),
		zap.Int("removed", removed),
		zap.Int("with_failures", failed),
	)

	orders := set.List()
	if err := snapshot.Save(ctx, opts.out, orders); err != nil {
		return errors.Wrap(err, "save snapshot")
	}
	n, err := countLines(ctx, opts.out)
	if err != nil {
		return errors.Wrap(err, "verify snapshot")
	}
	if n != len(orders) {
		return errors.Errorf("snapshot has %d lines, want %d", n, len(orders))
	}
	return nil
}

// countLines streams a gzip-compressed file and counts its lines.
func countLines(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var n int
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64<<10), 8<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrapf(err, "scan %s", path)
	}
	return n, nil
}
