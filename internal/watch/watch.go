// Package watch binds list and detail views to refresh pollers.
package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/internal/poller"
	"github.com/xenking/orderwatch/internal/reconcile"
	"github.com/xenking/orderwatch/internal/workset"
)

const (
	DefaultListInterval   = 15 * time.Second
	DefaultDetailInterval = 30 * time.Second
)

// ErrClosed is returned by mounts after Close.
var ErrClosed = errors.New("watch service closed")

// Lister fetches the full order history.
type Lister interface {
	FetchAll(ctx context.Context) ([]order.Fragment, error)
}

// Reconciler runs reconciliation cycles.
type Reconciler interface {
	Reconcile(ctx context.Context, id string) (reconcile.Result, error)
	ReconcileAll(ctx context.Context, ids []string) ([]reconcile.Result, error)
}

// Options configures a Service.
type Options struct {
	ListInterval   time.Duration
	DetailInterval time.Duration
}

// Service owns the mounted views.
type Service struct {
	set  *workset.Set
	list Lister
	rec  Reconciler
	opts Options

	mu      sync.Mutex
	closed  bool
	lister  *poller.Poller
	details map[string]*poller.Poller
}

// New creates a Service.
func New(set *workset.Set, list Lister, rec Reconciler, opts Options) *Service {
	if opts.ListInterval <= 0 {
		opts.ListInterval = DefaultListInterval
	}
	if opts.DetailInterval <= 0 {
		opts.DetailInterval = DefaultDetailInterval
	}
	return &Service{
		set:     set,
		list:    list,
		rec:     rec,
		opts:    opts,
		details: make(map[string]*poller.Poller),
	}
}

// Run unmounts detail views of removed orders until ctx is done, then
// closes the service.
func (s *Service) Run(ctx context.Context) error {
	events, cancel := s.set.Subscribe(64)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if ev.Type == workset.EventRemoved && s.Unmount(ev.ID) {
					zctx.From(ctx).Info("Detail view unmounted for removed order", zap.String("order_id", ev.ID))
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	return g.Wait()
}

// MountList starts the list poller. Mounting twice is a no-op.
func (s *Service) MountList(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.lister != nil {
		return nil
	}
	s.lister = poller.New("list", s.opts.ListInterval, s.listCycle)
	s.lister.Start(context.WithoutCancel(ctx))
	return nil
}

// MountDetail starts a detail poller for order id. Mounting twice is a
// no-op.
func (s *Service) MountDetail(ctx context.Context, id string) error {
	if id == "" {
		return &order.ValidationError{Field: "id", Message: "order id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.details[id]; ok {
		return nil
	}
	p := poller.New("detail:"+id, s.opts.DetailInterval, func(ctx context.Context) error {
		res, err := s.rec.Reconcile(ctx, id)
		if res.Removed {
			// Stop waits for this cycle, so it cannot run on the poller goroutine.
			go s.Unmount(id)
		}
		return err
	})
	s.details[id] = p
	p.Start(context.WithoutCancel(ctx))
	return nil
}

// Unmount stops the detail poller of order id. It reports whether a view
// was mounted.
func (s *Service) Unmount(id string) bool {
	s.mu.Lock()
	p, ok := s.details[id]
	delete(s.details, id)
	s.mu.Unlock()

	if ok {
		p.Stop()
	}
	return ok
}

// UnmountList stops the list poller.
func (s *Service) UnmountList() {
	s.mu.Lock()
	p := s.lister
	s.lister = nil
	s.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// Focus triggers an immediate refresh of every mounted view.
func (s *Service) Focus() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if s.lister != nil {
		s.lister.Trigger()
		n++
	}
	for _, p := range s.details {
		p.Trigger()
		n++
	}
	return n
}

// Mounted returns the ids of mounted detail views, sorted.
func (s *Service) Mounted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.details))
	for id := range s.details {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every poller. Close is idempotent.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	pollers := make([]*poller.Poller, 0, len(s.details)+1)
	if s.lister != nil {
		pollers = append(pollers, s.lister)
		s.lister = nil
	}
	for id, p := range s.details {
		pollers = append(pollers, p)
		delete(s.details, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}
	wg.Wait()
}

// listCycle pulls every history page, ingests it and reconciles every held
// order. A failed aggregation leaves the working set untouched.
func (s *Service) listCycle(ctx context.Context) error {
	frags, err := s.list.FetchAll(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch history")
	}
	changed := s.set.Ingest(frags)

	ids := s.set.IDs()
	results, err := s.rec.ReconcileAll(ctx, ids)
	if err != nil {
		return err
	}

	var removed, failed int
	for _, r := range results {
		if r.Removed {
			removed++
		}
		if len(r.Failures) > 0 {
			failed++
		}
	}
	zctx.From(ctx).Debug("List refreshed",
		zap.Int("orders", len(ids)),
		zap.Int("ingested", changed),
		zap.Int("removed", removed),
		zap.Int("degraded", failed),
	)
	return nil
}
