package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/internal/workset"
)

// --- Mock implementations ---

type mockDetail struct {
	mu    sync.Mutex
	frags map[string]*order.Fragment
	errs  map[string]error
	calls atomic.Int32

	// inflight tracks concurrent calls for limit tests.
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (m *mockDetail) FetchDetail(ctx context.Context, id string) (*order.Fragment, error) {
	m.calls.Add(1)
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[id]; err != nil {
		return nil, err
	}
	if f, ok := m.frags[id]; ok {
		c := *f
		c.Source = order.SourceDetail
		return &c, nil
	}
	return nil, order.NewFailure(order.SourceDetail, order.KindNotFound, "FetchDetail", nil)
}

type mockShipping struct {
	frag  *order.Fragment
	err   error
	calls atomic.Int32
}

func (m *mockShipping) FetchShipping(_ context.Context, _ string) (*order.Fragment, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	c := *m.frag
	c.Source = order.SourceShipping
	return &c, nil
}

type mockReview struct {
	has   bool
	errs  []error
	calls atomic.Int32
}

func (m *mockReview) HasReview(_ context.Context, _ string) (bool, error) {
	n := int(m.calls.Add(1))
	if n <= len(m.errs) && m.errs[n-1] != nil {
		return false, m.errs[n-1]
	}
	return m.has, nil
}

func transient(src order.Source) error {
	return order.NewFailure(src, order.KindTransient, "test", errors.New("503"))
}

func newReconciler(t *testing.T, set *workset.Set, src Sources) *Reconciler {
	t.Helper()
	r, err := New(set, src, Options{Concurrency: 2})
	require.NoError(t, err)
	return r
}

// --- Tests ---

func TestNew_RequiresDetail(t *testing.T) {
	_, err := New(workset.New(), Sources{}, Options{})
	require.Error(t, err)
}

func TestReconcile_StaleShippingKeepsConfirmed(t *testing.T) {
	set := workset.New()
	set.Apply("42", order.Fragment{Source: order.SourceHistory, Status: order.StatusConfirmed})

	detail := &mockDetail{errs: map[string]error{"42": transient(order.SourceDetail)}}
	shipping := &mockShipping{frag: &order.Fragment{Status: order.StatusPending, RawStatus: "PENDING"}}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping})

	res, err := r.Reconcile(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	assert.Len(t, res.Report.Rejections, 1)
	assert.Len(t, res.Failures, 1)
	assert.Equal(t, int32(1), shipping.calls.Load())

	held, _ := set.Get("42")
	assert.Equal(t, order.StatusConfirmed, held.Status)
}

func TestReconcile_ShippingOnlyForConfirmedOrShipping(t *testing.T) {
	set := workset.New()
	set.Apply("1", order.Fragment{Source: order.SourceHistory, Status: order.StatusPending})

	detail := &mockDetail{frags: map[string]*order.Fragment{"1": {Status: order.StatusPending}}}
	shipping := &mockShipping{frag: &order.Fragment{Status: order.StatusShipping}}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping})

	_, err := r.Reconcile(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int32(0), shipping.calls.Load())
}

func TestReconcile_DetailWinsOverShipping(t *testing.T) {
	set := workset.New()
	set.Apply("1", order.Fragment{Source: order.SourceHistory, Status: order.StatusConfirmed})

	detail := &mockDetail{frags: map[string]*order.Fragment{"1": {Status: order.StatusConfirmed}}}
	shipping := &mockShipping{frag: &order.Fragment{
		Status:   order.StatusShipping,
		Shipping: order.Shipping{Carrier: "GHN", TrackingNumber: "T-1"},
	}}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping})

	res, err := r.Reconcile(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	assert.Equal(t, "T-1", res.Order.Shipping.TrackingNumber)
	assert.Equal(t, "GHN", res.Order.Shipping.Carrier)
}

func TestReconcile_ShippingAdvancesWhenDetailFails(t *testing.T) {
	set := workset.New()
	set.Apply("1", order.Fragment{Source: order.SourceHistory, Status: order.StatusConfirmed})

	detail := &mockDetail{errs: map[string]error{"1": transient(order.SourceDetail)}}
	shipping := &mockShipping{frag: &order.Fragment{Status: order.StatusShipping}}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping})

	res, err := r.Reconcile(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipping, res.Order.Status)
}

func TestReconcile_DeliveredChecksReviewOnce(t *testing.T) {
	set := workset.New()
	set.Apply("7", order.Fragment{Source: order.SourceHistory, Status: order.StatusShipping})

	detail := &mockDetail{frags: map[string]*order.Fragment{"7": {Status: order.StatusDelivered, RawStatus: "DELIVERED"}}}
	shipping := &mockShipping{frag: &order.Fragment{Status: order.StatusShipping}}
	review := &mockReview{has: true}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping, Review: review})

	res, err := r.Reconcile(context.Background(), "7")
	require.NoError(t, err)

	assert.Equal(t, order.StatusDelivered, res.Order.Status)
	assert.True(t, res.Order.HasReview)
	assert.True(t, res.Order.ReviewChecked)
	assert.Equal(t, int32(1), review.calls.Load())

	for range 3 {
		_, err := r.Reconcile(context.Background(), "7")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), review.calls.Load())

	held, _ := set.Get("7")
	assert.True(t, held.HasReview)
}

func TestReconcile_FailedReviewCheckIsRetried(t *testing.T) {
	set := workset.New()
	detail := &mockDetail{frags: map[string]*order.Fragment{"7": {Status: order.StatusDelivered}}}
	review := &mockReview{has: false, errs: []error{transient(order.SourceReview)}}
	r := newReconciler(t, set, Sources{Detail: detail, Review: review})

	res, err := r.Reconcile(context.Background(), "7")
	require.NoError(t, err)
	assert.False(t, res.Order.ReviewChecked)
	assert.Len(t, res.Failures, 1)

	res, err = r.Reconcile(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, res.Order.ReviewChecked)
	assert.False(t, res.Order.HasReview)
	assert.Equal(t, int32(2), review.calls.Load())
}

func TestReconcile_NotFoundRemoves(t *testing.T) {
	set := workset.New()
	set.Apply("9", order.Fragment{Source: order.SourceHistory, Status: order.StatusPending})

	r := newReconciler(t, set, Sources{Detail: &mockDetail{}})

	res, err := r.Reconcile(context.Background(), "9")
	require.NoError(t, err)

	assert.True(t, res.Removed)
	assert.Nil(t, res.Order)
	_, ok := set.Get("9")
	assert.False(t, ok)
}

func TestReconcile_ShippingNotFoundIsIgnored(t *testing.T) {
	set := workset.New()
	set.Apply("1", order.Fragment{Source: order.SourceHistory, Status: order.StatusShipping})

	detail := &mockDetail{frags: map[string]*order.Fragment{"1": {Status: order.StatusShipping}}}
	shipping := &mockShipping{err: order.NewFailure(order.SourceShipping, order.KindNotFound, "FetchShipping", nil)}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping})

	res, err := r.Reconcile(context.Background(), "1")
	require.NoError(t, err)

	assert.False(t, res.Removed)
	_, ok := set.Get("1")
	assert.True(t, ok)
}

func TestReconcile_AllSourcesFailKeepsHeld(t *testing.T) {
	set := workset.New()
	set.Apply("1", order.Fragment{Source: order.SourceHistory, Status: order.StatusShipping, Code: "GT-1"})
	before, _ := set.Get("1")

	detail := &mockDetail{errs: map[string]error{"1": transient(order.SourceDetail)}}
	shipping := &mockShipping{err: transient(order.SourceShipping)}
	r := newReconciler(t, set, Sources{Detail: detail, Shipping: shipping})

	res, err := r.Reconcile(context.Background(), "1")
	require.NoError(t, err)

	assert.Len(t, res.Failures, 2)
	assert.Equal(t, before, res.Order)
	after, _ := set.Get("1")
	assert.Equal(t, before, after)
	assert.True(t, r.LastSuccess().IsZero())
}

func TestReconcile_UnknownOrderIsCreated(t *testing.T) {
	set := workset.New()
	detail := &mockDetail{frags: map[string]*order.Fragment{"3": {Status: order.StatusPending, Code: "GT-3"}}}
	r := newReconciler(t, set, Sources{Detail: detail})

	res, err := r.Reconcile(context.Background(), "3")
	require.NoError(t, err)

	require.NotNil(t, res.Order)
	assert.Equal(t, "GT-3", res.Order.Code)
	assert.False(t, r.LastSuccess().IsZero())
}

func TestReconcile_ContextCanceled(t *testing.T) {
	set := workset.New()
	r := newReconciler(t, set, Sources{Detail: &mockDetail{delay: time.Second}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcileAll_BoundedConcurrency(t *testing.T) {
	set := workset.New()
	frags := map[string]*order.Fragment{}
	var ids []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		frags[id] = &order.Fragment{Status: order.StatusConfirmed}
		ids = append(ids, id)
	}
	detail := &mockDetail{frags: frags, delay: 20 * time.Millisecond}
	r := newReconciler(t, set, Sources{Detail: detail})

	results, err := r.ReconcileAll(context.Background(), ids)
	require.NoError(t, err)

	require.Len(t, results, len(ids))
	for i, res := range results {
		assert.Equal(t, ids[i], res.ID)
		assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	}
	assert.LessOrEqual(t, detail.peak.Load(), int32(2))
	assert.Equal(t, int32(len(ids)), detail.calls.Load())
}
