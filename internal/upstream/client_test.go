package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderwatch/internal/domain/order"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:     srv.URL,
		AccessToken: "tok",
		CallTimeout: time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestFetchDetail_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/order/42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"id":42,"status":"SHIPPED","price":100,"shippingFee":5}}`)
	}))

	f, err := c.FetchDetail(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, order.SourceDetail, f.Source)
	assert.Equal(t, "42", f.ID)
	assert.Equal(t, order.StatusShipping, f.Status)
	assert.NotEmpty(t, f.Raw)
}

func TestFetchDetail_StatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, order.ErrNotFound},
		{http.StatusGone, order.ErrNotFound},
		{http.StatusBadRequest, order.ErrValidation},
		{http.StatusConflict, order.ErrValidation},
		{http.StatusUnprocessableEntity, order.ErrValidation},
		{http.StatusUnauthorized, order.ErrTransient},
		{http.StatusTooManyRequests, order.ErrTransient},
		{http.StatusRequestTimeout, order.ErrTransient},
		{http.StatusInternalServerError, order.ErrTransient},
		{http.StatusBadGateway, order.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = io.WriteString(w, `{"message":"upstream says no"}`)
			}))

			_, err := c.FetchDetail(context.Background(), "1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var f *order.Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, order.SourceDetail, f.Source)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, "upstream says no", se.Message)
		})
	}
}

func TestFetchDetail_UndecodableBodyIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>maintenance</html>`)
	}))

	_, err := c.FetchDetail(context.Background(), "1")
	assert.ErrorIs(t, err, order.ErrTransient)
}

func TestFetchDetail_WrongOrderIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"2"}`)
	}))

	_, err := c.FetchDetail(context.Background(), "1")
	assert.ErrorIs(t, err, order.ErrTransient)
}

func TestFetchDetail_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{BaseURL: srv.URL, CallTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.FetchDetail(context.Background(), "1")
	assert.ErrorIs(t, err, order.ErrTransient)
	assert.Equal(t, order.KindTransient, order.KindOf(err))
}

func TestFetchDetail_ResponseTooLarge(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"1","title":"`+strings.Repeat("x", maxResponseSize)+`"}`)
	}))

	_, err := c.FetchDetail(context.Background(), "1")
	assert.ErrorIs(t, err, order.ErrTransient)
}

func TestFetchDetail_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = c.FetchDetail(context.Background(), "1")
	assert.ErrorIs(t, err, order.ErrTransient)
}

func TestFetchShipping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/shipping/order/42/status", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"SHP-1","status":"PENDING","trackingNumber":"T1"}`)
	}))

	f, err := c.FetchShipping(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", f.ID)
	assert.Equal(t, order.SourceShipping, f.Source)
	assert.Equal(t, order.StatusPending, f.Status)
	assert.Equal(t, "T1", f.Shipping.TrackingNumber)
}

func TestHasReview(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/order/7/review":
			_, _ = io.WriteString(w, `{"hasReview":true}`)
		case "/api/v1/order/8/review":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	has, err := c.HasReview(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = c.HasReview(context.Background(), "8")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = c.HasReview(context.Background(), "9")
	assert.ErrorIs(t, err, order.ErrTransient)
}

func TestFetchHistoryPage_ZeroBasedIndex(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/order/history", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))
		_, _ = io.WriteString(w, `{"data":{"content":[{"id":1},{"id":2}],"totalPages":4}}`)
	}))

	page, err := c.FetchHistoryPage(context.Background(), 3, 20)
	require.NoError(t, err)

	assert.Len(t, page.Items, 2)
	assert.Equal(t, 4, page.TotalPages)
}

func TestCancelOrder(t *testing.T) {
	var keys atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/order/42/cancel", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if r.Header.Get("Idempotency-Key") != "" {
			keys.Add(1)
		}
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"reasonId":3}`, string(body))
		_, _ = io.WriteString(w, `{"success":true,"message":"ok"}`)
	}))

	res, err := c.CancelOrder(context.Background(), "42", "3")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Message)
	assert.Equal(t, int32(1), keys.Load())
}

func TestCancelOrder_Rejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"order already shipped"}`)
	}))

	_, err := c.CancelOrder(context.Background(), "42", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrValidation)
	assert.Contains(t, err.Error(), "order already shipped")
}

func TestCancelReasons(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/order/cancel-reasons", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"id":1,"cancelOrderReasonName":"Changed my mind"}]}`)
	}))

	reasons, err := c.CancelReasons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []order.CancelReason{{ID: "1", Name: "Changed my mind"}}, reasons)
}

func TestClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"hasReview":false}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, RPS: 1, Burst: 1})
	require.NoError(t, err)

	_, err = c.HasReview(context.Background(), "1")
	require.NoError(t, err)

	// The next token is a second away; a short deadline cannot wait for it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.HasReview(ctx, "1")
	assert.ErrorIs(t, err, order.ErrTransient)
}
