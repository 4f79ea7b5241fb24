package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/xenking/orderwatch/internal/domain/order"
)

const (
	pathOrder        = "/api/v1/order/"
	pathShipping     = "/api/v1/shipping/order/"
	pathHistory      = "/api/v1/order/history"
	pathCancelReason = "/api/v1/order/cancel-reasons"
)

// FetchDetail reads the authoritative order detail.
func (c *Client) FetchDetail(ctx context.Context, id string) (*order.Fragment, error) {
	const op = "FetchDetail"
	body, err := c.do(ctx, request{
		src:    order.SourceDetail,
		op:     op,
		method: http.MethodGet,
		path:   pathOrder + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body, order.SourceDetail, op, id)
}

// FetchShipping reads the shipping-status projection of an order.
func (c *Client) FetchShipping(ctx context.Context, id string) (*order.Fragment, error) {
	const op = "FetchShipping"
	body, err := c.do(ctx, request{
		src:    order.SourceShipping,
		op:     op,
		method: http.MethodGet,
		path:   pathShipping + url.PathEscape(id) + "/status",
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body, order.SourceShipping, op, id)
}

func decodeOrder(body []byte, src order.Source, op, id string) (*order.Fragment, error) {
	data, err := unwrapData(body)
	if err != nil {
		return nil, decodeFailure(src, op, err)
	}
	f, err := parseOrder(data, src)
	if err != nil {
		return nil, decodeFailure(src, op, err)
	}
	// Shipping payloads may carry a shipment id instead of the order id.
	if src == order.SourceDetail && f.ID != "" && f.ID != id {
		return nil, decodeFailure(src, op, errors.Errorf("response is for order %q", f.ID))
	}
	f.ID = id
	return &f, nil
}

// HasReview reports whether the buyer reviewed the order. A 404 means no
// review exists.
func (c *Client) HasReview(ctx context.Context, id string) (bool, error) {
	const op = "HasReview"
	body, err := c.do(ctx, request{
		src:    order.SourceReview,
		op:     op,
		method: http.MethodGet,
		path:   pathOrder + url.PathEscape(id) + "/review",
	})
	if errors.Is(err, order.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	data, err := unwrapData(body)
	if err != nil {
		return false, decodeFailure(order.SourceReview, op, err)
	}
	has, err := parseReview(data)
	if err != nil {
		return false, decodeFailure(order.SourceReview, op, err)
	}
	return has, nil
}

// FetchHistoryPage reads one page of the buyer's order history. page is
// 1-based; the service expects a 0-based index.
func (c *Client) FetchHistoryPage(ctx context.Context, page, size int) (*order.HistoryPage, error) {
	const op = "FetchHistoryPage"
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	body, err := c.do(ctx, request{
		src:    order.SourceHistory,
		op:     op,
		method: http.MethodGet,
		path:   pathHistory,
		query: url.Values{
			"page": {strconv.Itoa(page - 1)},
			"size": {strconv.Itoa(size)},
		},
	})
	if err != nil {
		return nil, err
	}
	p, err := parseHistory(body)
	if err != nil {
		return nil, decodeFailure(order.SourceHistory, op, err)
	}
	return p, nil
}
