package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// CancelOrder submits a cancellation request. Each call carries a fresh
// Idempotency-Key.
func (c *Client) CancelOrder(ctx context.Context, id, reasonID string) (*order.CancelResult, error) {
	const op = "CancelOrder"

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("reasonId", func(e *jx.Encoder) {
			// Reason ids are numeric in the order service.
			if n, err := strconv.ParseInt(reasonID, 10, 64); err == nil {
				e.Int64(n)
				return
			}
			e.Str(reasonID)
		})
	})

	body, err := c.do(ctx, request{
		src:    order.SourceBuyer,
		op:     op,
		method: http.MethodPost,
		path:   pathOrder + url.PathEscape(id) + "/cancel",
		body:   e.Bytes(),
		header: http.Header{"Idempotency-Key": {uuid.NewString()}},
	})
	if err != nil {
		return nil, err
	}
	data, err := unwrapData(body)
	if err != nil {
		return nil, decodeFailure(order.SourceBuyer, op, err)
	}
	res, err := parseCancelResult(data)
	if err != nil {
		return nil, decodeFailure(order.SourceBuyer, op, err)
	}
	return res, nil
}

// CancelReasons lists the selectable cancellation reasons.
func (c *Client) CancelReasons(ctx context.Context) ([]order.CancelReason, error) {
	const op = "CancelReasons"
	body, err := c.do(ctx, request{
		src:    order.SourceBuyer,
		op:     op,
		method: http.MethodGet,
		path:   pathCancelReason,
	})
	if err != nil {
		return nil, err
	}
	data, err := unwrapData(body)
	if err != nil {
		return nil, decodeFailure(order.SourceBuyer, op, err)
	}
	reasons, err := parseCancelReasons(data)
	if err != nil {
		return nil, decodeFailure(order.SourceBuyer, op, err)
	}
	return reasons, nil
}
