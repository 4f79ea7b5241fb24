package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/orderwatch/internal/aggregate"
	"github.com/xenking/orderwatch/internal/domain/order"
)

const maxBodySize = 64 << 10

// ListOrders serves GET /api/orders?status=&q=&page=&size=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := aggregate.Query{
		Status: q.Get("status"),
		Search: q.Get("q"),
	}
	var err error
	if query.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, r, &order.ValidationError{Field: "page", Message: "page must be an integer"})
		return
	}
	if query.Size, err = intParam(q.Get("size")); err != nil {
		writeError(w, r, &order.ValidationError{Field: "size", Message: "size must be an integer"})
		return
	}
	if s := strings.ToLower(query.Status); s != "" && s != aggregate.StatusAll {
		if _, ok := order.ParseStatus(s); !ok {
			writeError(w, r, &order.ValidationError{Field: "status", Message: "unknown status " + query.Status})
			return
		}
	}

	l := aggregate.Filter(h.orders.List(), query)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeListing(e, l) })
}

// GetOrder serves GET /api/orders/{id}. Orders outside the working set are
// fetched from the detail source.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, ok := h.orders.Get(id)
	if !ok {
		res, err := h.refresh.Reconcile(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res.Order == nil {
			if len(res.Failures) > 0 {
				writeError(w, r, res.Failures[0])
				return
			}
			writeError(w, r, order.NewFailure(order.SourceDetail, order.KindNotFound, "GetOrder",
				errors.Errorf("order %s", id)))
			return
		}
		o = res.Order
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, true) })
}

// CancelOrder serves POST /api/orders/{id}/cancel with {"reasonId": ...}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	reasonID, err := decodeReasonID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.actions.Cancel(r.Context(), r.PathValue("id"), reasonID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, false) })
}

// ConfirmDelivery serves POST /api/orders/{id}/confirm-delivery.
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := h.actions.ConfirmDelivery(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, false) })
}

// RecordReview serves POST /api/orders/{id}/review.
func (h *Handler) RecordReview(w http.ResponseWriter, r *http.Request) {
	o, err := h.actions.RecordReview(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, false) })
}

// CancelReasons serves GET /api/cancel-reasons.
func (h *Handler) CancelReasons(w http.ResponseWriter, r *http.Request) {
	reasons, err := h.actions.CancelReasons(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, rs := range reasons {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(rs.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(rs.Name) })
				})
			}
		})
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// decodeReasonID reads reasonId as a string or a number.
func decodeReasonID(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return "", errors.Wrap(err, "read body")
	}
	invalid := &order.ValidationError{Field: "body", Message: `expected {"reasonId": ...}`}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", invalid
	}

	var reasonID string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "reasonId" {
			return d.Skip()
		}
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			reasonID = v
			return err
		case jx.Number:
			v, err := d.Num()
			reasonID = v.String()
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return "", invalid
	}
	return reasonID, nil
}
