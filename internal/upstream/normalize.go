package upstream

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// Every upstream shape is turned into fragments here and nowhere else.

// unwrapData returns the value under a top-level "data" key when the body is
// an enveloped object, and the body itself otherwise.
func unwrapData(body []byte) ([]byte, error) {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return body, nil
	}
	var inner jx.Raw
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "data" {
			return d.Skip()
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		inner = raw
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	switch inner.Type() {
	case jx.Object, jx.Array:
		return inner, nil
	default:
		return body, nil
	}
}

// parseOrder decodes one order object into a fragment from src. The object
// bytes are kept as the fragment raw passthrough.
func parseOrder(raw []byte, src order.Source) (order.Fragment, error) {
	f := order.Fragment{Source: src}
	var status, rawStatus string

	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Object {
		return f, errors.Errorf("order: expected object, got %s", d.Next())
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id", "orderId", "order_id":
			var v string
			v, err = scalar(d)
			if f.ID == "" {
				f.ID = v
			}
		case "orderCode", "order_code", "code":
			f.Code, err = scalar(d)
		case "title", "productName":
			f.Title, err = scalar(d)
		case "product", "postProduct":
			var title string
			title, err = productTitle(d)
			if f.Title == "" {
				f.Title = title
			}
		case "status", "orderStatus", "order_status", "shippingStatus":
			status, err = scalar(d)
		case "rawStatus", "raw_status":
			rawStatus, err = scalar(d)
		case "createdAt", "created_at", "orderDate":
			f.CreatedAt, err = timestamp(d)
		case "updatedAt", "updated_at":
			f.UpdatedAt, err = timestamp(d)
		case "canceledAt", "cancelledAt", "cancelled_at", "canceled_at":
			var t time.Time
			t, err = timestamp(d)
			if !t.IsZero() {
				f.CanceledAt = &t
			}
		case "cancelReason", "cancel_reason", "cancelOrderReasonName":
			f.CancelReason, err = scalar(d)
		case "price":
			f.Price, err = money(d)
		case "shippingFee", "shipping_fee":
			f.ShippingFee, err = money(d)
		case "finalPrice", "totalAmount", "total_amount", "totalPrice":
			f.FinalPrice, err = money(d)
		case "shippingAddress", "address", "deliveryAddress":
			f.Shipping.Address, err = scalar(d)
		case "phoneNumber", "phone", "deliveryPhone", "buyerPhone":
			var v string
			v, err = scalar(d)
			if f.Shipping.Phone == "" {
				f.Shipping.Phone = v
			}
		case "carrier", "shippingPartner", "partner":
			f.Shipping.Carrier, err = scalar(d)
		case "trackingNumber", "tracking_number":
			f.Shipping.TrackingNumber, err = scalar(d)
		case "paymentMethod", "payment_method":
			f.Payment.Method, err = scalar(d)
		case "transactionId", "transaction_id":
			f.Payment.TransactionID, err = scalar(d)
		case "paidAt", "paid_at":
			var t time.Time
			t, err = timestamp(d)
			if !t.IsZero() {
				f.Payment.PaidAt = &t
			}
		case "hasDispute", "has_dispute":
			f.HasDispute, err = flag(d)
		case "hasReview", "has_review":
			f.HasReview, err = flag(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return f, errors.Wrap(err, "decode order")
	}

	f.RawStatus = status
	if rawStatus != "" {
		f.RawStatus = rawStatus
	}
	if s, ok := order.NormalizeRaw(status); ok {
		f.Status = s
	} else if s, ok := order.NormalizeRaw(rawStatus); ok {
		f.Status = s
	}
	if src != order.SourceShipping && src != order.SourceReview {
		f.Raw = append([]byte(nil), raw...)
	}
	return f, nil
}

// parseHistory decodes a history response. Items are looked up under the
// known list keys at the top level or under "data"; paging meta may sit next
// to the list or under "meta"/"page".
func parseHistory(body []byte) (*order.HistoryPage, error) {
	page := &order.HistoryPage{}
	if err := historyLevel(jx.DecodeBytes(body), page, 0); err != nil {
		return nil, err
	}
	return page, nil
}

func historyLevel(d *jx.Decoder, page *order.HistoryPage, depth int) error {
	switch d.Next() {
	case jx.Array:
		return historyItems(d, page)
	case jx.Object:
	default:
		return errors.Errorf("history: unexpected %s", d.Next())
	}
	var listed bool
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderResponses", "orders", "content", "items":
			if listed || d.Next() != jx.Array {
				return d.Skip()
			}
			listed = true
			return historyItems(d, page)
		case "data":
			if depth > 0 || listed {
				return d.Skip()
			}
			if t := d.Next(); t != jx.Object && t != jx.Array {
				return d.Skip()
			}
			listed = true
			return historyLevel(d, page, depth+1)
		case "meta", "page", "pageable":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				return historyMeta(d, key, page)
			})
		default:
			return historyMeta(d, key, page)
		}
	})
}

func historyMeta(d *jx.Decoder, key string, page *order.HistoryPage) error {
	var dst *int
	switch key {
	case "totalPages", "total_pages":
		dst = &page.TotalPages
	case "totalElements", "total_elements", "totalItems", "total_items", "total":
		dst = &page.TotalElements
	default:
		return d.Skip()
	}
	v, err := scalar(d)
	if err != nil {
		return errors.Wrap(err, key)
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = n
	}
	return nil
}

func historyItems(d *jx.Decoder, page *order.HistoryPage) error {
	return d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		f, err := parseOrder(raw, order.SourceHistory)
		if err != nil {
			return err
		}
		if f.ID == "" {
			// Without an identity the item cannot be reconciled.
			return nil
		}
		page.Items = append(page.Items, f)
		return nil
	})
}

// parseReview decodes {"hasReview": bool}. A bare boolean is accepted too.
func parseReview(body []byte) (bool, error) {
	d := jx.DecodeBytes(body)
	switch d.Next() {
	case jx.Bool:
		return d.Bool()
	case jx.Object:
	default:
		return false, errors.Errorf("review: unexpected %s", d.Next())
	}
	var has bool
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "hasReview", "has_review", "exists":
			v, err := flag(d)
			if err != nil {
				return err
			}
			if v != nil {
				has = *v
			}
			return nil
		case "review":
			// A non-null review object means one exists.
			if d.Next() == jx.Object {
				has = true
			}
			return d.Skip()
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return false, errors.Wrap(err, "decode review")
	}
	return has, nil
}

// parseCancelResult decodes {"success": bool, "message": string}.
func parseCancelResult(body []byte) (*order.CancelResult, error) {
	res := &order.CancelResult{}
	if len(strings.TrimSpace(string(body))) == 0 {
		// Some deployments answer 200 with an empty body.
		res.Success = true
		return res, nil
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return nil, errors.Errorf("cancel: unexpected %s", d.Next())
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := flag(d)
			if err != nil {
				return err
			}
			res.Success = v != nil && *v
			return nil
		case "message":
			var err error
			res.Message, err = scalar(d)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cancel result")
	}
	return res, nil
}

// parseCancelReasons decodes [{"id":..., "cancelOrderReasonName":...}].
func parseCancelReasons(body []byte) ([]order.CancelReason, error) {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Array {
		return nil, errors.Errorf("cancel reasons: unexpected %s", d.Next())
	}
	var out []order.CancelReason
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		var r order.CancelReason
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id", "reasonId":
				r.ID, err = scalar(d)
			case "cancelOrderReasonName", "name", "reason":
				r.Name, err = scalar(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if r.ID != "" {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cancel reasons")
	}
	return out, nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return ""
	}
	var msg string
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "error", "detail":
			if msg != "" || d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			msg = v
			return err
		default:
			return d.Skip()
		}
	})
	return msg
}

// scalar reads a string, number or boolean as text. Null reads as empty.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Number:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return raw.String(), nil
	case jx.Bool:
		v, err := d.Bool()
		return strconv.FormatBool(v), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

// money reads a number or numeric string. Unparseable values are absent.
func money(d *jx.Decoder) (decimal.NullDecimal, error) {
	s, err := scalar(d)
	if err != nil || s == "" {
		return decimal.NullDecimal{}, err
	}
	v, perr := decimal.NewFromString(s)
	if perr != nil {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(v), nil
}

func flag(d *jx.Decoder) (*bool, error) {
	switch d.Next() {
	case jx.Bool:
		v, err := d.Bool()
		if err != nil {
			return nil, err
		}
		return &v, nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		v, perr := strconv.ParseBool(strings.TrimSpace(s))
		if perr != nil {
			return nil, nil
		}
		return &v, nil
	default:
		return nil, d.Skip()
	}
}

func productTitle(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return "", d.Skip()
	}
	var title string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "title", "name":
			v, err := scalar(d)
			if title == "" {
				title = v
			}
			return err
		default:
			return d.Skip()
		}
	})
	return title, err
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp reads an ISO-8601 string or epoch milliseconds. Zone-less
// values are read as UTC. Unparseable values are absent.
func timestamp(d *jx.Decoder) (time.Time, error) {
	if d.Next() == jx.Number {
		n, err := d.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(n).UTC(), nil
	}
	s, err := scalar(d)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	for _, layout := range timeLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t, nil
		}
	}
	return time.Time{}, nil
}
