package handler

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/orderwatch/internal/aggregate"
	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/internal/present"
)

func encodeListing(e *jx.Encoder, l aggregate.Listing) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, o := range l.Items {
					encodeOrder(e, o, false)
				}
			})
		})
		e.Field("counts", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field(aggregate.StatusAll, func(e *jx.Encoder) { e.Int(l.Counts[aggregate.StatusAll]) })
				for _, s := range order.Statuses {
					e.Field(s.String(), func(e *jx.Encoder) { e.Int(l.Counts[s.String()]) })
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { e.Int(l.Total) })
		e.Field("page", func(e *jx.Encoder) { e.Int(l.Page) })
		e.Field("size", func(e *jx.Encoder) { e.Int(l.Size) })
		e.Field("totalPages", func(e *jx.Encoder) { e.Int(l.TotalPages) })
	})
}

// encodeOrder writes the canonical order with its display projection. The
// raw upstream object is included only with withRaw.
func encodeOrder(e *jx.Encoder, o *order.Order, withRaw bool) {
	v := present.Project(o)
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "code", o.Code)
		str(e, "title", v.Title)
		str(e, "status", o.Status.String())
		str(e, "label", v.Label)
		str(e, "description", v.Description)
		str(e, "rawStatus", o.RawStatus)
		str(e, "rawStatusText", v.RawStatusText)
		timeField(e, "createdAt", o.CreatedAt)
		timeField(e, "updatedAt", o.UpdatedAt)
		if o.CanceledAt != nil {
			timeField(e, "canceledAt", *o.CanceledAt)
		} else {
			e.Field("canceledAt", func(e *jx.Encoder) { e.Null() })
		}
		if o.CancelReason != "" {
			str(e, "cancelReason", o.CancelReason)
		} else {
			e.Field("cancelReason", func(e *jx.Encoder) { e.Null() })
		}

		str(e, "price", o.Price.String())
		str(e, "shippingFee", o.ShippingFee.String())
		str(e, "finalPrice", o.FinalPrice.String())
		e.Field("display", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "price", v.Price)
				str(e, "shippingFee", v.ShippingFee)
				str(e, "finalPrice", v.FinalPrice)
			})
		})

		e.Field("shipping", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "address", o.Shipping.Address)
				str(e, "phone", o.Shipping.Phone)
				str(e, "carrier", o.Shipping.Carrier)
				str(e, "trackingNumber", o.Shipping.TrackingNumber)
			})
		})
		e.Field("payment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "method", o.Payment.Method)
				str(e, "methodText", v.PaymentMethodText)
				str(e, "transactionId", o.Payment.TransactionID)
				if o.Payment.PaidAt != nil {
					timeField(e, "paidAt", *o.Payment.PaidAt)
				}
			})
		})

		e.Field("hasDispute", func(e *jx.Encoder) { e.Bool(o.HasDispute) })
		e.Field("hasReview", func(e *jx.Encoder) { e.Bool(o.HasReview) })
		e.Field("receiptConfirmed", func(e *jx.Encoder) { e.Bool(o.ReceiptConfirmed) })

		e.Field("steps", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range v.Steps {
					e.Obj(func(e *jx.Encoder) {
						str(e, "key", s.Key.String())
						str(e, "label", s.Label)
						e.Field("done", func(e *jx.Encoder) { e.Bool(s.Done) })
						e.Field("current", func(e *jx.Encoder) { e.Bool(s.Current) })
					})
				}
			})
		})
		e.Field("actions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range v.Actions {
					e.Str(string(a))
				}
			})
		})

		if withRaw && len(o.Raw) > 0 && jx.Valid(o.Raw) {
			e.Field("raw", func(e *jx.Encoder) { e.Raw(o.Raw) })
		}
	})
}

// str writes a string field, empty strings included so clients see a
// stable shape.
func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	if t.IsZero() {
		e.Field(name, func(e *jx.Encoder) { e.Null() })
		return
	}
	e.Field(name, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339)) })
}
