// Package present projects canonical orders into display state.
package present

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// Action is a buyer action offered for an order.
type Action string

const (
	ActionCancel         Action = "cancel"
	ActionContactSeller  Action = "contact_seller"
	ActionTrack          Action = "track"
	ActionConfirmReceipt Action = "confirm_receipt"
	ActionRateOrder      Action = "rate_order"
	ActionViewReview     Action = "view_review"
	ActionOpenDispute    Action = "open_dispute"
	ActionViewDispute    Action = "view_dispute"
	ActionReorder        Action = "reorder"
)

// Step is one progress step.
type Step struct {
	Key     order.Status
	Label   string
	Done    bool
	Current bool
}

// View is the display state of one order.
type View struct {
	ID          string
	Code        string
	Title       string
	Status      order.Status
	Label       string
	Description string
	Steps       []Step

	RawStatusText     string
	PaymentMethodText string

	Price       string
	ShippingFee string
	FinalPrice  string

	Actions []Action
}

type statusInfo struct {
	label       string
	description string
	step        int
}

var statusTable = map[order.Status]statusInfo{
	order.StatusPending:   {"Awaiting confirmation", "The order is waiting for the seller to confirm it", 1},
	order.StatusConfirmed: {"Confirmed", "The order is confirmed and being prepared", 2},
	order.StatusShipping:  {"Shipping", "The order is on its way to you", 3},
	order.StatusDelivered: {"Delivered", "The order was delivered", 4},
	order.StatusCancelled: {"Cancelled", "The order was cancelled", 0},
}

var progress = []order.Status{
	order.StatusPending,
	order.StatusConfirmed,
	order.StatusShipping,
	order.StatusDelivered,
}

var rawStatusText = map[string]string{
	"PENDING_PAYMENT":  "Awaiting payment",
	"PAID":             "Paid",
	"PROCESSING":       "Processing",
	"SHIPPED":          "Handed to carrier",
	"DELIVERED":        "Delivered successfully",
	"CANCELLED":        "Cancelled",
	"RETURN_REQUESTED": "Return requested",
	"REFUNDED":         "Refunded",
}

var paymentMethodText = map[string]string{
	"WALLET":  "E-wallet",
	"COD":     "Cash on delivery",
	"VNPAY":   "VnPay",
	"BANKING": "Bank transfer",
	"MOMO":    "MoMo wallet",
}

// Project maps o to its display state.
func Project(o *order.Order) View {
	info, ok := statusTable[o.Status]
	if !ok {
		info = statusInfo{label: "Unknown", description: "The order status is not available yet"}
	}
	v := View{
		ID:                o.ID,
		Code:              o.Code,
		Title:             o.DisplayTitle(),
		Status:            o.Status,
		Label:             info.label,
		Description:       info.description,
		RawStatusText:     RawStatusText(o.RawStatus),
		PaymentMethodText: PaymentMethodText(o.Payment.Method),
		Price:             FormatMoney(o.Price),
		ShippingFee:       FormatMoney(o.ShippingFee),
		FinalPrice:        FormatMoney(o.FinalPrice),
		Actions:           Actions(o),
	}
	for _, s := range progress {
		st := statusTable[s]
		v.Steps = append(v.Steps, Step{
			Key:     s,
			Label:   st.label,
			Done:    info.step > st.step,
			Current: info.step == st.step && o.Status != order.StatusCancelled,
		})
	}
	return v
}

// Actions returns the actions offered for o.
func Actions(o *order.Order) []Action {
	switch o.Status {
	case order.StatusPending, order.StatusConfirmed:
		return []Action{ActionCancel, ActionContactSeller}
	case order.StatusShipping:
		return []Action{ActionTrack, ActionContactSeller}
	case order.StatusDelivered:
		var out []Action
		if !o.ReceiptConfirmed {
			out = append(out, ActionConfirmReceipt)
		}
		if o.HasReview {
			out = append(out, ActionViewReview)
		} else {
			out = append(out, ActionRateOrder)
		}
		if o.HasDispute {
			out = append(out, ActionViewDispute)
		} else {
			out = append(out, ActionOpenDispute)
		}
		return out
	case order.StatusCancelled:
		return []Action{ActionReorder}
	default:
		return nil
	}
}

// RawStatusText describes a backend status string, falling back to the
// string itself.
func RawStatusText(raw string) string {
	if t, ok := rawStatusText[strings.ToUpper(raw)]; ok {
		return t
	}
	return raw
}

// PaymentMethodText describes a payment method code.
func PaymentMethodText(method string) string {
	if t, ok := paymentMethodText[strings.ToUpper(method)]; ok {
		return t
	}
	return method
}

// FormatMoney renders whole currency units with dot grouping, like
// "1.250.000 ₫".
func FormatMoney(d decimal.Decimal) string {
	s := d.Round(0).Abs().StringFixed(0)
	var b strings.Builder
	if d.Round(0).IsNegative() {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	b.WriteString(" ₫")
	return b.String()
}
