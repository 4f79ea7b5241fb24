package order

import (
	"bytes"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Rejection records a status candidate discarded by the rank rule.
type Rejection struct {
	Source    Source
	Current   Status
	Candidate Status
}

// Report describes the effect of a merge.
type Report struct {
	Changed bool
	From    Status
	To      Status
	// Owner is the source whose status was considered, empty if no
	// fragment carried one.
	Owner      Source
	Rejections []Rejection
}

// StatusChanged reports whether the merge moved the status.
func (r Report) StatusChanged() bool {
	return r.From != r.To
}

// NewlyDelivered reports a first transition into delivered.
func (r Report) NewlyDelivered() bool {
	return r.To == StatusDelivered && r.From != StatusDelivered
}

// Merge applies fragments to cur and returns the next state. cur is never
// modified. A nil cur starts from an empty order identified by the first
// fragment id.
//
// Only the highest precedence fragment carrying a status competes for the
// status, and it must pass Accept against the held status. Field values
// update only when present and different, with higher precedence sources
// applied last.
func Merge(cur *Order, frags ...Fragment) (*Order, Report) {
	var next *Order
	if cur != nil {
		next = cur.Clone()
	} else {
		next = &Order{}
		for _, f := range frags {
			if f.ID != "" {
				next.ID = f.ID
				break
			}
		}
	}

	rep := Report{From: next.Status}

	ordered := make([]Fragment, len(frags))
	copy(ordered, frags)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source.statusPrecedence() < ordered[j].Source.statusPrecedence()
	})

	m := merger{o: next}
	for i := range ordered {
		m.fields(&ordered[i])
	}

	// Status owner: highest precedence fragment with a status.
	for i := len(ordered) - 1; i >= 0; i-- {
		f := &ordered[i]
		cand := f.candidateStatus()
		if cand == "" {
			continue
		}
		rep.Owner = f.Source
		if !Accept(next.Status, cand, f.Source.AuthorizesCancel()) {
			rep.Rejections = append(rep.Rejections, Rejection{
				Source:    f.Source,
				Current:   next.Status,
				Candidate: cand,
			})
			break
		}
		m.status(cand)
		m.str(&next.RawStatus, f.RawStatus)
		if cand == StatusCancelled {
			m.cancellation(f)
		}
		break
	}
	// A raw string with no canonical mapping is still informative.
	for i := len(ordered) - 1; i >= 0; i-- {
		f := &ordered[i]
		if f.RawStatus != "" && f.candidateStatus() == "" {
			m.str(&next.RawStatus, f.RawStatus)
			break
		}
	}

	m.finalPrice()

	rep.To = next.Status
	rep.Changed = m.changed
	if !m.changed {
		// Hand back the original so callers can compare by pointer.
		if cur != nil {
			return cur, rep
		}
	}
	return next, rep
}

type merger struct {
	o       *Order
	changed bool
}

func (m *merger) fields(f *Fragment) {
	o := m.o
	if o.ID == "" && f.ID != "" {
		o.ID = f.ID
		m.changed = true
	}
	m.str(&o.Code, f.Code)
	m.str(&o.Title, f.Title)
	m.time(&o.CreatedAt, f.CreatedAt)
	m.time(&o.UpdatedAt, f.UpdatedAt)

	m.money(&o.Price, f.Price)
	m.money(&o.ShippingFee, f.ShippingFee)
	if f.FinalPrice.Valid && !f.Price.Valid && o.Price.IsZero() {
		// Sources that only report a total: derive the item price.
		if p := f.FinalPrice.Decimal.Sub(o.ShippingFee); !p.IsNegative() {
			m.money(&o.Price, decimal.NewNullDecimal(p))
		}
	}

	m.str(&o.Shipping.Address, f.Shipping.Address)
	m.str(&o.Shipping.Phone, f.Shipping.Phone)
	m.str(&o.Shipping.Carrier, f.Shipping.Carrier)
	m.str(&o.Shipping.TrackingNumber, f.Shipping.TrackingNumber)

	m.str(&o.Payment.Method, f.Payment.Method)
	m.str(&o.Payment.TransactionID, f.Payment.TransactionID)
	m.timePtr(&o.Payment.PaidAt, f.Payment.PaidAt)

	m.flag(&o.HasDispute, f.HasDispute)
	if f.HasReview != nil {
		m.flag(&o.HasReview, f.HasReview)
		if !o.ReviewChecked {
			o.ReviewChecked = true
			m.changed = true
		}
	}
	m.flag(&o.ReceiptConfirmed, f.ReceiptConfirmed)

	if f.Source.ownsRaw() && len(f.Raw) > 0 && !bytes.Equal(o.Raw, f.Raw) {
		o.Raw = append([]byte(nil), f.Raw...)
		m.changed = true
	}
}

func (m *merger) status(s Status) {
	if m.o.Status != s {
		m.o.Status = s
		m.changed = true
	}
}

func (m *merger) cancellation(f *Fragment) {
	if f.CanceledAt != nil {
		m.timePtr(&m.o.CanceledAt, f.CanceledAt)
	}
	m.str(&m.o.CancelReason, f.CancelReason)
}

func (m *merger) finalPrice() {
	sum := m.o.Price.Add(m.o.ShippingFee)
	if !m.o.FinalPrice.Equal(sum) {
		m.o.FinalPrice = sum
		m.changed = true
	}
}

func (m *merger) str(dst *string, v string) {
	if v != "" && *dst != v {
		*dst = v
		m.changed = true
	}
}

func (m *merger) time(dst *time.Time, v time.Time) {
	if !v.IsZero() && !dst.Equal(v) {
		*dst = v
		m.changed = true
	}
}

func (m *merger) timePtr(dst **time.Time, v *time.Time) {
	if v == nil || v.IsZero() {
		return
	}
	if *dst != nil && (*dst).Equal(*v) {
		return
	}
	t := *v
	*dst = &t
	m.changed = true
}

func (m *merger) money(dst *decimal.Decimal, v decimal.NullDecimal) {
	if !v.Valid || v.Decimal.IsNegative() {
		return
	}
	if !dst.Equal(v.Decimal) {
		*dst = v.Decimal
		m.changed = true
	}
}

func (m *merger) flag(dst *bool, v *bool) {
	if v != nil && *dst != *v {
		*dst = *v
		m.changed = true
	}
}
