package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies where a fragment came from.
type Source string

const (
	SourceDetail   Source = "detail"
	SourceHistory  Source = "history"
	SourceShipping Source = "shipping"
	SourceReview   Source = "review"
	SourceBuyer    Source = "buyer"
	SourceSnapshot Source = "snapshot"
)

func (s Source) String() string {
	return string(s)
}

// statusPrecedence orders sources competing for the status of a single
// merge. Higher wins.
func (s Source) statusPrecedence() int {
	switch s {
	case SourceBuyer:
		return 5
	case SourceDetail:
		return 4
	case SourceHistory:
		return 3
	case SourceShipping:
		return 2
	case SourceSnapshot:
		return 1
	default:
		return 0
	}
}

// AuthorizesCancel reports whether a cancelled status from s is an
// explicit cancellation. The shipping service can report cancelled for
// shipments it dropped, which says nothing about the order. A snapshot
// only holds statuses an authorized source already committed.
func (s Source) AuthorizesCancel() bool {
	switch s {
	case SourceDetail, SourceHistory, SourceBuyer, SourceSnapshot:
		return true
	default:
		return false
	}
}

// ownsRaw reports whether the source returns the full order object.
func (s Source) ownsRaw() bool {
	switch s {
	case SourceDetail, SourceHistory, SourceSnapshot:
		return true
	default:
		return false
	}
}

// Fragment is a partial update from one source. Zero values (empty
// strings, zero times, invalid NullDecimal, nil pointers) mean absent.
type Fragment struct {
	Source Source
	ID     string

	Code      string
	Title     string
	Status    Status
	RawStatus string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	CanceledAt   *time.Time
	CancelReason string

	Price       decimal.NullDecimal
	ShippingFee decimal.NullDecimal
	FinalPrice  decimal.NullDecimal

	Shipping Shipping
	Payment  Payment

	HasDispute       *bool
	HasReview        *bool
	ReceiptConfirmed *bool

	Raw []byte
}

// candidateStatus is the status the fragment asserts. A cancellation
// timestamp without a status asserts cancelled.
func (f *Fragment) candidateStatus() Status {
	if f.Status.IsValid() {
		return f.Status
	}
	if f.CanceledAt != nil {
		return StatusCancelled
	}
	return ""
}

// FragmentOf converts a fully populated order into a fragment from src.
func FragmentOf(o *Order, src Source) Fragment {
	f := Fragment{
		Source:       src,
		ID:           o.ID,
		Code:         o.Code,
		Title:        o.Title,
		Status:       o.Status,
		RawStatus:    o.RawStatus,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		CancelReason: o.CancelReason,
		Price:        decimal.NewNullDecimal(o.Price),
		ShippingFee:  decimal.NewNullDecimal(o.ShippingFee),
		Shipping:     o.Shipping,
		Payment:      o.Payment,
		Raw:          o.Raw,
	}
	if o.CanceledAt != nil {
		t := *o.CanceledAt
		f.CanceledAt = &t
	}
	if o.HasDispute {
		f.HasDispute = boolPtr(true)
	}
	if o.ReviewChecked {
		f.HasReview = boolPtr(o.HasReview)
	}
	if o.ReceiptConfirmed {
		f.ReceiptConfirmed = boolPtr(true)
	}
	return f
}

func boolPtr(v bool) *bool {
	return &v
}

// Bool returns a pointer to v, for building fragments.
func Bool(v bool) *bool {
	return boolPtr(v)
}
