package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Order is the canonical view of a purchased order.
type Order struct {
	ID        string
	Code      string
	Title     string
	Status    Status
	RawStatus string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	CanceledAt   *time.Time
	CancelReason string

	Price       decimal.Decimal
	ShippingFee decimal.Decimal
	FinalPrice  decimal.Decimal

	Shipping Shipping
	Payment  Payment

	HasDispute       bool
	HasReview        bool
	ReviewChecked    bool
	ReceiptConfirmed bool

	// Raw is the last upstream JSON object for this order, passed through
	// untouched.
	Raw []byte
}

// Shipping holds delivery details.
type Shipping struct {
	Address        string
	Phone          string
	Carrier        string
	TrackingNumber string
}

// Payment holds payment details.
type Payment struct {
	Method        string
	TransactionID string
	PaidAt        *time.Time
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.CanceledAt != nil {
		t := *o.CanceledAt
		c.CanceledAt = &t
	}
	if o.Payment.PaidAt != nil {
		t := *o.Payment.PaidAt
		c.Payment.PaidAt = &t
	}
	if o.Raw != nil {
		c.Raw = append([]byte(nil), o.Raw...)
	}
	return &c
}

// DisplayTitle returns the title, falling back to the code or id.
func (o *Order) DisplayTitle() string {
	switch {
	case o.Title != "":
		return o.Title
	case o.Code != "":
		return "Order " + o.Code
	default:
		return "Order " + o.ID
	}
}

// Validate checks the model invariants.
func (o *Order) Validate() error {
	if o.ID == "" {
		return errors.New("order id is empty")
	}
	if o.Status != "" && !o.Status.IsValid() {
		return errors.Errorf("order %s: unknown status %q", o.ID, o.Status)
	}
	if o.CanceledAt != nil && o.Status != StatusCancelled {
		return errors.Errorf("order %s: canceled at %s but status is %q", o.ID, o.CanceledAt.Format(time.RFC3339), o.Status)
	}
	if o.Price.IsNegative() || o.ShippingFee.IsNegative() {
		return errors.Errorf("order %s: negative money field", o.ID)
	}
	if !o.FinalPrice.Equal(o.Price.Add(o.ShippingFee)) {
		return errors.Errorf("order %s: final price %s != %s + %s", o.ID, o.FinalPrice, o.Price, o.ShippingFee)
	}
	return nil
}

// HistoryPage is one page of the buyer's order history.
type HistoryPage struct {
	Items []Fragment
	// TotalPages and TotalElements are zero when the server omits them.
	TotalPages    int
	TotalElements int
}

// CancelReason is a selectable cancellation reason.
type CancelReason struct {
	ID   string
	Name string
}

// CancelResult is the upstream answer to a cancellation request.
type CancelResult struct {
	Success bool
	Message string
}

// DetailFetcher reads the authoritative order-detail service.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, id string) (*Fragment, error)
}

// ShippingFetcher reads the secondary shipping-status service.
type ShippingFetcher interface {
	FetchShipping(ctx context.Context, id string) (*Fragment, error)
}

// ReviewChecker answers whether the buyer already reviewed an order.
type ReviewChecker interface {
	HasReview(ctx context.Context, id string) (bool, error)
}

// HistoryFetcher reads one page of order history. Pages are 1-based.
type HistoryFetcher interface {
	FetchHistoryPage(ctx context.Context, page, size int) (*HistoryPage, error)
}

// Canceler submits cancellation requests.
type Canceler interface {
	CancelOrder(ctx context.Context, id, reasonID string) (*CancelResult, error)
	CancelReasons(ctx context.Context) ([]CancelReason, error)
}
