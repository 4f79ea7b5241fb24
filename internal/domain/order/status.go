package order

import "strings"

// Status is the canonical lifecycle token exposed to clients.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipping  Status = "shipping"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Statuses lists canonical statuses in rank order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusShipping,
	StatusDelivered,
	StatusCancelled,
}

// Rank returns the position of s in the forward progression.
// Unknown and empty statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusConfirmed:
		return 2
	case StatusShipping:
		return 3
	case StatusDelivered:
		return 4
	case StatusCancelled:
		return 5
	default:
		return 0
	}
}

// IsValid reports whether s is one of the canonical statuses.
func (s Status) IsValid() bool {
	return s.Rank() > 0
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a canonical token, case-insensitively.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	return s, s.IsValid()
}

// NormalizeRaw maps a backend status string to a canonical status.
// It returns false for strings no backend is known to emit, so the caller
// can keep the raw value without asserting a status.
func NormalizeRaw(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "PENDING_PAYMENT", "WAIT_PAYMENT", "WAIT_CONFIRM", "CREATED", "NEW":
		return StatusPending, true
	case "PAID", "PROCESSING", "CONFIRMED", "ACCEPTED", "READY_TO_SHIP":
		return StatusConfirmed, true
	case "SHIPPED", "SHIPPING", "DELIVERING", "IN_TRANSIT", "PICKED_UP":
		return StatusShipping, true
	case "DELIVERED", "COMPLETED", "SUCCESS":
		return StatusDelivered, true
	case "CANCELLED", "CANCELED", "FAILED":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// Accept reports whether candidate may replace current.
//
// Forward moves (equal or higher rank) are accepted. Cancellation is never
// reached through the rank comparison: it needs authorizedCancel and a
// current status that is not terminal. Once cancelled, only cancelled is
// accepted.
func Accept(current, candidate Status, authorizedCancel bool) bool {
	if !candidate.IsValid() {
		return false
	}
	if current == StatusCancelled {
		return candidate == StatusCancelled
	}
	if candidate == StatusCancelled {
		return authorizedCancel && !current.IsTerminal()
	}
	return candidate.Rank() >= current.Rank()
}
