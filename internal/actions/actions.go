// Package actions implements buyer-initiated order actions.
package actions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// ErrRejected is matched by errors returned when the marketplace refused
// an action.
var ErrRejected = errors.New("rejected by marketplace")

// RejectedError carries the marketplace message of a refused action.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return e.Op + ": rejected"
	}
	return e.Op + ": " + e.Message
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Store is the working set actions apply optimistic updates to.
type Store interface {
	Get(id string) (*order.Order, bool)
	Apply(id string, frags ...order.Fragment) (*order.Order, order.Report)
}

// Service runs buyer actions.
type Service struct {
	store    Store
	canceler order.Canceler
	now      func() time.Time

	mu      sync.Mutex
	reasons []order.CancelReason
}

// New creates a Service.
func New(store Store, canceler order.Canceler) *Service {
	return &Service{store: store, canceler: canceler, now: time.Now}
}

func cancellable(s order.Status) bool {
	return s == order.StatusPending || s == order.StatusConfirmed
}

// Cancel requests cancellation of order id. Input is validated before any
// network call. On success the cancellation is applied to the working set
// as a buyer fragment.
func (s *Service) Cancel(ctx context.Context, id, reasonID string) (*order.Order, error) {
	reasonID = strings.TrimSpace(reasonID)
	if reasonID == "" {
		return nil, &order.ValidationError{Field: "reasonId", Message: "cancel reason is required"}
	}
	held, ok := s.store.Get(id)
	if !ok {
		return nil, &order.ValidationError{Field: "id", Message: "unknown order " + id}
	}
	if !cancellable(held.Status) {
		return nil, &order.ValidationError{
			Field:   "status",
			Message: "order in status " + held.Status.String() + " cannot be cancelled",
		}
	}

	lg := zctx.From(ctx).With(zap.String("order_id", id), zap.String("reason_id", reasonID))

	res, err := s.canceler.CancelOrder(ctx, id, reasonID)
	if err != nil {
		if order.KindOf(err) == order.KindValidation {
			return nil, &RejectedError{Op: "cancel", Message: upstreamMessage(err)}
		}
		return nil, errors.Wrap(err, "cancel order")
	}
	if !res.Success {
		lg.Info("Cancellation rejected", zap.String("message", res.Message))
		return nil, &RejectedError{Op: "cancel", Message: res.Message}
	}

	now := s.now().UTC()
	next, rep := s.store.Apply(id, order.Fragment{
		Source:       order.SourceBuyer,
		Status:       order.StatusCancelled,
		CanceledAt:   &now,
		CancelReason: s.reasonName(ctx, reasonID),
	})
	if len(rep.Rejections) > 0 {
		// The order moved on between validation and the upstream answer.
		lg.Warn("Cancellation accepted upstream but rejected locally",
			zap.String("status", next.Status.String()),
		)
	}
	lg.Info("Order cancelled")
	return next, nil
}

// ConfirmDelivery records that the buyer received the order.
func (s *Service) ConfirmDelivery(ctx context.Context, id string) (*order.Order, error) {
	held, ok := s.store.Get(id)
	if !ok {
		return nil, &order.ValidationError{Field: "id", Message: "unknown order " + id}
	}
	if held.Status == order.StatusCancelled {
		return nil, order.NewFailure(order.SourceBuyer, order.KindConflict, "ConfirmDelivery",
			errors.Errorf("order %s is cancelled", id))
	}

	next, rep := s.store.Apply(id, order.Fragment{
		Source:           order.SourceBuyer,
		Status:           order.StatusDelivered,
		ReceiptConfirmed: order.Bool(true),
	})
	if len(rep.Rejections) > 0 {
		return next, order.NewFailure(order.SourceBuyer, order.KindConflict, "ConfirmDelivery",
			errors.Errorf("order %s is %s", id, rep.Rejections[0].Current))
	}
	zctx.From(ctx).Info("Delivery confirmed", zap.String("order_id", id))
	return next, nil
}

// RecordReview marks the order as reviewed after a review was submitted.
func (s *Service) RecordReview(ctx context.Context, id string) (*order.Order, error) {
	if _, ok := s.store.Get(id); !ok {
		return nil, &order.ValidationError{Field: "id", Message: "unknown order " + id}
	}
	next, _ := s.store.Apply(id, order.Fragment{
		Source:    order.SourceBuyer,
		HasReview: order.Bool(true),
	})
	zctx.From(ctx).Debug("Review recorded", zap.String("order_id", id))
	return next, nil
}

// CancelReasons lists selectable cancellation reasons.
func (s *Service) CancelReasons(ctx context.Context) ([]order.CancelReason, error) {
	reasons, err := s.canceler.CancelReasons(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cancel reasons")
	}
	s.mu.Lock()
	s.reasons = reasons
	s.mu.Unlock()
	return reasons, nil
}

// reasonName resolves a reason id to its display name. Lookup failures
// leave the name empty.
func (s *Service) reasonName(ctx context.Context, id string) string {
	s.mu.Lock()
	reasons := s.reasons
	s.mu.Unlock()

	if reasons == nil {
		var err error
		if reasons, err = s.CancelReasons(ctx); err != nil {
			zctx.From(ctx).Debug("Cancel reasons unavailable", zap.Error(err))
			return ""
		}
	}
	for _, r := range reasons {
		if r.ID == id {
			return r.Name
		}
	}
	return ""
}

func upstreamMessage(err error) string {
	var f *order.Failure
	if errors.As(err, &f) && f.Err != nil {
		return f.Err.Error()
	}
	return err.Error()
}
