package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderwatch/internal/actions"
	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/internal/watch"
)

// statusOf maps an error to an HTTP status code.
func statusOf(err error) int {
	switch {
	case errors.Is(err, order.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, actions.ErrRejected), errors.Is(err, order.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, order.ErrTransient), errors.Is(err, watch.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	msg := err.Error()

	var verr *order.ValidationError
	switch {
	case errors.As(err, &verr):
		msg = verr.Error()
	case code == http.StatusInternalServerError:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	case code == http.StatusServiceUnavailable:
		zctx.From(r.Context()).Warn("Upstream unavailable", zap.Error(err))
	}

	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
