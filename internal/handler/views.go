package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// MountList serves POST /api/views/orders.
func (h *Handler) MountList(w http.ResponseWriter, r *http.Request) {
	if err := h.views.MountList(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnmountList serves DELETE /api/views/orders.
func (h *Handler) UnmountList(w http.ResponseWriter, _ *http.Request) {
	h.views.UnmountList()
	w.WriteHeader(http.StatusNoContent)
}

// MountDetail serves POST /api/views/orders/{id}.
func (h *Handler) MountDetail(w http.ResponseWriter, r *http.Request) {
	if err := h.views.MountDetail(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnmountDetail serves DELETE /api/views/orders/{id}.
func (h *Handler) UnmountDetail(w http.ResponseWriter, r *http.Request) {
	h.views.Unmount(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// Focus serves POST /api/focus: every mounted view refreshes now.
func (h *Handler) Focus(w http.ResponseWriter, _ *http.Request) {
	n := h.views.Focus()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("triggered", func(e *jx.Encoder) { e.Int(n) })
		})
	})
}
