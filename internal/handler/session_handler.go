package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Store.List(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Store.Load(r.Context(), ownerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResumeSession loads a saved session into a new live workflow.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.Workflows.Resume(r.Context(), ownerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Remove(r.Context(), ownerFrom(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
