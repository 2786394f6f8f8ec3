package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"instrumentation-backend/internal/models"
	"instrumentation-backend/internal/workflow"
)

func (h *Handler) workflow(w http.ResponseWriter, r *http.Request) (*workflow.Controller, bool) {
	c, err := h.Workflows.Get(ownerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return c, true
}

// respond writes the workflow's view, or the action's error.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, c *workflow.Controller, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	c, err := h.Workflows.Create(ownerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) DiscardWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.Workflows.Discard(ownerFrom(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (h *Handler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	var input models.InputContext
	if err := decode(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, c, c.StartAnalysis(r.Context(), input))
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, c, c.SubmitAnswer(r.Context(), body.Text))
}

func (h *Handler) ToggleMetric(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	h.respond(w, r, c, c.ToggleMetric(r.Context(), mux.Vars(r)["metricId"]))
}

// ApproveMetrics approves the metrics checkpoint. Without a "selection" in
// the body the gate's current selection is approved.
func (h *Handler) ApproveMetrics(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	var body struct {
		Selection []string `json:"selection"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, c, c.ApproveMetrics(r.Context(), body.Selection))
}

func (h *Handler) ApproveTaxonomy(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	h.respond(w, r, c, c.ApproveTaxonomy(r.Context()))
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, c, c.Reject(r.Context(), body.Reason))
}

func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := c.SaveProgress(r.Context(), body.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.workflow(w, r)
	if !ok {
		return
	}
	h.respond(w, r, c, c.Restart())
}
