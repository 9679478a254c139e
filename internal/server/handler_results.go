package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/obscore/pkg/model"
)

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	items, total, err := s.store.ListWorkItems(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondList(w, reqID, items, total, opts)
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	item, err := s.store.GetWorkItem(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if item == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("work item", id))
		return
	}
	respondOK(w, reqID, item)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	results, total, err := s.store.ListResults(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondList(w, reqID, results, total, opts)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	res, err := s.store.GetResult(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if res == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("result", id))
		return
	}
	respondOK(w, reqID, res)
}

// handleValidateResult runs ValidateOne for a single result.
// POST /api/v1/results/{id}/validate
func (s *Server) handleValidateResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.validator == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrUnavailable,
			Message: "validator not configured",
		})
		return
	}
	out, err := s.validator.ValidateOne(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, out)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	conflicts, total, err := s.store.ListConflicts(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondList(w, reqID, conflicts, total, opts)
}

// handleAckConflict marks a conflict as acknowledged by an operator.
// PUT /api/v1/conflicts/{id}/ack
func (s *Server) handleAckConflict(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	ok, err := s.store.AckConflict(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("conflict", id))
		return
	}
	s.logger.Info("conflict acknowledged", "id", id)
	respondOK(w, reqID, map[string]any{
		"conflict_id":  id,
		"acknowledged": true,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.metrics.UpdateStats(stats)
	respondOK(w, reqID, stats)
}

// handleReconcile runs one planning pass.
// POST /api/v1/admin/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	sum, err := s.scheduler.Reconcile(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, sum)
}

// handleReclaim resets expired leases.
// POST /api/v1/admin/reclaim
func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	sum, err := s.scheduler.ReclaimExpired(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, sum)
}

// handleSweep validates pending candidates once.
// POST /api/v1/admin/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.validator == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrUnavailable,
			Message: "validator not configured",
		})
		return
	}
	sum, err := s.validator.Sweep(r.Context())
	if err != nil {
		s.logger.Warn("sweep finished with errors", "error", err)
	}
	respondOK(w, reqID, sum)
}
