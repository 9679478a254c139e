package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/obscore/pkg/model"
)

// AcquireRequest is the body of POST /api/v1/work/acquire.
type AcquireRequest struct {
	WorkerID  string   `json:"worker_id"`
	ModuleIDs []string `json:"module_ids,omitempty"`
	Key       string   `json:"key,omitempty"`
}

// LeaseRequest identifies the caller of a lease operation.
type LeaseRequest struct {
	WorkerID string `json:"worker_id"`
}

// ResultRequest is the body of POST /api/v1/work/{id}/result.
type ResultRequest struct {
	WorkerID string          `json:"worker_id"`
	Payload  json.RawMessage `json:"payload"`
}

// CompleteRequest is the body of POST /api/v1/work/{id}/complete.
type CompleteRequest struct {
	WorkerID string `json:"worker_id"`
	ResultID string `json:"result_id"`
}

// FailRequest is the body of POST /api/v1/work/{id}/fail.
type FailRequest struct {
	WorkerID  string `json:"worker_id"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

func requireWorkerID(w http.ResponseWriter, reqID, workerID string) bool {
	if workerID == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "worker_id", Message: "worker_id is required"}))
		return false
	}
	return true
}

// handleAcquire leases the next eligible work item.
// POST /api/v1/work/acquire
// Returns 200 with a model.Assignment or 204 No Content if no work available.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req AcquireRequest
	if !decodeBody(w, r, reqID, &req) || !requireWorkerID(w, reqID, req.WorkerID) {
		return
	}

	filter, ok := WorkerAuthFromContext(r.Context()).Restrict(model.WorkFilter{ModuleIDs: req.ModuleIDs, Key: req.Key})
	if !ok {
		respondError(w, reqID, http.StatusForbidden, &model.APIError{
			Code:    model.ErrForbidden,
			Message: "worker key does not allow the requested modules",
		})
		return
	}

	item, err := s.scheduler.AcquireLease(r.Context(), req.WorkerID, filter)
	if errors.Is(err, model.ErrNoWorkAvailable) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	asg := model.Assignment{WorkItem: *item}
	m, err := s.store.GetModule(r.Context(), item.ModuleID)
	if err != nil {
		s.logger.Warn("module lookup for assignment", "module", item.ModuleID, "error", err)
	} else if m != nil && m.Version == item.ModuleVersion {
		asg.Command = m.Command
	}
	respondOK(w, reqID, asg)
}

// authorizeItem checks that the worker key may act on the work item.
func (s *Server) authorizeItem(w http.ResponseWriter, r *http.Request, reqID, itemID string) bool {
	auth := WorkerAuthFromContext(r.Context())
	if auth == nil || len(auth.Modules) == 0 {
		return true
	}
	item, err := s.store.GetWorkItem(r.Context(), itemID)
	if err != nil {
		respondErr(w, reqID, err)
		return false
	}
	if item == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("work item", itemID))
		return false
	}
	if !auth.CanRun(item.ModuleID) {
		respondError(w, reqID, http.StatusForbidden, &model.APIError{
			Code:    model.ErrForbidden,
			Message: "worker key does not allow module " + item.ModuleID,
		})
		return false
	}
	return true
}

// handleRenew extends a held lease.
// PUT /api/v1/work/{id}/renew
func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req LeaseRequest
	if !decodeBody(w, r, reqID, &req) || !requireWorkerID(w, reqID, req.WorkerID) || !s.authorizeItem(w, r, reqID, id) {
		return
	}

	expiry, err := s.scheduler.RenewLease(r.Context(), id, req.WorkerID)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"work_item_id": id,
		"lease_expiry": expiry,
	})
}

// handleSubmitResult stores a candidate result for a held lease.
// POST /api/v1/work/{id}/result
func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req ResultRequest
	if !decodeBody(w, r, reqID, &req) || !requireWorkerID(w, reqID, req.WorkerID) || !s.authorizeItem(w, r, reqID, id) {
		return
	}

	res, err := s.scheduler.SubmitResult(r.Context(), id, req.WorkerID, req.Payload)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondCreated(w, reqID, res)
}

// handleComplete completes a held lease.
// POST /api/v1/work/{id}/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req CompleteRequest
	if !decodeBody(w, r, reqID, &req) || !requireWorkerID(w, reqID, req.WorkerID) || !s.authorizeItem(w, r, reqID, id) {
		return
	}
	if req.ResultID == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "result_id", Message: "result_id is required"}))
		return
	}

	if err := s.scheduler.CompleteLease(r.Context(), id, req.WorkerID, req.ResultID); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"work_item_id": id,
		"state":        model.WorkItemCompleted,
		"result_id":    req.ResultID,
	})
}

// handleFail records a failed attempt.
// POST /api/v1/work/{id}/fail
func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req FailRequest
	if !decodeBody(w, r, reqID, &req) || !requireWorkerID(w, reqID, req.WorkerID) || !s.authorizeItem(w, r, reqID, id) {
		return
	}

	state, err := s.scheduler.ReportFailure(r.Context(), id, req.WorkerID, req.Reason, req.Retryable)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"work_item_id": id,
		"state":        state,
	})
}
