package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/obscore/internal/slicing"
	"github.com/me/obscore/internal/validator"
	"github.com/me/obscore/pkg/model"
)

// handleAppendInput appends an input record.
// POST /api/v1/inputs
// Returns 201 for a new record and 200 when the ID already existed.
func (s *Server) handleAppendInput(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var rec model.InputRecord
	if !decodeBody(w, r, reqID, &rec) {
		return
	}
	if errs := rec.Validate(); len(errs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid input record", errs...))
		return
	}
	rec.Seq = 0
	rec.IngestedAt = time.Time{}

	created, err := s.store.AppendInput(r.Context(), &rec)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if !created {
		respondOK(w, reqID, rec)
		return
	}
	s.logger.Debug("input appended", "id", rec.ID, "kind", rec.Kind, "seq", rec.Seq)
	respondCreated(w, reqID, rec)
}

func (s *Server) handleListInputs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	inputs, total, err := s.store.ListInputs(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondList(w, reqID, inputs, total, opts)
}

func (s *Server) handleGetInput(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetInput(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if rec == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("input", id))
		return
	}
	respondOK(w, reqID, rec)
}

// handleRegisterModule creates or upgrades a module descriptor.
// POST /api/v1/modules
func (s *Server) handleRegisterModule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var m model.ModuleDescriptor
	if !decodeBody(w, r, reqID, &m) {
		return
	}
	if errs := m.Validate(); len(errs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid module descriptor", errs...))
		return
	}
	if _, err := validator.NewChecker(&m); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid module check",
			model.FieldError{Field: "checks", Message: err.Error()}))
		return
	}

	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.store.RegisterModule(r.Context(), &m); err != nil {
		respondErr(w, reqID, err)
		return
	}

	stored, err := s.store.GetModule(r.Context(), m.ID)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("module registered", "id", m.ID, "version", m.Version, "enabled", m.Enabled)
	respondCreated(w, reqID, stored)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	modules, err := s.store.ListModules(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, modules)
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	m, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if m == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("module", id))
		return
	}
	respondOK(w, reqID, m)
}

// handleSetModuleEnabled enables or disables a module. Work of a disabled
// module expires on the next Reconcile.
// PUT /api/v1/modules/{id}/enable, PUT /api/v1/modules/{id}/disable
func (s *Server) handleSetModuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := RequestIDFromContext(r.Context())
		id := chi.URLParam(r, "id")

		ok, err := s.store.SetModuleEnabled(r.Context(), id, enabled, time.Now().UTC())
		if err != nil {
			respondErr(w, reqID, err)
			return
		}
		if !ok {
			respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("module", id))
			return
		}
		s.logger.Info("module updated", "id", id, "enabled", enabled)
		respondOK(w, reqID, map[string]any{
			"module_id": id,
			"enabled":   enabled,
		})
	}
}

// KeyCoverage is the merged validated time ranges of one partition key.
type KeyCoverage struct {
	Key          string             `json:"key"`
	Intervals    []slicing.Interval `json:"intervals"`
	TotalSeconds float64            `json:"total_seconds"`
	Results      int                `json:"results"`
}

// handleCoverage reports which time ranges a module's validated results cover.
// GET /api/v1/modules/{id}/coverage
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	m, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if m == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("module", id))
		return
	}

	results, err := s.store.ListValidatedResults(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	timelines := make(map[string]*slicing.Timeline)
	counts := make(map[string]int)
	for _, res := range results {
		tl, ok := timelines[res.Slice.Key]
		if !ok {
			tl = &slicing.Timeline{}
			timelines[res.Slice.Key] = tl
		}
		tl.Add(res.Slice.Start, res.Slice.End)
		counts[res.Slice.Key]++
	}

	coverage := make([]KeyCoverage, 0, len(timelines))
	for key, tl := range timelines {
		coverage = append(coverage, KeyCoverage{
			Key:          key,
			Intervals:    tl.Intervals(),
			TotalSeconds: tl.Total().Seconds(),
			Results:      counts[key],
		})
	}
	sort.Slice(coverage, func(i, j int) bool { return coverage[i].Key < coverage[j].Key })

	respondOK(w, reqID, map[string]any{
		"module_id": id,
		"version":   m.Version,
		"coverage":  coverage,
	})
}
