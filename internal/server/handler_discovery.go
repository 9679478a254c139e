package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "obscore API",
		Version:     "v1",
		Description: "Observatory coordination core: input ingestion, module registry, work leases and result validation",
		Endpoints: []endpointInfo{
			{"/api/v1/inputs", []string{"GET", "POST"}, "Append and list input records"},
			{"/api/v1/inputs/{id}", []string{"GET"}, "Single input record"},
			{"/api/v1/modules", []string{"GET", "POST"}, "List or register module descriptors"},
			{"/api/v1/modules/{id}", []string{"GET"}, "Single module descriptor"},
			{"/api/v1/modules/{id}/enable", []string{"PUT"}, "Enable a module"},
			{"/api/v1/modules/{id}/disable", []string{"PUT"}, "Disable a module; in-flight work expires"},
			{"/api/v1/modules/{id}/coverage", []string{"GET"}, "Merged time ranges covered by validated results"},
			{"/api/v1/work/acquire", []string{"POST"}, "Lease the next eligible work item (204 when none)"},
			{"/api/v1/work/{id}/renew", []string{"PUT"}, "Extend a held lease"},
			{"/api/v1/work/{id}/result", []string{"POST"}, "Submit a candidate result for a held lease"},
			{"/api/v1/work/{id}/complete", []string{"POST"}, "Complete a held lease with a submitted result"},
			{"/api/v1/work/{id}/fail", []string{"POST"}, "Report a failed attempt"},
			{"/api/v1/work-items", []string{"GET"}, "List work items (?state=, ?module=)"},
			{"/api/v1/work-items/{id}", []string{"GET"}, "Single work item"},
			{"/api/v1/results", []string{"GET"}, "List results (?state=, ?module=)"},
			{"/api/v1/results/{id}", []string{"GET"}, "Single result"},
			{"/api/v1/results/{id}/validate", []string{"POST"}, "Validate one candidate result now"},
			{"/api/v1/conflicts", []string{"GET"}, "List conflicts (?state=open|acknowledged)"},
			{"/api/v1/conflicts/{id}/ack", []string{"PUT"}, "Acknowledge a conflict"},
			{"/api/v1/stats", []string{"GET"}, "Counts per work item state and result status"},
			{"/api/v1/admin/reconcile", []string{"POST"}, "Run one Reconcile pass"},
			{"/api/v1/admin/reclaim", []string{"POST"}, "Reclaim expired leases"},
			{"/api/v1/admin/sweep", []string{"POST"}, "Run one validation sweep"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
