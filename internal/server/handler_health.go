package server

import (
	"net/http"
	"runtime"
	"time"
)

// Version is the API server version.
const Version = "0.1.0"

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
	Loops     int    `json:"loops"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	status, storeState := "healthy", "ok"
	if _, err := s.store.Stats(r.Context()); err != nil {
		status, storeState = "degraded", err.Error()
	}
	respondOK(w, reqID, healthResponse{
		Status:    status,
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     storeState,
		Loops:     len(s.loops),
	})
}
