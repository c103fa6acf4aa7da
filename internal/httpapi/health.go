package httpapi

import "net/http"

// handleHealthz implements GET /healthz, fanning out to every registered
// component Checker (C1/C2, and configured providers) via the health
// Aggregator. Unauthenticated: orchestrators probing liveness/readiness
// don't carry a session.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
