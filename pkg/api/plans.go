package api

import (
	"net/http"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/service"
)

// DiscoverRequest is the body of POST /test-plans.
type DiscoverRequest struct {
	RootComponentID string `json:"root_component_id"`
	Name            string `json:"name,omitempty"`
	Profile         string `json:"profile,omitempty"`

	// DiscoverDependencies defaults to true.
	DiscoverDependencies *bool `json:"discover_dependencies,omitempty"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.svc.ListPlans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if plans == nil {
		plans = []*engine.TestPlan{}
	}
	writeOK(w, plans)
}

// handleDiscover runs discovery to completion before responding.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var body DiscoverRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeError(w, err)
		return
	}

	deps := true
	if body.DiscoverDependencies != nil {
		deps = *body.DiscoverDependencies
	}
	plan, err := s.svc.InitiateDiscovery(r.Context(), engine.DiscoverRequest{
		RootComponentID:      body.RootComponentID,
		Name:                 body.Name,
		Profile:              body.Profile,
		DiscoverDependencies: deps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Created", plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.GetPlanDetails(r.Context(), r.PathValue("planId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, details)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeletePlan(r.Context(), r.PathValue("planId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Deleted", nil)
}

// handleExecute accepts a batch and runs it in the background. Progress is
// visible through the plan status, results and events.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body service.ExecuteRequest
	if err := decodeJSON(w, r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	body.PlanID = r.PathValue("planId")

	plan, err := s.svc.StartExecution(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, "Execution initiated", plan)
}

// handleSelection previews the selection matchers would produce.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var body service.ExecuteRequest
	if err := decodeJSON(w, r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	planID := r.PathValue("planId")
	if _, err := s.svc.GetPlan(r.Context(), planID); err != nil {
		writeError(w, err)
		return
	}

	ids, err := s.svc.SelectComponents(r.Context(), planID, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeOK(w, map[string][]string{"selection": ids})
}
