package api

import (
	"fmt"
	"net/http"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
)

type planRequest struct {
	engine.CycleRequest
	// DryRun returns the plan without saving it as a cycle.
	DryRun bool `json:"dry_run,omitempty"`
}

// handlePlanCycle runs the capital allocator and stores the plan as a new
// cycle in the planned state.
// POST /api/cycles/plan
// Body: {"source_hub": "jita", "total_capital": "1000000000", "strategy": "greedy"}
func (s *Server) handlePlanCycle(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !req.TotalCapital.IsPositive() {
		writeError(w, http.StatusBadRequest, "total_capital must be positive")
		return
	}
	for hub, pct := range req.Allocation {
		if pct < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("allocation for %s is negative", hub))
			return
		}
	}

	plan, err := s.allocator.PlanCycle(r.Context(), req.CycleRequest)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if req.DryRun {
		writeJSON(w, plan)
		return
	}
	id, err := s.db.SaveCycle(r.Context(), plan)
	if err != nil {
		writeEngineError(w, fmt.Errorf("save cycle: %w", err))
		return
	}
	logger.Success("API", fmt.Sprintf("cycle %s saved (%d hubs)", id, len(plan.Allocations)))
	w.Header().Set("Location", "/api/cycles/"+id)
	writeJSON(w, plan)
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.db.ListCycles(r.Context(), queryLimit(r, 20))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, cycles)
}

func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	detail, err := s.db.GetCycle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, detail)
}

// handleAdvanceCycle moves a cycle one step forward. The body may name the
// expected next status; an empty body advances to whatever comes next.
func (s *Server) handleAdvanceCycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status db.CycleStatus `json:"status,omitempty" validate:"omitempty,oneof=buying in_transit selling completed"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	rec, err := s.db.AdvanceCycle(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	logger.Info("API", fmt.Sprintf("cycle %s -> %s", rec.ID, rec.Status))
	writeJSON(w, rec)
}
