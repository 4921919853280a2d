package api

import (
	"fmt"
	"net/http"

	"grimm.is/palisade/internal/policy"
)

// handleListChains handles GET /api/chains.
func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.engine.ListExtensionChains()
	if err != nil {
		s.writeEngineError(w, "list chains", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"chains": chains,
		"count":  len(chains),
	})
}

// priorityAssignment is one element of the PUT /api/chains/order body.
type priorityAssignment struct {
	ID       string `json:"id" validate:"required,uuid4"`
	Priority int    `json:"priority" validate:"gte=0"`
}

// handleSetChainPriorities handles PUT /api/chains/order. Every touched
// parent chain has its jump order rebuilt.
func (s *Server) handleSetChainPriorities(w http.ResponseWriter, r *http.Request) {
	var req []priorityAssignment
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req) == 0 {
		WriteError(w, http.StatusBadRequest, "no priority assignments given")
		return
	}

	assignments := make([]policy.PriorityAssignment, len(req))
	for i, a := range req {
		if err := checkStruct(a); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("assignment %d: %v", i, err))
			return
		}
		assignments[i] = policy.PriorityAssignment{ID: a.ID, Priority: a.Priority}
	}

	if err := s.engine.SetChainPriorities(actorAPI, assignments); err != nil {
		s.writeEngineError(w, "set chain priorities", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"updated": len(assignments),
	})
}
