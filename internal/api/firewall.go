package api

import (
	"net/http"

	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/policy"
)

// handleApply handles POST /api/firewall/apply. The result reports
// per-rule failures; the run itself only errors when stored rules
// cannot be loaded.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Apply(actorAPI, "manual")
	if err != nil {
		s.writeEngineError(w, "apply", err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handleSave handles POST /api/firewall/save.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Save(actorAPI); err != nil {
		s.writeEngineError(w, "save", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"saved": true})
}

// handleDrift handles GET /api/firewall/drift.
func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Drift()
	if err != nil {
		s.writeEngineError(w, "drift", err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// ownedChainInfo describes one engine-owned chain slot.
type ownedChainInfo struct {
	Table  string `json:"table"`
	Parent string `json:"parent"`
	Chain  string `json:"chain"`
}

// firewallStatus is the response of GET /api/firewall/status.
type firewallStatus struct {
	OwnedChains     []ownedChainInfo  `json:"owned_chains"`
	RulesByTable    map[string]int    `json:"rules_by_table"`
	RuleCount       int               `json:"rule_count"`
	ExtensionChains int               `json:"extension_chains"`
	MockMode        bool              `json:"mock_mode"`
	LastApply       *engine.LastApply `json:"last_apply,omitempty"`
}

// handleStatus handles GET /api/firewall/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := firewallStatus{
		MockMode:  s.engine.Adapter().MockMode(),
		LastApply: s.engine.LastApply(),
	}
	for _, slot := range policy.OwnedChainSlots() {
		status.OwnedChains = append(status.OwnedChains, ownedChainInfo{
			Table:  slot.Table,
			Parent: slot.Parent,
			Chain:  slot.Chain,
		})
	}

	st := s.engine.Store()
	counts, err := st.CountRulesByTable()
	if err != nil {
		s.writeEngineError(w, "status", err)
		return
	}
	status.RulesByTable = counts
	for _, n := range counts {
		status.RuleCount += n
	}
	if status.ExtensionChains, err = st.CountExtensionChains(); err != nil {
		s.writeEngineError(w, "status", err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}
