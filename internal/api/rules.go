package api

import (
	"fmt"
	"io"
	"net/http"

	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/policy"
)

// actorAPI labels audit entries for operations arriving over HTTP.
const actorAPI = "api"

// maxImportBytes bounds an import document.
const maxImportBytes = 10 << 20

// ruleResponse wraps a rule mutation result. Apply reports how the
// reconciliation after the mutation went; the mutation itself is already
// committed even when the apply failed.
type ruleResponse struct {
	Rule     *policy.Rule        `json:"rule,omitempty"`
	Apply    *engine.ApplyResult `json:"apply,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

// handleListRules handles GET /api/rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	chain := r.URL.Query().Get("chain")

	var (
		rules []policy.Rule
		err   error
	)
	switch {
	case table != "" && chain != "":
		rules, err = s.engine.ListGroup(table, chain)
	default:
		rules, err = s.engine.ListRules()
		if err == nil && table != "" {
			filtered := rules[:0]
			for _, rule := range rules {
				if rule.Table == table {
					filtered = append(filtered, rule)
				}
			}
			rules = filtered
		}
	}
	if err != nil {
		s.writeEngineError(w, "list rules", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// handleCreateRule handles POST /api/rules.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule policy.Rule
	if err := decodeJSON(r, &rule); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, apply, err := s.engine.CreateRule(actorAPI, rule)
	if err != nil {
		s.writeEngineError(w, "create rule", err)
		return
	}

	WriteJSON(w, http.StatusCreated, ruleResponse{
		Rule:     created,
		Apply:    apply,
		Warnings: s.interfaceWarnings(created),
	})
}

// handleGetRule handles GET /api/rules/{id}.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.GetRule(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "get rule", err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// handleUpdateRule handles PATCH /api/rules/{id}.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch policy.RuleUpdate
	if err := decodeJSON(r, &patch); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, apply, err := s.engine.UpdateRule(actorAPI, r.PathValue("id"), patch)
	if err != nil {
		s.writeEngineError(w, "update rule", err)
		return
	}

	WriteJSON(w, http.StatusOK, ruleResponse{
		Rule:     updated,
		Apply:    apply,
		Warnings: s.interfaceWarnings(updated),
	})
}

// handleDeleteRule handles DELETE /api/rules/{id}.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	apply, err := s.engine.DeleteRule(actorAPI, r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "delete rule", err)
		return
	}
	WriteJSON(w, http.StatusOK, ruleResponse{Apply: apply})
}

// reorderRequest is the body of PATCH /api/rules/{id}/reorder.
type reorderRequest struct {
	Order *int `json:"order" validate:"required"`
}

// handleReorderRule handles PATCH /api/rules/{id}/reorder.
func (s *Server) handleReorderRule(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkStruct(req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, apply, err := s.engine.ReorderRule(actorAPI, r.PathValue("id"), *req.Order)
	if err != nil {
		s.writeEngineError(w, "reorder rule", err)
		return
	}
	WriteJSON(w, http.StatusOK, ruleResponse{Rule: rule, Apply: apply})
}

// orderAssignment is one element of the PUT /api/rules/order body.
type orderAssignment struct {
	ID    string `json:"id" validate:"required,uuid4"`
	Order int    `json:"order" validate:"gte=0"`
}

// handleSetRuleOrders handles PUT /api/rules/order.
func (s *Server) handleSetRuleOrders(w http.ResponseWriter, r *http.Request) {
	var req []orderAssignment
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req) == 0 {
		WriteError(w, http.StatusBadRequest, "no order assignments given")
		return
	}

	assignments := make([]policy.OrderAssignment, len(req))
	for i, a := range req {
		if err := checkStruct(a); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("assignment %d: %v", i, err))
			return
		}
		assignments[i] = policy.OrderAssignment{ID: a.ID, Order: a.Order}
	}

	apply, err := s.engine.SetRuleOrders(actorAPI, assignments)
	if err != nil {
		s.writeEngineError(w, "set rule orders", err)
		return
	}
	WriteJSON(w, http.StatusOK, ruleResponse{Apply: apply})
}

// handleExportRules handles GET /api/rules/export.
func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = engine.FormatJSON
	}

	data, err := s.engine.Export(format)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch format {
	case engine.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportRules handles POST /api/rules/import.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = engine.FormatJSON
	}
	mode := r.URL.Query().Get("mode")

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := s.engine.Import(actorAPI, format, mode, data)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// linkCheck reports whether a named link exists. Tests swap it out.
var linkCheck = interfaceExists

// interfaceWarnings reports interfaces the rule names that do not exist
// right now. Advisory only: links may legitimately appear later, so a
// missing one never rejects the rule.
func (s *Server) interfaceWarnings(rule *policy.Rule) []string {
	var warnings []string
	seen := map[string]bool{}
	for _, name := range []string{rule.InInterface, rule.OutInterface} {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !linkCheck(name) {
			s.log.Warn("rule references a missing interface",
				"interface", name, "rule", rule.ID)
			warnings = append(warnings, fmt.Sprintf("interface %q does not exist", name))
		}
	}
	return warnings
}
