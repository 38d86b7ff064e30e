package api

import (
	"encoding/json"
	"net/http"

	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

type createRuleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	RuleType    domain.RuleType `json:"rule_type"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	rule, err := s.engine.CreateRule(r.Context(), approval.CreateRuleParams{
		Name:        req.Name,
		Description: req.Description,
		RuleType:    req.RuleType,
		By:          auth.ActorID(r.Context()),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var filter store.RuleFilter
	if raw := r.URL.Query().Get("rule_type"); raw != "" {
		t := domain.RuleType(raw)
		if !t.Valid() {
			WriteError(w, domain.Validationf("invalid rule type %q", raw))
			return
		}
		filter.RuleType = &t
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.EntityStatus(raw)
		filter.Status = &st
	}
	page, err := s.st.ListRules(r.Context(), filter, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.st.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

type createRuleVersionRequest struct {
	ConditionTree      json.RawMessage     `json:"condition_tree"`
	Scope              map[string][]string `json:"scope"`
	Priority           int                 `json:"priority"`
	Action             domain.RuleAction   `json:"action"`
	ExpectedRowVersion *int                `json:"expected_row_version"`
}

func (s *Server) handleCreateRuleVersion(w http.ResponseWriter, r *http.Request) {
	var req createRuleVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	version, err := s.engine.CreateRuleVersion(r.Context(), approval.CreateRuleVersionParams{
		RuleID:             r.PathValue("id"),
		ConditionTree:      req.ConditionTree,
		Scope:              req.Scope,
		Priority:           req.Priority,
		Action:             req.Action,
		ExpectedRowVersion: req.ExpectedRowVersion,
		By:                 auth.ActorID(r.Context()),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, version)
}

func (s *Server) handleListRuleVersions(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var status *domain.EntityStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.EntityStatus(raw)
		status = &st
	}
	page, err := s.st.ListRuleVersions(r.Context(), r.PathValue("id"), status, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRuleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.st.GetRuleVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, version)
}
