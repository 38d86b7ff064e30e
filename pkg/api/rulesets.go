package api

import (
	"net/http"

	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

type createRulesetRequest struct {
	Environment string          `json:"environment"`
	Region      string          `json:"region"`
	Country     string          `json:"country"`
	RuleType    domain.RuleType `json:"rule_type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
}

func (s *Server) handleCreateRuleset(w http.ResponseWriter, r *http.Request) {
	var req createRulesetRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ruleset, err := s.engine.CreateRuleset(r.Context(), approval.CreateRulesetParams{
		Environment: req.Environment,
		Region:      req.Region,
		Country:     req.Country,
		RuleType:    req.RuleType,
		Name:        req.Name,
		Description: req.Description,
		By:          auth.ActorID(r.Context()),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ruleset)
}

func (s *Server) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	q := r.URL.Query()
	filter := store.RulesetFilter{
		Environment: q.Get("environment"),
		Region:      q.Get("region"),
		Country:     q.Get("country"),
	}
	if raw := q.Get("rule_type"); raw != "" {
		t := domain.RuleType(raw)
		if !t.Valid() {
			WriteError(w, domain.Validationf("invalid rule type %q", raw))
			return
		}
		filter.RuleType = &t
	}
	page, err := s.st.ListRulesets(r.Context(), filter, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRuleset(w http.ResponseWriter, r *http.Request) {
	ruleset, err := s.st.GetRuleset(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ruleset)
}

type updateRulesetRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	ExpectedRowVersion *int   `json:"expected_row_version"`
}

func (s *Server) handleUpdateRuleset(w http.ResponseWriter, r *http.Request) {
	var req updateRulesetRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ruleset, err := s.engine.UpdateRuleset(r.Context(), approval.UpdateRulesetParams{
		RulesetID:          r.PathValue("id"),
		Name:               req.Name,
		Description:        req.Description,
		ExpectedRowVersion: req.ExpectedRowVersion,
		By:                 auth.ActorID(r.Context()),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ruleset)
}

type createRulesetVersionRequest struct {
	RuleVersionIDs []string `json:"rule_version_ids"`
}

func (s *Server) handleCreateRulesetVersion(w http.ResponseWriter, r *http.Request) {
	var req createRulesetVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	version, err := s.engine.CreateRulesetVersion(r.Context(), r.PathValue("id"), req.RuleVersionIDs, auth.ActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, version)
}

func (s *Server) handleListRulesetVersions(w http.ResponseWriter, r *http.Request) {
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
	page, err := s.st.ListRulesetVersions(r.Context(), r.PathValue("id"), status, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRulesetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.st.GetRulesetVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, version)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	version, err := s.engine.Activate(r.Context(), r.PathValue("id"), auth.ActorID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, version)
}

// handleCompile is the dry-run read API: it compiles an APPROVED or
// ACTIVE ruleset version and returns the artifact without publishing.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	result, err := s.compiler.Compile(r.Context(), s.st, s.catalog, r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ruleset_version_id": result.Version.RulesetVersionID,
		"checksum":           result.Checksum,
		"artifact":           result.AST,
	})
}
