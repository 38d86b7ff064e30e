package api

import (
	"net/http"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	q := r.URL.Query()
	filter := store.AuditFilter{
		EntityID:    q.Get("entity_id"),
		Action:      q.Get("action"),
		PerformedBy: q.Get("performed_by"),
	}
	if raw := q.Get("entity_type"); raw != "" {
		t := domain.AuditEntityType(raw)
		filter.EntityType = &t
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, domain.Validationf("%s %q is not an RFC 3339 instant", name, raw))
			return
		}
		*dst = &ts
	}
	page, err := s.st.ListAudit(r.Context(), filter, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.st.GetManifestByRulesetVersionID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, manifest)
}

// handleLatestManifest resolves the newest publication for one ruleset
// natural key. All four key dimensions are required.
func (s *Server) handleLatestManifest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	environment, region, country := q.Get("environment"), q.Get("region"), q.Get("country")
	ruleType := domain.RuleType(q.Get("rule_type"))
	if environment == "" || region == "" || country == "" {
		WriteError(w, domain.Validationf("environment, region, and country are required"))
		return
	}
	if !ruleType.Valid() {
		WriteError(w, domain.Validationf("invalid rule type %q", q.Get("rule_type")))
		return
	}
	manifest, err := s.st.LatestManifest(r.Context(), environment, region, country, ruleType)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, manifest)
}
