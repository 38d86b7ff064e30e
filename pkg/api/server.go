// Package api exposes the governance control plane over HTTP. Handlers
// translate between the wire envelope and the approval engine; they hold
// no business rules of their own.
package api

import (
	"context"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/catalog"
	"github.com/cardshield/rulegov/pkg/compiler"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

// Server carries handler dependencies.
type Server struct {
	engine   *approval.Engine
	compiler *compiler.Compiler
	catalog  *catalog.Service
	st       store.Store
	logger   *slog.Logger

	// ReadyCheck, when set, backs /readyz. Nil means always ready.
	ReadyCheck func(ctx context.Context) error
}

// NewServer builds a Server. logger may be nil.
func NewServer(engine *approval.Engine, comp *compiler.Compiler, cat *catalog.Service, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, compiler: comp, catalog: cat, st: st, logger: logger}
}

// Routes registers every endpoint on a fresh mux. Auth, request id, and
// rate limiting wrap the mux at the caller.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /api/v1/rules", RequirePermission(auth.PermRuleWrite, s.handleCreateRule))
	mux.HandleFunc("GET /api/v1/rules", RequirePermission(auth.PermRead, s.handleListRules))
	mux.HandleFunc("GET /api/v1/rules/{id}", RequirePermission(auth.PermRead, s.handleGetRule))
	mux.HandleFunc("POST /api/v1/rules/{id}/versions", RequirePermission(auth.PermRuleWrite, s.handleCreateRuleVersion))
	mux.HandleFunc("GET /api/v1/rules/{id}/versions", RequirePermission(auth.PermRead, s.handleListRuleVersions))
	mux.HandleFunc("GET /api/v1/rule-versions/{id}", RequirePermission(auth.PermRead, s.handleGetRuleVersion))
	mux.HandleFunc("POST /api/v1/rule-versions/{id}/submit", RequirePermission(auth.PermRuleWrite, s.submitHandler(domain.EntityRuleVersion)))
	mux.HandleFunc("POST /api/v1/rule-versions/{id}/approve", RequirePermission(auth.PermRuleApprove, s.decisionHandler(domain.EntityRuleVersion, true)))
	mux.HandleFunc("POST /api/v1/rule-versions/{id}/reject", RequirePermission(auth.PermRuleApprove, s.decisionHandler(domain.EntityRuleVersion, false)))

	mux.HandleFunc("POST /api/v1/rulesets", RequirePermission(auth.PermRulesetWrite, s.handleCreateRuleset))
	mux.HandleFunc("GET /api/v1/rulesets", RequirePermission(auth.PermRead, s.handleListRulesets))
	mux.HandleFunc("GET /api/v1/rulesets/{id}", RequirePermission(auth.PermRead, s.handleGetRuleset))
	mux.HandleFunc("PATCH /api/v1/rulesets/{id}", RequirePermission(auth.PermRulesetWrite, s.handleUpdateRuleset))
	mux.HandleFunc("POST /api/v1/rulesets/{id}/versions", RequirePermission(auth.PermRulesetWrite, s.handleCreateRulesetVersion))
	mux.HandleFunc("GET /api/v1/rulesets/{id}/versions", RequirePermission(auth.PermRead, s.handleListRulesetVersions))
	mux.HandleFunc("GET /api/v1/ruleset-versions/{id}", RequirePermission(auth.PermRead, s.handleGetRulesetVersion))
	mux.HandleFunc("POST /api/v1/ruleset-versions/{id}/submit", RequirePermission(auth.PermRulesetWrite, s.submitHandler(domain.EntityRulesetVersion)))
	mux.HandleFunc("POST /api/v1/ruleset-versions/{id}/approve", RequirePermission(auth.PermRulesetApprove, s.decisionHandler(domain.EntityRulesetVersion, true)))
	mux.HandleFunc("POST /api/v1/ruleset-versions/{id}/reject", RequirePermission(auth.PermRulesetApprove, s.decisionHandler(domain.EntityRulesetVersion, false)))
	mux.HandleFunc("POST /api/v1/ruleset-versions/{id}/activate", RequirePermission(auth.PermRulesetActivate, s.handleActivate))
	mux.HandleFunc("GET /api/v1/ruleset-versions/{id}/compile", RequirePermission(auth.PermRead, s.handleCompile))
	mux.HandleFunc("GET /api/v1/ruleset-versions/{id}/manifest", RequirePermission(auth.PermRead, s.handleGetManifest))
	mux.HandleFunc("GET /api/v1/manifests/latest", RequirePermission(auth.PermRead, s.handleLatestManifest))

	mux.HandleFunc("POST /api/v1/fields", RequirePermission(auth.PermFieldWrite, s.handleCreateField))
	mux.HandleFunc("GET /api/v1/fields", RequirePermission(auth.PermRead, s.handleListFields))
	mux.HandleFunc("GET /api/v1/fields/{key}", RequirePermission(auth.PermRead, s.handleGetField))
	mux.HandleFunc("POST /api/v1/fields/{key}/versions", RequirePermission(auth.PermFieldWrite, s.handleProposeFieldVersion))
	mux.HandleFunc("PUT /api/v1/fields/{key}/metadata/{metaKey}", RequirePermission(auth.PermFieldWrite, s.handleSetFieldMetadata))
	mux.HandleFunc("GET /api/v1/fields/{key}/metadata", RequirePermission(auth.PermRead, s.handleListFieldMetadata))
	mux.HandleFunc("POST /api/v1/field-versions/{id}/submit", RequirePermission(auth.PermFieldWrite, s.submitHandler(domain.EntityFieldVersion)))
	mux.HandleFunc("POST /api/v1/field-versions/{id}/approve", RequirePermission(auth.PermFieldApprove, s.decisionHandler(domain.EntityFieldVersion, true)))
	mux.HandleFunc("POST /api/v1/field-versions/{id}/reject", RequirePermission(auth.PermFieldApprove, s.decisionHandler(domain.EntityFieldVersion, false)))
	mux.HandleFunc("POST /api/v1/field-registry/publish", RequirePermission(auth.PermRegistryPublish, s.handlePublishFieldRegistry))

	mux.HandleFunc("GET /api/v1/approvals", RequirePermission(auth.PermRead, s.handleListApprovals))
	mux.HandleFunc("GET /api/v1/audit", RequirePermission(auth.PermRead, s.handleListAudit))

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ReadyCheck != nil {
		if err := s.ReadyCheck(r.Context()); err != nil {
			WriteError(w, domain.Unavailablef("dependency not ready").WithCause(err))
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// pageRequest parses cursor, direction, and limit query parameters. The
// store layer clamps limits and validates cursors.
func pageRequest(r *http.Request) (store.PageRequest, error) {
	q := r.URL.Query()
	req := store.PageRequest{
		Cursor:    q.Get("cursor"),
		Direction: store.Direction(q.Get("direction")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return req, domain.Validationf("limit %q is not an integer", raw)
		}
		req.Limit = limit
	}
	return req, nil
}
