package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/audit"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/catalog"
	"github.com/cardshield/rulegov/pkg/compiler"
	"github.com/cardshield/rulegov/pkg/objstore"
	"github.com/cardshield/rulegov/pkg/publisher"
	"github.com/cardshield/rulegov/pkg/store"
)

var (
	maker   = &auth.BasePrincipal{ID: "maker-1", Roles: []string{auth.RoleMaker}}
	maker2  = &auth.BasePrincipal{ID: "maker-2", Roles: []string{auth.RoleMaker}}
	checker = &auth.BasePrincipal{ID: "checker-1", Roles: []string{auth.RoleChecker}}
	viewer  = &auth.BasePrincipal{ID: "viewer-1", Roles: []string{auth.RoleViewer}}
)

type testServer struct {
	mux *http.ServeMux
	st  *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	objects, err := objstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	cat := catalog.NewService(st, nil, nil)
	require.NoError(t, cat.SeedStandardFields(ctx, "system"))

	comp := compiler.New(nil)
	pub := publisher.New(objects, comp, nil)
	engine := approval.NewEngine(st, audit.NewWriter(nil), pub, cat, nil)

	srv := NewServer(engine, comp, cat, st, nil)
	return &testServer{mux: srv.Routes(), st: st}
}

func (ts *testServer) do(t *testing.T, method, path string, principal auth.Principal, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if principal != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), principal))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/readyz", nil, nil).Code)
}

func TestCreateRuleAuthorization(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"name": "high amount", "rule_type": "AUTH"}

	rec := ts.do(t, http.MethodPost, "/api/v1/rules", nil, body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unauthenticated")

	rec = ts.do(t, http.MethodPost, "/api/v1/rules", viewer, body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "viewer lacks rules:write")
	assert.Equal(t, "ForbiddenError", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/v1/rules", maker, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, "DRAFT", created["status"])
	assert.Equal(t, "maker-1", created["created_by"])
}

func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/rules/no-such-rule", viewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NotFoundError", body["error"])
	assert.NotNil(t, body["details"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader("{not json"))
	req = req.WithContext(auth.WithPrincipal(req.Context(), maker))
	rec2 := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Equal(t, "ValidationError", decodeBody(t, rec2)["error"])
}

func TestInvalidLimitRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/rules?limit=abc", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// createApprovedRuleVersion drives the maker-checker flow over HTTP and
// returns the rule version id.
func (ts *testServer) createApprovedRuleVersion(t *testing.T, priority int) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/rules", maker, map[string]any{
		"name": fmt.Sprintf("rule p%d", priority), "rule_type": "AUTH",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ruleID := decodeBody(t, rec)["rule_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rules/"+ruleID+"/versions", maker, map[string]any{
		"condition_tree": map[string]any{"field": "amount", "op": "GT", "value": 10000},
		"priority":       priority,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	versionID := decodeBody(t, rec)["rule_version_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/submit", maker, map[string]any{"remarks": "please review"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/approve", checker, map[string]any{"remarks": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return versionID
}

func TestMakerCannotApproveOwnChange(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/rules", maker, map[string]any{"name": "r", "rule_type": "AUTH"})
	require.Equal(t, http.StatusCreated, rec.Code)
	ruleID := decodeBody(t, rec)["rule_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rules/"+ruleID+"/versions", maker, map[string]any{
		"condition_tree": map[string]any{"field": "amount", "op": "GT", "value": 1},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	versionID := decodeBody(t, rec)["rule_version_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/submit", maker, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// maker-1 holds no approve permission at all
	rec = ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/approve", maker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// an admin who made the change still cannot check their own work
	adminMaker := &auth.BasePrincipal{ID: "maker-1", Roles: []string{auth.RoleAdmin}}
	rec = ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/approve", adminMaker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ForbiddenError", decodeBody(t, rec)["error"])
}

func TestSubmitIdempotency(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/rules", maker, map[string]any{"name": "r", "rule_type": "AUTH"})
	require.Equal(t, http.StatusCreated, rec.Code)
	ruleID := decodeBody(t, rec)["rule_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rules/"+ruleID+"/versions", maker, map[string]any{
		"condition_tree": map[string]any{"field": "amount", "op": "GT", "value": 1},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	versionID := decodeBody(t, rec)["rule_version_id"].(string)

	first := ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/submit", maker, nil,
		idempotencyKeyHeader, "key-123")
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(t, http.MethodPost, "/api/v1/rule-versions/"+versionID+"/submit", maker, nil,
		idempotencyKeyHeader, "key-123")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, decodeBody(t, first)["approval_id"], decodeBody(t, second)["approval_id"])

	rec = ts.do(t, http.MethodGet, "/api/v1/approvals?status=PENDING&entity_type=RULE_VERSION", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, ruleID, items[0].(map[string]any)["rule_id"], "list rows carry the parent rule id")
}

func TestRulesetPublishAndReadBack(t *testing.T) {
	ts := newTestServer(t)
	memberID := ts.createApprovedRuleVersion(t, 100)

	rec := ts.do(t, http.MethodPost, "/api/v1/rulesets", maker, map[string]any{
		"environment": "prod", "region": "us", "country": "US",
		"rule_type": "AUTH", "name": "US auth",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rulesetID := decodeBody(t, rec)["ruleset_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rulesets/"+rulesetID+"/versions", maker2, map[string]any{
		"rule_version_ids": []string{memberID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	versionID := decodeBody(t, rec)["ruleset_version_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/ruleset-versions/"+versionID+"/submit", maker2, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/ruleset-versions/"+versionID+"/approve", checker, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/ruleset-versions/"+versionID+"/manifest", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	manifest := decodeBody(t, rec)
	assert.Contains(t, manifest["artifact_uri"], "rulesets/prod/us/US/CARD_AUTH/v1/ruleset.json")
	assert.Contains(t, manifest["checksum"], "sha256:")

	rec = ts.do(t, http.MethodGet,
		"/api/v1/manifests/latest?environment=prod&region=us&country=US&rule_type=AUTH", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, manifest["manifest_id"], decodeBody(t, rec)["manifest_id"])

	rec = ts.do(t, http.MethodGet, "/api/v1/ruleset-versions/"+versionID+"/compile", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	compiled := decodeBody(t, rec)
	assert.Equal(t, manifest["checksum"], compiled["checksum"], "dry-run matches published artifact")

	rec = ts.do(t, http.MethodPost, "/api/v1/ruleset-versions/"+versionID+"/activate", checker, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ACTIVE", decodeBody(t, rec)["status"])
}

func TestCompileRejectsDraft(t *testing.T) {
	ts := newTestServer(t)
	memberID := ts.createApprovedRuleVersion(t, 10)

	rec := ts.do(t, http.MethodPost, "/api/v1/rulesets", maker, map[string]any{
		"environment": "prod", "region": "us", "country": "US",
		"rule_type": "AUTH", "name": "US auth",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rulesetID := decodeBody(t, rec)["ruleset_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/rulesets/"+rulesetID+"/versions", maker, map[string]any{
		"rule_version_ids": []string{memberID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	versionID := decodeBody(t, rec)["ruleset_version_id"].(string)

	rec = ts.do(t, http.MethodGet, "/api/v1/ruleset-versions/"+versionID+"/compile", viewer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidStateError", decodeBody(t, rec)["error"])
}

func TestFieldEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/fields", maker, map[string]any{
		"field_key": "loyalty_tier", "display_name": "Loyalty Tier",
		"data_type": "ENUM", "allowed_operators": []string{"EQ", "IN"},
		"enum_values": []string{"GOLD", "SILVER"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	versionID := created["version"].(map[string]any)["field_version_id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/v1/field-versions/"+versionID+"/submit", maker, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/api/v1/field-versions/"+versionID+"/approve", checker, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/fields/loyalty_tier", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	field := decodeBody(t, rec)
	assert.GreaterOrEqual(t, field["field_id"].(float64), float64(27), "custom ids start after standard fields")

	rec = ts.do(t, http.MethodPut, "/api/v1/fields/loyalty_tier/metadata/ui_hint", maker, map[string]any{
		"value": map[string]any{"widget": "select"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/v1/fields/loyalty_tier/metadata", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/field-registry/publish", checker, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registry := decodeBody(t, rec)
	assert.Equal(t, float64(1), registry["registry_version"])
	assert.Equal(t, float64(27), registry["field_count"])
}

func TestListEndpointsPaginate(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/api/v1/rules", maker, map[string]any{
			"name": fmt.Sprintf("rule %d", i), "rule_type": "AUTH",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/rules?limit=2", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody(t, rec)
	assert.Len(t, page["items"], 2)
	assert.Equal(t, true, page["has_next"])
	require.NotNil(t, page["next_cursor"])

	rec = ts.do(t, http.MethodGet, "/api/v1/rules?limit=2&cursor="+page["next_cursor"].(string), viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody(t, rec)
	assert.Len(t, second["items"], 1)
	assert.Equal(t, false, second["has_next"])

	rec = ts.do(t, http.MethodGet, "/api/v1/audit", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["items"], "creates were audited")

	rec = ts.do(t, http.MethodGet, "/api/v1/approvals?status=PENDING", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
