package compiler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardshield/rulegov/pkg/canonicaljson"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/ids"
	"github.com/cardshield/rulegov/pkg/store"
)

type fixture struct {
	st      *store.MemoryStore
	ruleset *domain.Ruleset
	version *domain.RulesetVersion
	members []*domain.RuleVersion
}

func seedField(t *testing.T, st *store.MemoryStore, key string, id int, dt domain.DataType, ops []domain.Operator, multi bool) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.CreateField(ctx, &domain.RuleField{
		FieldKey:          key,
		FieldID:           id,
		DisplayName:       key,
		DataType:          dt,
		AllowedOperators:  ops,
		MultiValueAllowed: multi,
		IsActive:          true,
		CurrentVersion:    1,
		RowVersion:        1,
		CreatedBy:         "system",
		CreatedAt:         now,
		UpdatedAt:         now,
	}))
	require.NoError(t, st.CreateFieldVersion(ctx, &domain.RuleFieldVersion{
		FieldVersionID:    ids.NewString(),
		FieldKey:          key,
		Version:           1,
		DisplayName:       key,
		DataType:          dt,
		AllowedOperators:  ops,
		MultiValueAllowed: multi,
		Status:            domain.StatusApproved,
		CreatedBy:         "system",
		CreatedAt:         now,
		ApprovedBy:        "checker",
		ApprovedAt:        &now,
	}))
}

func seedApprovedRule(t *testing.T, st *store.MemoryStore, ruleType domain.RuleType, priority int, tree string) *domain.RuleVersion {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	ruleID := ids.NewString()
	require.NoError(t, st.CreateRule(ctx, &domain.Rule{
		RuleID:         ruleID,
		RuleName:       "rule " + ruleID[:8],
		RuleType:       ruleType,
		Status:         domain.StatusApproved,
		CurrentVersion: 1,
		RowVersion:     1,
		CreatedBy:      "maker-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	version := &domain.RuleVersion{
		RuleVersionID: ids.NewString(),
		RuleID:        ruleID,
		Version:       1,
		ConditionTree: json.RawMessage(tree),
		Priority:      priority,
		Action:        domain.ActionDecline,
		Status:        domain.StatusApproved,
		CreatedBy:     "maker-1",
		CreatedAt:     now,
		ApprovedBy:    "checker-1",
		ApprovedAt:    &now,
	}
	require.NoError(t, st.CreateRuleVersion(ctx, version))
	return version
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now().UTC()

	seedField(t, st, "amount", 8, domain.DataTypeNumber,
		[]domain.Operator{domain.OpEQ, domain.OpGT, domain.OpLT, domain.OpBetween}, true)
	seedField(t, st, "currency", 7, domain.DataTypeString,
		[]domain.Operator{domain.OpEQ, domain.OpIn}, true)

	low := seedApprovedRule(t, st, domain.RuleTypeAuth, 50,
		`{"field":"currency","op":"EQ","value":"USD"}`)
	high := seedApprovedRule(t, st, domain.RuleTypeAuth, 100,
		`{"field":"amount","op":"GT","value":10000}`)

	ruleset := &domain.Ruleset{
		RulesetID:   ids.NewString(),
		Environment: "prod",
		Region:      "us",
		Country:     "US",
		RuleType:    domain.RuleTypeAuth,
		Name:        "US auth rules",
		CreatedBy:   "maker-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateRuleset(ctx, ruleset))

	version := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        ruleset.RulesetID,
		Version:          1,
		Status:           domain.StatusApproved,
		RuleVersionIDs:   []string{low.RuleVersionID, high.RuleVersionID},
		CreatedBy:        "maker-1",
		CreatedAt:        now,
	}
	require.NoError(t, st.CreateRulesetVersion(ctx, version))

	return &fixture{st: st, ruleset: ruleset, version: version, members: []*domain.RuleVersion{low, high}}
}

func TestCompileBuildsOrderedArtifact(t *testing.T) {
	f := newFixture(t)
	c := New(nil)

	res, err := c.Compile(context.Background(), f.st, f.st, f.version.RulesetVersionID)
	require.NoError(t, err)

	assert.Regexp(t, canonicaljson.ChecksumPattern, res.Checksum)
	assert.Equal(t, canonicaljson.Checksum(res.Artifact), res.Checksum)

	var ast struct {
		RulesetID             string `json:"rulesetId"`
		Version               int    `json:"version"`
		RuleType              string `json:"ruleType"`
		Evaluation            struct {
			Mode string `json:"mode"`
		} `json:"evaluation"`
		VelocityFailurePolicy string `json:"velocityFailurePolicy"`
		Rules                 []struct {
			RuleID        string         `json:"ruleId"`
			RuleVersionID string         `json:"ruleVersionId"`
			Priority      int            `json:"priority"`
			When          map[string]any `json:"when"`
			Action        string         `json:"action"`
			Scope         map[string]any `json:"scope"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(res.Artifact, &ast))

	assert.Equal(t, f.ruleset.RulesetID, ast.RulesetID)
	assert.Equal(t, 1, ast.Version)
	assert.Equal(t, "AUTH", ast.RuleType)
	assert.Equal(t, "FIRST_MATCH", ast.Evaluation.Mode)
	assert.Equal(t, "SKIP", ast.VelocityFailurePolicy)

	require.Len(t, ast.Rules, 2)
	assert.Equal(t, 100, ast.Rules[0].Priority, "higher priority compiles first")
	assert.Equal(t, 50, ast.Rules[1].Priority)
	assert.NotNil(t, ast.Rules[0].When["field"])
	assert.NotNil(t, ast.Rules[0].Scope)
}

func TestCompileIsDeterministic(t *testing.T) {
	f := newFixture(t)
	c := New(nil)
	ctx := context.Background()

	first, err := c.Compile(ctx, f.st, f.st, f.version.RulesetVersionID)
	require.NoError(t, err)
	second, err := c.Compile(ctx, f.st, f.st, f.version.RulesetVersionID)
	require.NoError(t, err)

	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestCompilePriorityTieBreaksOnRuleID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two more members at the same priority. UUIDv7 rule ids are
	// time-ordered, so creation order equals the expected compile order.
	a := seedApprovedRule(t, f.st, domain.RuleTypeAuth, 70,
		`{"field":"currency","op":"EQ","value":"EUR"}`)
	b := seedApprovedRule(t, f.st, domain.RuleTypeAuth, 70,
		`{"field":"currency","op":"EQ","value":"GBP"}`)

	version := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        f.ruleset.RulesetID,
		Version:          2,
		Status:           domain.StatusApproved,
		RuleVersionIDs:   []string{b.RuleVersionID, a.RuleVersionID},
		CreatedBy:        "maker-1",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.st.CreateRulesetVersion(ctx, version))

	res, err := New(nil).Compile(ctx, f.st, f.st, version.RulesetVersionID)
	require.NoError(t, err)

	var ast struct {
		Rules []struct {
			RuleID string `json:"ruleId"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(res.Artifact, &ast))
	require.Len(t, ast.Rules, 2)
	assert.Equal(t, a.RuleID, ast.Rules[0].RuleID)
	assert.Equal(t, b.RuleID, ast.Rules[1].RuleID)
}

func TestCompileRejectsDraftVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        f.ruleset.RulesetID,
		Version:          2,
		Status:           domain.StatusDraft,
		RuleVersionIDs:   []string{f.members[0].RuleVersionID},
		CreatedBy:        "maker-1",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.st.CreateRulesetVersion(ctx, draft))

	_, err := New(nil).Compile(ctx, f.st, f.st, draft.RulesetVersionID)
	assert.True(t, domain.IsKind(err, domain.KindInvalidState), "got %v", err)
}

func TestCompilePendingOnlyDuringApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        f.ruleset.RulesetID,
		Version:          2,
		Status:           domain.StatusPendingApproval,
		RuleVersionIDs:   []string{f.members[0].RuleVersionID},
		CreatedBy:        "maker-1",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.st.CreateRulesetVersion(ctx, pending))

	c := New(nil)
	_, err := c.Compile(ctx, f.st, f.st, pending.RulesetVersionID)
	assert.True(t, domain.IsKind(err, domain.KindInvalidState), "got %v", err)

	_, err = c.CompileForApproval(ctx, f.st, f.st, pending.RulesetVersionID)
	assert.NoError(t, err)
}

func TestCompileRejectsUnapprovedMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	draftMember := &domain.RuleVersion{
		RuleVersionID: ids.NewString(),
		RuleID:        f.members[0].RuleID,
		Version:       2,
		ConditionTree: json.RawMessage(`{"field":"currency","op":"EQ","value":"USD"}`),
		Priority:      10,
		Action:        domain.ActionDecline,
		Status:        domain.StatusDraft,
		CreatedBy:     "maker-1",
		CreatedAt:     now,
	}
	require.NoError(t, f.st.CreateRuleVersion(ctx, draftMember))

	version := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        f.ruleset.RulesetID,
		Version:          2,
		Status:           domain.StatusApproved,
		RuleVersionIDs:   []string{draftMember.RuleVersionID},
		CreatedBy:        "maker-1",
		CreatedAt:        now,
	}
	require.NoError(t, f.st.CreateRulesetVersion(ctx, version))

	_, err := New(nil).Compile(ctx, f.st, f.st, version.RulesetVersionID)
	require.True(t, domain.IsKind(err, domain.KindInvalidState), "got %v", err)
}

func TestCompileConditionFailureCarriesDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := seedApprovedRule(t, f.st, domain.RuleTypeAuth, 5,
		`{"field":"no_such_field","op":"EQ","value":"x"}`)

	version := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        f.ruleset.RulesetID,
		Version:          2,
		Status:           domain.StatusApproved,
		RuleVersionIDs:   []string{bad.RuleVersionID},
		CreatedBy:        "maker-1",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.st.CreateRulesetVersion(ctx, version))

	_, err := New(nil).Compile(ctx, f.st, f.st, version.RulesetVersionID)
	require.True(t, domain.IsKind(err, domain.KindCompilation), "got %v", err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, version.RulesetVersionID, de.Details["ruleset_version_id"])
	assert.Equal(t, bad.RuleVersionID, de.Details["rule_version_id"])
	assert.Equal(t, bad.RuleID, de.Details["rule_id"])
	assert.NotEmpty(t, de.Details["reason"])
}

func TestCompileEmptyMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := &domain.RulesetVersion{
		RulesetVersionID: ids.NewString(),
		RulesetID:        f.ruleset.RulesetID,
		Version:          2,
		Status:           domain.StatusApproved,
		RuleVersionIDs:   nil,
		CreatedBy:        "maker-1",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, f.st.CreateRulesetVersion(ctx, empty))

	res, err := New(nil).Compile(ctx, f.st, f.st, empty.RulesetVersionID)
	require.NoError(t, err)
	assert.Contains(t, string(res.Artifact), `"rules":[]`)
}
