package approval

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

func TestCreateRuleValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.engine.CreateRule(ctx, CreateRuleParams{RuleType: domain.RuleTypeAuth, By: "maker-1"})
	assert.True(t, domain.IsKind(err, domain.KindValidation), "missing name")

	_, err = e.engine.CreateRule(ctx, CreateRuleParams{Name: "r", RuleType: "SOMETHING", By: "maker-1"})
	assert.True(t, domain.IsKind(err, domain.KindValidation), "bad rule type")
}

func TestCreateRuleVersionDefaultAction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for ruleType, want := range map[domain.RuleType]domain.RuleAction{
		domain.RuleTypeAllowlist:  domain.ActionApprove,
		domain.RuleTypeBlocklist:  domain.ActionDecline,
		domain.RuleTypeAuth:       domain.ActionDecline,
		domain.RuleTypeMonitoring: domain.ActionReview,
	} {
		rule, err := e.engine.CreateRule(ctx, CreateRuleParams{
			Name: "r " + string(ruleType), RuleType: ruleType, By: "maker-1",
		})
		require.NoError(t, err)
		version, err := e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
			RuleID:        rule.RuleID,
			ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
			By:            "maker-1",
		})
		require.NoError(t, err)
		assert.Equal(t, want, version.Action, "default for %s", ruleType)
	}
}

func TestCreateRuleVersionActionCompatibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rule, err := e.engine.CreateRule(ctx, CreateRuleParams{
		Name: "allow vips", RuleType: domain.RuleTypeAllowlist, By: "maker-1",
	})
	require.NoError(t, err)

	_, err = e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
		RuleID:        rule.RuleID,
		ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
		Action:        domain.ActionDecline,
		By:            "maker-1",
	})
	require.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)
}

func TestCreateRuleVersionOptimisticLock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rule, err := e.engine.CreateRule(ctx, CreateRuleParams{Name: "r", RuleType: domain.RuleTypeAuth, By: "maker-1"})
	require.NoError(t, err)

	stale := rule.RowVersion
	_, err = e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
		RuleID:             rule.RuleID,
		ConditionTree:      json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
		ExpectedRowVersion: &stale,
		By:                 "maker-1",
	})
	require.NoError(t, err, "matching row version passes")

	_, err = e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
		RuleID:             rule.RuleID,
		ConditionTree:      json.RawMessage(`{"field":"amount","op":"GT","value":2}`),
		ExpectedRowVersion: &stale,
		By:                 "maker-1",
	})
	require.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, stale, de.Details["expected_row_version"])
}

func TestCreateRuleVersionPriorityRange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rule, err := e.engine.CreateRule(ctx, CreateRuleParams{Name: "r", RuleType: domain.RuleTypeAuth, By: "maker-1"})
	require.NoError(t, err)

	for _, priority := range []int{-5, 1001, 99999} {
		_, err := e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
			RuleID:        rule.RuleID,
			ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
			Priority:      priority,
			By:            "maker-1",
		})
		require.True(t, domain.IsKind(err, domain.KindValidation), "priority %d: got %v", priority, err)
		var de *domain.Error
		require.ErrorAs(t, err, &de)
		assert.Contains(t, de.Details, "priority")
	}

	for _, priority := range []int{1, 1000} {
		v, err := e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
			RuleID:        rule.RuleID,
			ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
			Priority:      priority,
			By:            "maker-1",
		})
		require.NoError(t, err)
		assert.Equal(t, priority, v.Priority)
	}

	v, err := e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
		RuleID:        rule.RuleID,
		ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
		By:            "maker-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, v.Priority, "unset priority takes the default")
}

func TestCreateRuleVersionRejectsInvalidCondition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rule, err := e.engine.CreateRule(ctx, CreateRuleParams{Name: "r", RuleType: domain.RuleTypeAuth, By: "maker-1"})
	require.NoError(t, err)

	_, err = e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
		RuleID:        rule.RuleID,
		ConditionTree: json.RawMessage(`{"field":"nonexistent","op":"EQ","value":"x"}`),
		By:            "maker-1",
	})
	require.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)

	page, err := e.st.ListRuleVersions(ctx, rule.RuleID, nil, store.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "nothing persisted on validation failure")
}

func TestCreateRulesetNaturalKeyConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p := CreateRulesetParams{
		Environment: "prod", Region: "india", Country: "IN",
		RuleType: domain.RuleTypeAuth, Name: "IN auth", By: "maker-1",
	}
	_, err := e.engine.CreateRuleset(ctx, p)
	require.NoError(t, err)

	_, err = e.engine.CreateRuleset(ctx, p)
	require.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
}

func TestCreateRulesetVersionRejectsMixedTypes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	authMember := e.approvedRuleVersion(t, domain.RuleTypeAuth, 10)
	monitoring, err := e.engine.CreateRule(ctx, CreateRuleParams{
		Name: "watch", RuleType: domain.RuleTypeMonitoring, By: "maker-1",
	})
	require.NoError(t, err)
	monVersion, err := e.engine.CreateRuleVersion(ctx, CreateRuleVersionParams{
		RuleID:        monitoring.RuleID,
		ConditionTree: json.RawMessage(`{"field":"amount","op":"GT","value":1}`),
		By:            "maker-1",
	})
	require.NoError(t, err)

	ruleset, err := e.engine.CreateRuleset(ctx, CreateRulesetParams{
		Environment: "prod", Region: "us", Country: "US",
		RuleType: domain.RuleTypeAuth, Name: "US auth", By: "maker-1",
	})
	require.NoError(t, err)

	_, err = e.engine.CreateRulesetVersion(ctx, ruleset.RulesetID,
		[]string{authMember.RuleVersionID, monVersion.RuleVersionID}, "maker-1")
	require.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)
}

func TestUpdateRulesetKeepsNaturalKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ruleset, err := e.engine.CreateRuleset(ctx, CreateRulesetParams{
		Environment: "prod", Region: "us", Country: "US",
		RuleType: domain.RuleTypeAuth, Name: "US auth", By: "maker-1",
	})
	require.NoError(t, err)

	updated, err := e.engine.UpdateRuleset(ctx, UpdateRulesetParams{
		RulesetID: ruleset.RulesetID, Name: "US card auth", Description: "renamed", By: "maker-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "US card auth", updated.Name)
	assert.Equal(t, "renamed", updated.Description)
	assert.Equal(t, ruleset.Environment, updated.Environment)
	assert.Equal(t, ruleset.RuleType, updated.RuleType)
	assert.Equal(t, ruleset.RowVersion+1, updated.RowVersion)

	stale := ruleset.RowVersion
	_, err = e.engine.UpdateRuleset(ctx, UpdateRulesetParams{
		RulesetID: ruleset.RulesetID, Name: "again", ExpectedRowVersion: &stale, By: "maker-2",
	})
	require.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
}

func TestCreateFieldRejectsUnknownOperator(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, _, err := e.engine.CreateField(ctx, CreateFieldParams{
		FieldKey:         "merchant_channel",
		DisplayName:      "Merchant Channel",
		DataType:         domain.DataTypeString,
		AllowedOperators: []domain.Operator{domain.OpEQ, domain.Operator("LIKE")},
		By:               "maker-1",
	})
	require.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)
}

func TestProposeFieldVersionKeepsDataType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, _, err := e.engine.CreateField(ctx, CreateFieldParams{
		FieldKey:         "risk_score",
		DisplayName:      "Risk Score",
		DataType:         domain.DataTypeNumber,
		AllowedOperators: []domain.Operator{domain.OpGT, domain.OpLT},
		By:               "maker-1",
	})
	require.NoError(t, err)

	_, err = e.engine.ProposeFieldVersion(ctx, CreateFieldParams{
		FieldKey:         "risk_score",
		DisplayName:      "Risk Score",
		DataType:         domain.DataTypeString,
		AllowedOperators: []domain.Operator{domain.OpEQ},
		By:               "maker-1",
	})
	require.True(t, domain.IsKind(err, domain.KindValidation), "data type is immutable")

	v2, err := e.engine.ProposeFieldVersion(ctx, CreateFieldParams{
		FieldKey:         "risk_score",
		DisplayName:      "Merchant Risk Score",
		AllowedOperators: []domain.Operator{domain.OpGT, domain.OpLT, domain.OpBetween},
		By:               "maker-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, domain.DataTypeNumber, v2.DataType)
}

func TestSetFieldMetadata(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.SetFieldMetadata(ctx, "amount", "ui_hint",
		json.RawMessage(`{"widget":"currency"}`), "render hint", "maker-1"))

	rows, err := e.st.ListFieldMetadata(ctx, "amount")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ui_hint", rows[0].MetaKey)

	err = e.engine.SetFieldMetadata(ctx, "no_such_field", "k", json.RawMessage(`1`), "", "maker-1")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestPublishFieldRegistryThroughEngine(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	manifest, err := e.engine.PublishFieldRegistry(ctx, "checker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.RegistryVersion)
	assert.Equal(t, 26, manifest.FieldCount)

	ok, err := e.objects.Exists(ctx, "fields/registry/v1/fields.json")
	require.NoError(t, err)
	assert.True(t, ok)
}
