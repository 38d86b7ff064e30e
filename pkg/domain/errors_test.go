package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfTypedError(t *testing.T) {
	err := Validationf("priority %d out of range", 5000)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsKind(err, KindConflict))
}

func TestKindOfWrappedError(t *testing.T) {
	inner := NotFoundf("rule %s not found", "r-1")
	wrapped := fmt.Errorf("loading members: %w", inner)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindOfUnknownErrorIsUnavailable(t *testing.T) {
	assert.Equal(t, KindUnavailable, KindOf(errors.New("connection reset")))
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("unique constraint violated")
	err := Integrityf("manifest insert failed").WithCause(cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "IntegrityError")
	assert.Contains(t, err.Error(), "unique constraint violated")
}

func TestWithDetailAccumulates(t *testing.T) {
	err := Compilationf("condition tree invalid").
		WithDetail("rule_version_id", "rv-1").
		WithDetail("path", "$.and[0]")
	assert.Equal(t, "rv-1", err.Details["rule_version_id"])
	assert.Equal(t, "$.and[0]", err.Details["path"])
}

func TestEvaluationModeMapping(t *testing.T) {
	assert.Equal(t, EvaluationFirstMatch, EvaluationModeFor(RuleTypeAuth))
	assert.Equal(t, EvaluationFirstMatch, EvaluationModeFor(RuleTypeAllowlist))
	assert.Equal(t, EvaluationFirstMatch, EvaluationModeFor(RuleTypeBlocklist))
	assert.Equal(t, EvaluationAllMatching, EvaluationModeFor(RuleTypeMonitoring))
}

func TestRulesetKeyMapping(t *testing.T) {
	key, err := RulesetKeyFor(RuleTypeAuth)
	require.NoError(t, err)
	assert.Equal(t, "CARD_AUTH", key)

	key, err = RulesetKeyFor(RuleTypeMonitoring)
	require.NoError(t, err)
	assert.Equal(t, "CARD_MONITORING", key)

	_, err = RulesetKeyFor(RuleTypeAllowlist)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
}

func TestDefaultActions(t *testing.T) {
	assert.Equal(t, ActionApprove, DefaultActionFor(RuleTypeAllowlist))
	assert.Equal(t, ActionDecline, DefaultActionFor(RuleTypeBlocklist))
	assert.Equal(t, ActionDecline, DefaultActionFor(RuleTypeAuth))
	assert.Equal(t, ActionReview, DefaultActionFor(RuleTypeMonitoring))
}

func TestParseOperatorNotContains(t *testing.T) {
	op, err := ParseOperator("NOT_CONTAINS")
	require.NoError(t, err)
	assert.Equal(t, OpNotContains, op)

	_, err = ParseOperator("LIKE")
	require.Error(t, err)
}

func TestOperatorMultiValue(t *testing.T) {
	assert.True(t, OpIn.MultiValue())
	assert.True(t, OpBetween.MultiValue())
	assert.False(t, OpEQ.MultiValue())
	assert.False(t, OpRegex.MultiValue())
}
