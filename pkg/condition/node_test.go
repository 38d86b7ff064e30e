package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardshield/rulegov/pkg/domain"
)

func TestParseKeywordShape(t *testing.T) {
	raw := []byte(`{"and":[
		{"field":"amount","op":"GT","value":3000},
		{"not":{"field":"currency","op":"EQ","value":"USD"}}
	]}`)
	n, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, n.And, 2)
	assert.Equal(t, "amount", n.And[0].Leaf.Field)
	assert.Equal(t, domain.OpGT, n.And[0].Leaf.Op)
	assert.Equal(t, json.Number("3000"), n.And[0].Leaf.Value)
	require.NotNil(t, n.And[1].Not)
	assert.Equal(t, "currency", n.And[1].Not.Leaf.Field)
}

func TestParseTypedShape(t *testing.T) {
	raw := []byte(`{"type":"OR","conditions":[
		{"type":"CONDITION","field":"mcc","operator":"IN","value":["7995","7801"]},
		{"type":"NOT","condition":{"type":"CONDITION","field":"amount","operator":"LTE","value":100}}
	]}`)
	n, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, n.Or, 2)
	assert.Equal(t, domain.OpIn, n.Or[0].Leaf.Op)
	require.NotNil(t, n.Or[1].Not)
	assert.Equal(t, domain.OpLTE, n.Or[1].Not.Leaf.Op)
}

func TestMarshalEmitsKeywordShape(t *testing.T) {
	raw := []byte(`{"type":"AND","conditions":[
		{"type":"CONDITION","field":"amount","operator":"GT","value":3000}
	]}`)
	n, err := Parse(raw)
	require.NoError(t, err)
	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"and":[{"field":"amount","op":"GT","value":3000}]}`, string(out))
}

func TestMarshalParseRoundTrip(t *testing.T) {
	raw := []byte(`{"or":[
		{"field":"amount","op":"BETWEEN","value":[100,500]},
		{"and":[
			{"field":"currency","op":"EQ","value":"INR"},
			{"field":"is_recurring","op":"EQ","value":true}
		]}
	]}`)
	n, err := Parse(raw)
	require.NoError(t, err)
	out, err := json.Marshal(n)
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	out2, err := json.Marshal(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(out), string(out2))
}

func TestParseEmptyCompositeFails(t *testing.T) {
	_, err := Parse([]byte(`{"and":[]}`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "$.and", de.Details["path"])
}

func TestParseUnknownOperatorCarriesPath(t *testing.T) {
	_, err := Parse([]byte(`{"and":[{"field":"amount","op":"LIKE","value":1}]}`))
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "$.and[0]", de.Details["path"])
	assert.Equal(t, "amount", de.Details["field_key"])
}

func TestParseUnknownTypedKind(t *testing.T) {
	_, err := Parse([]byte(`{"type":"XOR","conditions":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XOR")
}

func TestParseMissingValue(t *testing.T) {
	_, err := Parse([]byte(`{"field":"amount","op":"GT"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value")
}

func TestParseNonObjectNode(t *testing.T) {
	_, err := Parse([]byte(`{"or":[42]}`))
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "$.or[0]", de.Details["path"])
}

func TestFieldsCollectsDistinctSorted(t *testing.T) {
	n, err := Parse([]byte(`{"and":[
		{"field":"mcc","op":"EQ","value":"7995"},
		{"or":[
			{"field":"amount","op":"GT","value":1},
			{"field":"mcc","op":"NE","value":"7801"}
		]}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "mcc"}, n.Fields())
}
