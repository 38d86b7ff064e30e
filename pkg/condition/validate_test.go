package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardshield/rulegov/pkg/domain"
)

func testCatalog() map[string]domain.FieldMeta {
	return map[string]domain.FieldMeta{
		"amount": {
			FieldKey: "amount", FieldID: 3, DataType: domain.DataTypeNumber,
			AllowedOperators: []domain.Operator{
				domain.OpEQ, domain.OpNE, domain.OpGT, domain.OpGTE,
				domain.OpLT, domain.OpLTE, domain.OpBetween,
			},
			MultiValueAllowed: true, IsActive: true,
		},
		"currency": {
			FieldKey: "currency", FieldID: 4, DataType: domain.DataTypeString,
			AllowedOperators:  []domain.Operator{domain.OpEQ, domain.OpNE, domain.OpIn},
			MultiValueAllowed: true, IsActive: true,
		},
		"merchant_name": {
			FieldKey: "merchant_name", FieldID: 7, DataType: domain.DataTypeString,
			AllowedOperators: []domain.Operator{
				domain.OpContains, domain.OpStartsWith, domain.OpRegex,
			},
			IsActive: true,
		},
		"card_network": {
			FieldKey: "card_network", FieldID: 12, DataType: domain.DataTypeEnum,
			AllowedOperators:  []domain.Operator{domain.OpEQ, domain.OpIn},
			MultiValueAllowed: true,
			EnumValues:        []string{"VISA", "MASTERCARD", "AMEX", "DISCOVER", "RUPAY"},
			IsActive:          true,
		},
		"is_recurring": {
			FieldKey: "is_recurring", FieldID: 26, DataType: domain.DataTypeBoolean,
			AllowedOperators: []domain.Operator{domain.OpEQ},
			IsActive:         true,
		},
		"transaction_timestamp": {
			FieldKey: "transaction_timestamp", FieldID: 2, DataType: domain.DataTypeDate,
			AllowedOperators:  []domain.Operator{domain.OpGT, domain.OpLT, domain.OpBetween},
			MultiValueAllowed: true, IsActive: true,
		},
		"retired_field": {
			FieldKey: "retired_field", FieldID: 99, DataType: domain.DataTypeString,
			AllowedOperators: []domain.Operator{domain.OpEQ},
			IsActive:         false,
		},
	}
}

func mustParse(t *testing.T, raw string) *Node {
	t.Helper()
	n, err := Parse([]byte(raw))
	require.NoError(t, err)
	return n
}

func requireValidationAt(t *testing.T, err error, path string) *domain.Error {
	t.Helper()
	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindValidation, de.Kind)
	assert.Equal(t, path, de.Details["path"])
	return de
}

func TestValidateHappyPath(t *testing.T) {
	n := mustParse(t, `{"and":[
		{"field":"amount","op":"GT","value":3000},
		{"field":"currency","op":"IN","value":["INR","USD"]},
		{"not":{"field":"is_recurring","op":"EQ","value":true}}
	]}`)
	require.NoError(t, Validate(n, testCatalog()))
}

func TestValidateUnknownField(t *testing.T) {
	n := mustParse(t, `{"field":"velocity_1h","op":"GT","value":5}`)
	de := requireValidationAt(t, Validate(n, testCatalog()), "$")
	assert.Equal(t, "velocity_1h", de.Details["field_key"])
}

func TestValidateInactiveField(t *testing.T) {
	n := mustParse(t, `{"and":[{"field":"retired_field","op":"EQ","value":"x"}]}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$.and[0]")
}

func TestValidateDisallowedOperator(t *testing.T) {
	n := mustParse(t, `{"field":"currency","op":"GT","value":"USD"}`)
	de := requireValidationAt(t, Validate(n, testCatalog()), "$")
	assert.Equal(t, "GT", de.Details["operator"])
}

func TestValidateTypeMismatch(t *testing.T) {
	n := mustParse(t, `{"field":"amount","op":"GT","value":"3000"}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$")
}

func TestValidateBooleanValue(t *testing.T) {
	n := mustParse(t, `{"field":"is_recurring","op":"EQ","value":"yes"}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$")
}

func TestValidateDateValue(t *testing.T) {
	ok := mustParse(t, `{"field":"transaction_timestamp","op":"GT","value":"2026-01-01T00:00:00Z"}`)
	require.NoError(t, Validate(ok, testCatalog()))

	bad := mustParse(t, `{"field":"transaction_timestamp","op":"GT","value":"yesterday"}`)
	requireValidationAt(t, Validate(bad, testCatalog()), "$")
}

func TestValidateEnumMembership(t *testing.T) {
	ok := mustParse(t, `{"field":"card_network","op":"EQ","value":"RUPAY"}`)
	require.NoError(t, Validate(ok, testCatalog()))

	bad := mustParse(t, `{"field":"card_network","op":"EQ","value":"DINERS"}`)
	requireValidationAt(t, Validate(bad, testCatalog()), "$")
}

func TestValidateInRequiresMultiValueField(t *testing.T) {
	n := mustParse(t, `{"field":"merchant_name","op":"CONTAINS","value":"casino"}`)
	require.NoError(t, Validate(n, testCatalog()))

	// is_recurring is single-value; IN is also not in its allowed set, so
	// build against card_network with multi_value stripped.
	catalog := testCatalog()
	meta := catalog["card_network"]
	meta.MultiValueAllowed = false
	catalog["card_network"] = meta

	bad := mustParse(t, `{"field":"card_network","op":"IN","value":["VISA"]}`)
	requireValidationAt(t, Validate(bad, catalog), "$")
}

func TestValidateInRejectsEmptyList(t *testing.T) {
	n := &Node{Leaf: &Leaf{Field: "currency", Op: domain.OpIn, Value: []any{}}}
	requireValidationAt(t, Validate(n, testCatalog()), "$")
}

func TestValidateInElementTypeChecked(t *testing.T) {
	n := mustParse(t, `{"field":"currency","op":"IN","value":["INR",42]}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$.value[1]")
}

func TestValidateBetweenArity(t *testing.T) {
	n := mustParse(t, `{"field":"amount","op":"BETWEEN","value":[1,2,3]}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$")
}

func TestValidateBetweenBoundsOrdered(t *testing.T) {
	ok := mustParse(t, `{"field":"amount","op":"BETWEEN","value":[100,500]}`)
	require.NoError(t, Validate(ok, testCatalog()))

	bad := mustParse(t, `{"field":"amount","op":"BETWEEN","value":[500,100]}`)
	requireValidationAt(t, Validate(bad, testCatalog()), "$")
}

func TestValidateBetweenDates(t *testing.T) {
	bad := mustParse(t, `{"field":"transaction_timestamp","op":"BETWEEN",
		"value":["2026-02-01T00:00:00Z","2026-01-01T00:00:00Z"]}`)
	requireValidationAt(t, Validate(bad, testCatalog()), "$")
}

func TestValidateScalarOperatorRejectsList(t *testing.T) {
	n := mustParse(t, `{"field":"amount","op":"GT","value":[1,2]}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$")
}

func TestValidateRegexMustCompile(t *testing.T) {
	ok := mustParse(t, `{"field":"merchant_name","op":"REGEX","value":"^CASINO.*$"}`)
	require.NoError(t, Validate(ok, testCatalog()))

	bad := mustParse(t, `{"field":"merchant_name","op":"REGEX","value":"([unclosed"}`)
	requireValidationAt(t, Validate(bad, testCatalog()), "$")
}

func TestValidateNestedPath(t *testing.T) {
	n := mustParse(t, `{"and":[
		{"field":"amount","op":"GT","value":1},
		{"or":[{"field":"nope","op":"EQ","value":"x"}]}
	]}`)
	requireValidationAt(t, Validate(n, testCatalog()), "$.and[1].or[0]")
}
