package catalog

import "github.com/cardshield/rulegov/pkg/domain"

// Standard fields occupy ids 1..26 and are seeded on initialization.
// Their field_key, field_id, and data_type are immutable; custom fields
// start at id 27.

var stringOps = []domain.Operator{
	domain.OpEQ, domain.OpNE, domain.OpIn, domain.OpNotIn,
	domain.OpContains, domain.OpNotContains,
	domain.OpStartsWith, domain.OpEndsWith, domain.OpRegex,
}

var identifierOps = []domain.Operator{
	domain.OpEQ, domain.OpNE, domain.OpIn, domain.OpNotIn,
}

var numberOps = []domain.Operator{
	domain.OpEQ, domain.OpNE, domain.OpGT, domain.OpGTE,
	domain.OpLT, domain.OpLTE, domain.OpBetween,
	domain.OpIn, domain.OpNotIn,
}

var dateOps = []domain.Operator{
	domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE, domain.OpBetween,
}

var enumOps = []domain.Operator{
	domain.OpEQ, domain.OpNE, domain.OpIn, domain.OpNotIn,
}

// StandardField is the seed definition of one reserved field.
type StandardField struct {
	FieldID           int
	FieldKey          string
	DisplayName       string
	DataType          domain.DataType
	AllowedOperators  []domain.Operator
	MultiValueAllowed bool
	IsSensitive       bool
	EnumValues        []string
}

// StandardFields lists the reserved catalog in field_id order.
var StandardFields = []StandardField{
	{1, "transaction_id", "Transaction ID", domain.DataTypeString, identifierOps, true, false, nil},
	{2, "transaction_timestamp", "Transaction Timestamp", domain.DataTypeDate, dateOps, true, false, nil},
	{3, "amount", "Transaction Amount", domain.DataTypeNumber, numberOps, true, false, nil},
	{4, "currency", "Currency Code", domain.DataTypeString, identifierOps, true, false, nil},
	{5, "mcc", "Merchant Category Code", domain.DataTypeString, identifierOps, true, false, nil},
	{6, "merchant_id", "Merchant ID", domain.DataTypeString, identifierOps, true, false, nil},
	{7, "merchant_name", "Merchant Name", domain.DataTypeString, stringOps, true, false, nil},
	{8, "merchant_country", "Merchant Country", domain.DataTypeString, identifierOps, true, false, nil},
	{9, "merchant_city", "Merchant City", domain.DataTypeString, stringOps, true, false, nil},
	{10, "card_bin", "Card BIN", domain.DataTypeString, identifierOps, true, true, nil},
	{11, "card_last4", "Card Last Four", domain.DataTypeString, identifierOps, true, true, nil},
	{12, "card_network", "Card Network", domain.DataTypeEnum, enumOps, true, false,
		[]string{"VISA", "MASTERCARD", "AMEX", "DISCOVER", "RUPAY"}},
	{13, "card_type", "Card Type", domain.DataTypeEnum, enumOps, true, false,
		[]string{"CREDIT", "DEBIT", "PREPAID"}},
	{14, "card_issuer_country", "Card Issuer Country", domain.DataTypeString, identifierOps, true, false, nil},
	{15, "billing_address_line1", "Billing Address Line 1", domain.DataTypeString, stringOps, false, true, nil},
	{16, "billing_city", "Billing City", domain.DataTypeString, stringOps, true, false, nil},
	{17, "billing_state", "Billing State", domain.DataTypeString, identifierOps, true, false, nil},
	{18, "billing_postal_code", "Billing Postal Code", domain.DataTypeString, identifierOps, true, false, nil},
	{19, "billing_country", "Billing Country", domain.DataTypeString, identifierOps, true, false, nil},
	{20, "shipping_city", "Shipping City", domain.DataTypeString, stringOps, true, false, nil},
	{21, "shipping_postal_code", "Shipping Postal Code", domain.DataTypeString, identifierOps, true, false, nil},
	{22, "shipping_country", "Shipping Country", domain.DataTypeString, identifierOps, true, false, nil},
	{23, "device_fingerprint", "Device Fingerprint", domain.DataTypeString, identifierOps, true, true, nil},
	{24, "device_ip", "Device IP Address", domain.DataTypeString, identifierOps, true, true, nil},
	{25, "pos_entry_mode", "POS Entry Mode", domain.DataTypeEnum, enumOps, true, false,
		[]string{"CHIP", "SWIPE", "CONTACTLESS", "ECOMMERCE", "MANUAL"}},
	{26, "is_recurring", "Is Recurring", domain.DataTypeBoolean,
		[]domain.Operator{domain.OpEQ}, false, false, nil},
}
