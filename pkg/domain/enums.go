package domain

import "fmt"

// RuleType classifies a rule and, by extension, the ruleset that carries it.
type RuleType string

const (
	RuleTypeAllowlist  RuleType = "ALLOWLIST"
	RuleTypeBlocklist  RuleType = "BLOCKLIST"
	RuleTypeAuth       RuleType = "AUTH"
	RuleTypeMonitoring RuleType = "MONITORING"
)

// Valid reports whether t is a member of the closed rule-type set.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeAllowlist, RuleTypeBlocklist, RuleTypeAuth, RuleTypeMonitoring:
		return true
	}
	return false
}

// EvaluationMode is the runtime evaluation strategy compiled into artifacts.
type EvaluationMode string

const (
	EvaluationFirstMatch  EvaluationMode = "FIRST_MATCH"
	EvaluationAllMatching EvaluationMode = "ALL_MATCHING"
)

// EvaluationModeFor maps a rule type to its evaluation mode. The mapping is
// locked as part of the artifact contract.
func EvaluationModeFor(t RuleType) EvaluationMode {
	if t == RuleTypeMonitoring {
		return EvaluationAllMatching
	}
	return EvaluationFirstMatch
}

// RulesetKeyFor maps a publishable rule type to its runtime ruleset key.
// ALLOWLIST and BLOCKLIST rulesets are governance-only and have no key.
func RulesetKeyFor(t RuleType) (string, error) {
	switch t {
	case RuleTypeAuth:
		return "CARD_AUTH", nil
	case RuleTypeMonitoring:
		return "CARD_MONITORING", nil
	}
	return "", Validationf("rule type %s is not publishable", t)
}

// RuleAction is the verdict a matched rule yields at runtime.
type RuleAction string

const (
	ActionApprove RuleAction = "APPROVE"
	ActionDecline RuleAction = "DECLINE"
	ActionReview  RuleAction = "REVIEW"
)

func (a RuleAction) Valid() bool {
	switch a {
	case ActionApprove, ActionDecline, ActionReview:
		return true
	}
	return false
}

// DefaultActionFor returns the action a new rule of the given type starts
// with when the maker does not choose one.
func DefaultActionFor(t RuleType) RuleAction {
	switch t {
	case RuleTypeAllowlist:
		return ActionApprove
	case RuleTypeMonitoring:
		return ActionReview
	default:
		return ActionDecline
	}
}

// EntityStatus is the shared lifecycle for versioned entities. ACTIVE is
// reachable only by ruleset versions.
type EntityStatus string

const (
	StatusDraft           EntityStatus = "DRAFT"
	StatusPendingApproval EntityStatus = "PENDING_APPROVAL"
	StatusApproved        EntityStatus = "APPROVED"
	StatusRejected        EntityStatus = "REJECTED"
	StatusActive          EntityStatus = "ACTIVE"
	StatusSuperseded      EntityStatus = "SUPERSEDED"
)

// ApprovalEntityType names the kind of versioned entity an approval targets.
type ApprovalEntityType string

const (
	EntityRuleVersion    ApprovalEntityType = "RULE_VERSION"
	EntityRulesetVersion ApprovalEntityType = "RULESET_VERSION"
	EntityFieldVersion   ApprovalEntityType = "FIELD_VERSION"
)

// ApprovalAction is the workflow verb recorded on an approval row.
type ApprovalAction string

const (
	ApprovalActionSubmit  ApprovalAction = "SUBMIT"
	ApprovalActionApprove ApprovalAction = "APPROVE"
	ApprovalActionReject  ApprovalAction = "REJECT"
)

// ApprovalStatus is the decision state of an approval row.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// DataType is the value domain of a rule field.
type DataType string

const (
	DataTypeString  DataType = "STRING"
	DataTypeNumber  DataType = "NUMBER"
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeDate    DataType = "DATE"
	DataTypeEnum    DataType = "ENUM"
)

func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeDate, DataTypeEnum:
		return true
	}
	return false
}

// Operator is a comparison operator permitted in condition-tree leaves.
// The set is closed; artifacts and stored trees use these literals.
type Operator string

const (
	OpEQ          Operator = "EQ"
	OpNE          Operator = "NE"
	OpGT          Operator = "GT"
	OpGTE         Operator = "GTE"
	OpLT          Operator = "LT"
	OpLTE         Operator = "LTE"
	OpIn          Operator = "IN"
	OpNotIn       Operator = "NOT_IN"
	OpBetween     Operator = "BETWEEN"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT_CONTAINS"
	OpStartsWith  Operator = "STARTS_WITH"
	OpEndsWith    Operator = "ENDS_WITH"
	OpRegex       Operator = "REGEX"
)

// AllOperators lists every operator in declaration order.
var AllOperators = []Operator{
	OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE,
	OpIn, OpNotIn, OpBetween,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex,
}

// ParseOperator validates and converts a wire literal.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	for _, known := range AllOperators {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Valid reports whether o is one of the closed operator set.
func (o Operator) Valid() bool {
	for _, known := range AllOperators {
		if o == known {
			return true
		}
	}
	return false
}

// MultiValue reports whether the operator takes a list-shaped value.
func (o Operator) MultiValue() bool {
	return o == OpIn || o == OpNotIn || o == OpBetween
}

// AuditEntityType names the entity class an audit entry describes.
type AuditEntityType string

const (
	AuditEntityRule           AuditEntityType = "RULE"
	AuditEntityRuleVersion    AuditEntityType = "RULE_VERSION"
	AuditEntityRuleset        AuditEntityType = "RULESET"
	AuditEntityRulesetVersion AuditEntityType = "RULESET_VERSION"
	AuditEntityField          AuditEntityType = "FIELD"
	AuditEntityFieldVersion   AuditEntityType = "FIELD_VERSION"
	AuditEntityManifest       AuditEntityType = "MANIFEST"
	AuditEntityFieldRegistry  AuditEntityType = "FIELD_REGISTRY"
)
