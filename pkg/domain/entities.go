package domain

import (
	"encoding/json"
	"time"
)

// Identifiers are time-ordered UUIDv7 values in canonical string form.
// Lexicographic order on the string equals creation order, which keyset
// pagination and compiler tie-breaking depend on.

// RuleField is the identity row of a field the condition-tree validator
// recognizes. field_key is the immutable primary key; field_id is a small
// monotonic integer carried into published field registries.
type RuleField struct {
	FieldKey          string     `json:"field_key"`
	FieldID           int        `json:"field_id"`
	DisplayName       string     `json:"display_name"`
	Description       string     `json:"description"`
	DataType          DataType   `json:"data_type"`
	AllowedOperators  []Operator `json:"allowed_operators"`
	MultiValueAllowed bool       `json:"multi_value_allowed"`
	IsSensitive       bool       `json:"is_sensitive"`
	IsActive          bool       `json:"is_active"`
	CurrentVersion    int        `json:"current_version"`
	RowVersion        int        `json:"row_version"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// RuleFieldVersion is an immutable snapshot of a RuleField taken through
// the approval workflow. (FieldKey, Version) is unique.
type RuleFieldVersion struct {
	FieldVersionID    string       `json:"field_version_id"`
	FieldKey          string       `json:"field_key"`
	Version           int          `json:"version"`
	DisplayName       string       `json:"display_name"`
	Description       string       `json:"description"`
	DataType          DataType     `json:"data_type"`
	AllowedOperators  []Operator   `json:"allowed_operators"`
	MultiValueAllowed bool         `json:"multi_value_allowed"`
	IsSensitive       bool         `json:"is_sensitive"`
	EnumValues        []string     `json:"enum_values,omitempty"`
	Status            EntityStatus `json:"status"`
	CreatedBy         string       `json:"created_by"`
	CreatedAt         time.Time    `json:"created_at"`
	ApprovedBy        string       `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time   `json:"approved_at,omitempty"`
}

// RuleFieldMetadata is extensible per-field data keyed by (FieldKey,
// MetaKey): UI hints, velocity parameters, validation rules.
type RuleFieldMetadata struct {
	FieldKey    string          `json:"field_key"`
	MetaKey     string          `json:"meta_key"`
	MetaValue   json.RawMessage `json:"meta_value"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FieldRegistryManifest records one published snapshot of the approved
// field catalog.
type FieldRegistryManifest struct {
	RegistryVersion int       `json:"registry_version"`
	ArtifactURI     string    `json:"artifact_uri"`
	Checksum        string    `json:"checksum"`
	FieldCount      int       `json:"field_count"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// FieldMeta is the validator-facing view of one active field, keyed by
// field_key in the active catalog.
type FieldMeta struct {
	FieldKey          string     `json:"field_key"`
	FieldID           int        `json:"field_id"`
	DataType          DataType   `json:"data_type"`
	AllowedOperators  []Operator `json:"allowed_operators"`
	MultiValueAllowed bool       `json:"multi_value_allowed"`
	EnumValues        []string   `json:"enum_values,omitempty"`
	IsActive          bool       `json:"is_active"`
}

// AllowsOperator reports whether op is in the field's allowed set.
func (m FieldMeta) AllowsOperator(op Operator) bool {
	for _, allowed := range m.AllowedOperators {
		if allowed == op {
			return true
		}
	}
	return false
}

// Rule is the identity row of a fraud rule. Content lives on RuleVersion
// snapshots; the identity tracks the current version and status.
type Rule struct {
	RuleID         string       `json:"rule_id"`
	RuleName       string       `json:"rule_name"`
	Description    string       `json:"description"`
	RuleType       RuleType     `json:"rule_type"`
	Status         EntityStatus `json:"status"`
	CurrentVersion int          `json:"current_version"`
	RowVersion     int          `json:"row_version"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RuleVersion is an immutable rule snapshot. ConditionTree holds the raw
// predicate document; parse it with the condition package. Scope maps
// dimension names to permitted values; empty means universal.
type RuleVersion struct {
	RuleVersionID string              `json:"rule_version_id"`
	RuleID        string              `json:"rule_id"`
	Version       int                 `json:"version"`
	ConditionTree json.RawMessage     `json:"condition_tree"`
	Scope         map[string][]string `json:"scope"`
	Priority      int                 `json:"priority"`
	Action        RuleAction          `json:"action"`
	Status        EntityStatus        `json:"status"`
	CreatedBy     string              `json:"created_by"`
	CreatedAt     time.Time           `json:"created_at"`
	ApprovedBy    string              `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time          `json:"approved_at,omitempty"`
}

// Ruleset is the identity row of a deployable rule collection, unique per
// (Environment, Region, Country, RuleType). The natural key is immutable
// after creation; name and description are not.
type Ruleset struct {
	RulesetID   string    `json:"ruleset_id"`
	Environment string    `json:"environment"`
	Region      string    `json:"region"`
	Country     string    `json:"country"`
	RuleType    RuleType  `json:"rule_type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	RowVersion  int       `json:"row_version"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RulesetVersion is an immutable membership snapshot of rule versions.
// RuleVersionIDs carries the snapshot-bound membership in creation order;
// compile order is derived from the members, not from this slice.
type RulesetVersion struct {
	RulesetVersionID string       `json:"ruleset_version_id"`
	RulesetID        string       `json:"ruleset_id"`
	Version          int          `json:"version"`
	Status           EntityStatus `json:"status"`
	RuleVersionIDs   []string     `json:"rule_version_ids"`
	CreatedBy        string       `json:"created_by"`
	CreatedAt        time.Time    `json:"created_at"`
	ApprovedBy       string       `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time   `json:"approved_at,omitempty"`
	ActivatedAt      *time.Time   `json:"activated_at,omitempty"`
}

// Approval is one maker-checker workflow row. IdempotencyKey, when set, is
// unique per (EntityType, EntityID) and makes submit retries return the
// original row.
type Approval struct {
	ApprovalID     string             `json:"approval_id"`
	EntityType     ApprovalEntityType `json:"entity_type"`
	EntityID       string             `json:"entity_id"`
	Action         ApprovalAction     `json:"action"`
	Status         ApprovalStatus     `json:"status"`
	Maker          string             `json:"maker"`
	Checker        string             `json:"checker,omitempty"`
	Remarks        string             `json:"remarks,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	DecidedAt      *time.Time         `json:"decided_at,omitempty"`
}

// AuditEntry is one append-only record of a state change. OldValue and
// NewValue are full JSON snapshots (nil for the absent side of a create or
// delete).
type AuditEntry struct {
	AuditID     string          `json:"audit_id"`
	EntityType  AuditEntityType `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Action      string          `json:"action"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	PerformedBy string          `json:"performed_by"`
	PerformedAt time.Time       `json:"performed_at"`
}

// RulesetManifest is the governance record of one published artifact. It is
// the source of truth linking a ruleset version to its object-storage
// artifact and checksum.
type RulesetManifest struct {
	ManifestID           string    `json:"manifest_id"`
	Environment          string    `json:"environment"`
	Region               string    `json:"region"`
	Country              string    `json:"country"`
	RuleType             RuleType  `json:"rule_type"`
	RulesetVersion       int       `json:"ruleset_version"`
	RulesetVersionID     string    `json:"ruleset_version_id"`
	FieldRegistryVersion *int      `json:"field_registry_version,omitempty"`
	ArtifactURI          string    `json:"artifact_uri"`
	Checksum             string    `json:"checksum"`
	CreatedBy            string    `json:"created_by"`
	CreatedAt            time.Time `json:"created_at"`
}
