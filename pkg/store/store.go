// Package store is the persistence boundary for governance entities. One
// SQL implementation serves both Postgres and SQLite via standard drivers;
// a memory implementation backs unit tests and local tooling.
package store

import (
	"context"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

// RuleFilter narrows rule listings.
type RuleFilter struct {
	RuleType *domain.RuleType
	Status   *domain.EntityStatus
}

// RulesetFilter narrows ruleset listings. Empty strings match everything.
type RulesetFilter struct {
	Environment string
	Region      string
	Country     string
	RuleType    *domain.RuleType
}

// ApprovalFilter narrows approval listings.
type ApprovalFilter struct {
	EntityType *domain.ApprovalEntityType
	EntityID   string
	Status     *domain.ApprovalStatus
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	EntityType  *domain.AuditEntityType
	EntityID    string
	Action      string
	PerformedBy string
	Since       *time.Time
	Until       *time.Time
}

// FieldStore persists field identities, versions, metadata, and registry
// manifests.
type FieldStore interface {
	CreateField(ctx context.Context, f *domain.RuleField) error
	GetField(ctx context.Context, fieldKey string) (*domain.RuleField, error)
	// UpdateField applies f if the stored row_version equals
	// expectedRowVersion, then bumps it. Mismatch returns ConflictError.
	UpdateField(ctx context.Context, f *domain.RuleField, expectedRowVersion int) error
	ListFields(ctx context.Context, req PageRequest) (*Page[domain.RuleField], error)
	// NextFieldID returns the first unassigned field id at or above 27.
	NextFieldID(ctx context.Context) (int, error)

	CreateFieldVersion(ctx context.Context, v *domain.RuleFieldVersion) error
	GetFieldVersion(ctx context.Context, fieldVersionID string) (*domain.RuleFieldVersion, error)
	UpdateFieldVersionStatus(ctx context.Context, fieldVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error
	SupersedeApprovedFieldVersions(ctx context.Context, fieldKey, exceptVersionID string) error
	ListApprovedFieldVersions(ctx context.Context) ([]domain.RuleFieldVersion, error)

	// ActiveCatalog returns the validator view of every active field with
	// an APPROVED snapshot.
	ActiveCatalog(ctx context.Context) (map[string]domain.FieldMeta, error)

	UpsertFieldMetadata(ctx context.Context, m *domain.RuleFieldMetadata) error
	ListFieldMetadata(ctx context.Context, fieldKey string) ([]domain.RuleFieldMetadata, error)

	InsertFieldRegistryManifest(ctx context.Context, m *domain.FieldRegistryManifest) error
	// LatestFieldRegistryVersion returns 0 when no registry was published.
	LatestFieldRegistryVersion(ctx context.Context) (int, error)
}

// RuleStore persists rule identities and immutable versions.
type RuleStore interface {
	CreateRule(ctx context.Context, r *domain.Rule) error
	GetRule(ctx context.Context, ruleID string) (*domain.Rule, error)
	UpdateRule(ctx context.Context, r *domain.Rule, expectedRowVersion int) error
	ListRules(ctx context.Context, filter RuleFilter, req PageRequest) (*Page[domain.Rule], error)

	CreateRuleVersion(ctx context.Context, v *domain.RuleVersion) error
	GetRuleVersion(ctx context.Context, ruleVersionID string) (*domain.RuleVersion, error)
	GetRuleVersions(ctx context.Context, ruleVersionIDs []string) ([]domain.RuleVersion, error)
	ListRuleVersions(ctx context.Context, ruleID string, status *domain.EntityStatus, req PageRequest) (*Page[domain.RuleVersion], error)
	// NextRuleVersionNumber assigns version integers under the identity
	// row lock so concurrent creators never collide.
	NextRuleVersionNumber(ctx context.Context, ruleID string) (int, error)
	UpdateRuleVersionStatus(ctx context.Context, ruleVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error
	SupersedeApprovedRuleVersions(ctx context.Context, ruleID, exceptVersionID string) error
}

// RulesetStore persists ruleset identities, versions, and snapshot-bound
// membership.
type RulesetStore interface {
	CreateRuleset(ctx context.Context, rs *domain.Ruleset) error
	GetRuleset(ctx context.Context, rulesetID string) (*domain.Ruleset, error)
	GetRulesetByNaturalKey(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*domain.Ruleset, error)
	// UpdateRuleset applies the mutable columns if the stored row_version
	// equals expectedRowVersion, then bumps it. Mismatch returns
	// ConflictError.
	UpdateRuleset(ctx context.Context, rs *domain.Ruleset, expectedRowVersion int) error
	ListRulesets(ctx context.Context, filter RulesetFilter, req PageRequest) (*Page[domain.Ruleset], error)

	// CreateRulesetVersion inserts the version row and its membership
	// rows. Every member's rule_type must equal the ruleset's; a mismatch
	// is a ValidationError.
	CreateRulesetVersion(ctx context.Context, v *domain.RulesetVersion) error
	GetRulesetVersion(ctx context.Context, rulesetVersionID string) (*domain.RulesetVersion, error)
	ListRulesetVersions(ctx context.Context, rulesetID string, status *domain.EntityStatus, req PageRequest) (*Page[domain.RulesetVersion], error)
	NextRulesetVersionNumber(ctx context.Context, rulesetID string) (int, error)
	UpdateRulesetVersionStatus(ctx context.Context, rulesetVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error
	SupersedeApprovedRulesetVersions(ctx context.Context, rulesetID, exceptVersionID string) error
	ActiveRulesetVersion(ctx context.Context, rulesetID string) (*domain.RulesetVersion, error)
	ActivateRulesetVersion(ctx context.Context, rulesetVersionID string, at time.Time) error
	// LockRuleset serializes competing activations and version creation
	// for one ruleset. Advisory on Postgres, a no-op elsewhere.
	LockRuleset(ctx context.Context, rulesetID string) error
}

// ApprovalStore persists maker-checker workflow rows.
type ApprovalStore interface {
	InsertApproval(ctx context.Context, a *domain.Approval) error
	GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error)
	FindApprovalByIdempotencyKey(ctx context.Context, entityType domain.ApprovalEntityType, entityID, key string) (*domain.Approval, error)
	PendingApproval(ctx context.Context, entityType domain.ApprovalEntityType, entityID string) (*domain.Approval, error)
	UpdateApprovalDecision(ctx context.Context, approvalID string, status domain.ApprovalStatus, checker, remarks string, decidedAt time.Time) error
	ListApprovals(ctx context.Context, filter ApprovalFilter, req PageRequest) (*Page[domain.Approval], error)
}

// AuditStore persists the append-only event log.
type AuditStore interface {
	InsertAudit(ctx context.Context, e *domain.AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter, req PageRequest) (*Page[domain.AuditEntry], error)
}

// ManifestStore persists publication records.
type ManifestStore interface {
	InsertManifest(ctx context.Context, m *domain.RulesetManifest) error
	GetManifestByRulesetVersionID(ctx context.Context, rulesetVersionID string) (*domain.RulesetManifest, error)
	LatestManifest(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*domain.RulesetManifest, error)
}

// Store aggregates every entity store behind one transactional boundary.
type Store interface {
	FieldStore
	RuleStore
	RulesetStore
	ApprovalStore
	AuditStore
	ManifestStore

	// WithinTx runs fn inside one database transaction. The Store passed
	// to fn operates on that transaction; any error rolls everything
	// back. Nested calls join the ambient transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
