package approval

import (
	"context"
	"encoding/json"

	"github.com/cardshield/rulegov/pkg/condition"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/ids"
	"github.com/cardshield/rulegov/pkg/store"
)

// Priority bounds for rule versions. Zero on input means unset and
// takes the default.
const (
	minPriority     = 1
	maxPriority     = 1000
	defaultPriority = 100
)

// CreateRuleParams creates a rule identity.
type CreateRuleParams struct {
	Name        string
	Description string
	RuleType    domain.RuleType
	By          string
}

// CreateRule creates a rule identity in DRAFT.
func (e *Engine) CreateRule(ctx context.Context, p CreateRuleParams) (*domain.Rule, error) {
	if p.Name == "" {
		return nil, domain.Validationf("rule name is required")
	}
	if !p.RuleType.Valid() {
		return nil, domain.Validationf("invalid rule type %q", p.RuleType).WithDetail("rule_type", p.RuleType)
	}

	now := e.now().UTC()
	rule := &domain.Rule{
		RuleID:         ids.NewString(),
		RuleName:       p.Name,
		Description:    p.Description,
		RuleType:       p.RuleType,
		Status:         domain.StatusDraft,
		CurrentVersion: 1,
		RowVersion:     1,
		CreatedBy:      p.By,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateRule(ctx, rule); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityRule, rule.RuleID, "CREATE", nil, rule, p.By)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateRuleVersionParams creates a new DRAFT snapshot of a rule.
// ExpectedRowVersion, when non-nil, is an optimistic lock on the rule
// identity row. Action defaults per rule type when empty; Priority
// defaults to 100 when zero and must land in [1..1000].
type CreateRuleVersionParams struct {
	RuleID             string
	ConditionTree      json.RawMessage
	Scope              map[string][]string
	Priority           int
	Action             domain.RuleAction
	ExpectedRowVersion *int
	By                 string
}

// CreateRuleVersion validates the condition tree against the active
// catalog and inserts the next version in DRAFT.
func (e *Engine) CreateRuleVersion(ctx context.Context, p CreateRuleVersionParams) (*domain.RuleVersion, error) {
	priority := p.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	if priority < minPriority || priority > maxPriority {
		return nil, domain.Validationf("priority %d out of range [%d..%d]", priority, minPriority, maxPriority).
			WithDetail("priority", priority)
	}
	cat, err := e.catalog.ActiveCatalog(ctx)
	if err != nil {
		return nil, err
	}
	node, err := condition.Parse(p.ConditionTree)
	if err != nil {
		return nil, err
	}
	if err := condition.Validate(node, cat); err != nil {
		return nil, err
	}

	var version *domain.RuleVersion
	err = e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		rule, err := tx.GetRule(ctx, p.RuleID)
		if err != nil {
			return err
		}
		if p.ExpectedRowVersion != nil && *p.ExpectedRowVersion != rule.RowVersion {
			return domain.Conflictf("rule %s was modified concurrently", p.RuleID).
				WithDetail("rule_id", p.RuleID).
				WithDetail("expected_row_version", *p.ExpectedRowVersion).
				WithDetail("actual_row_version", rule.RowVersion)
		}

		action := p.Action
		if action == "" {
			action = domain.DefaultActionFor(rule.RuleType)
		}
		if err := validateActionForRuleType(rule.RuleType, action); err != nil {
			return err
		}

		number, err := tx.NextRuleVersionNumber(ctx, p.RuleID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		version = &domain.RuleVersion{
			RuleVersionID: ids.NewString(),
			RuleID:        p.RuleID,
			Version:       number,
			ConditionTree: p.ConditionTree,
			Scope:         p.Scope,
			Priority:      priority,
			Action:        action,
			Status:        domain.StatusDraft,
			CreatedBy:     p.By,
			CreatedAt:     now,
		}
		if err := tx.CreateRuleVersion(ctx, version); err != nil {
			return err
		}

		rule.UpdatedAt = now
		if err := tx.UpdateRule(ctx, rule, rule.RowVersion); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityRuleVersion, version.RuleVersionID, "CREATE", nil, version, p.By)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// validateActionForRuleType enforces the action a rule type permits.
// Governance-only types carry a fixed verdict; AUTH rules choose freely.
func validateActionForRuleType(t domain.RuleType, a domain.RuleAction) error {
	if !a.Valid() {
		return domain.Validationf("invalid rule action %q", a).WithDetail("action", a)
	}
	var want domain.RuleAction
	switch t {
	case domain.RuleTypeAllowlist:
		want = domain.ActionApprove
	case domain.RuleTypeBlocklist:
		want = domain.ActionDecline
	case domain.RuleTypeMonitoring:
		want = domain.ActionReview
	default:
		return nil
	}
	if a != want {
		return domain.Validationf("%s rules must use action %s", t, want).
			WithDetail("rule_type", t).
			WithDetail("action", a)
	}
	return nil
}

// CreateRulesetParams creates a ruleset identity, unique per natural key.
type CreateRulesetParams struct {
	Environment string
	Region      string
	Country     string
	RuleType    domain.RuleType
	Name        string
	Description string
	By          string
}

// CreateRuleset creates the identity row. A natural-key collision
// surfaces as a ConflictError carrying the existing ruleset id.
func (e *Engine) CreateRuleset(ctx context.Context, p CreateRulesetParams) (*domain.Ruleset, error) {
	if p.Environment == "" || p.Region == "" || p.Country == "" {
		return nil, domain.Validationf("environment, region, and country are required")
	}
	if !p.RuleType.Valid() {
		return nil, domain.Validationf("invalid rule type %q", p.RuleType).WithDetail("rule_type", p.RuleType)
	}

	now := e.now().UTC()
	ruleset := &domain.Ruleset{
		RulesetID:   ids.NewString(),
		Environment: p.Environment,
		Region:      p.Region,
		Country:     p.Country,
		RuleType:    p.RuleType,
		Name:        p.Name,
		Description: p.Description,
		RowVersion:  1,
		CreatedBy:   p.By,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateRuleset(ctx, ruleset); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityRuleset, ruleset.RulesetID, "CREATE", nil, ruleset, p.By)
	})
	if err != nil {
		return nil, err
	}
	return ruleset, nil
}

// UpdateRulesetParams changes the mutable name and description of a
// ruleset identity. ExpectedRowVersion, when non-nil, is an optimistic
// lock on the identity row. The natural key is immutable after creation.
type UpdateRulesetParams struct {
	RulesetID          string
	Name               string
	Description        string
	ExpectedRowVersion *int
	By                 string
}

func (e *Engine) UpdateRuleset(ctx context.Context, p UpdateRulesetParams) (*domain.Ruleset, error) {
	var updated *domain.Ruleset
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		existing, err := tx.GetRuleset(ctx, p.RulesetID)
		if err != nil {
			return err
		}
		if p.ExpectedRowVersion != nil && *p.ExpectedRowVersion != existing.RowVersion {
			return domain.Conflictf("ruleset %s was modified concurrently", p.RulesetID).
				WithDetail("ruleset_id", p.RulesetID).
				WithDetail("expected_row_version", *p.ExpectedRowVersion).
				WithDetail("actual_row_version", existing.RowVersion)
		}
		before := *existing
		if p.Name != "" {
			existing.Name = p.Name
		}
		existing.Description = p.Description
		existing.UpdatedAt = e.now().UTC()
		if err := tx.UpdateRuleset(ctx, existing, existing.RowVersion); err != nil {
			return err
		}
		updated = existing
		return e.audit.Record(ctx, tx, domain.AuditEntityRuleset, p.RulesetID, "UPDATE", before, updated, p.By)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateRulesetVersion inserts the next version in DRAFT with
// snapshot-bound membership. Members must exist; the persistence layer
// additionally enforces rule-type consistency.
func (e *Engine) CreateRulesetVersion(ctx context.Context, rulesetID string, ruleVersionIDs []string, by string) (*domain.RulesetVersion, error) {
	if len(ruleVersionIDs) == 0 {
		return nil, domain.Validationf("ruleset version requires at least one rule version")
	}

	var version *domain.RulesetVersion
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		ruleset, err := tx.GetRuleset(ctx, rulesetID)
		if err != nil {
			return err
		}
		if err := tx.LockRuleset(ctx, rulesetID); err != nil {
			return err
		}

		members, err := tx.GetRuleVersions(ctx, ruleVersionIDs)
		if err != nil {
			return err
		}
		for _, m := range members {
			rule, err := tx.GetRule(ctx, m.RuleID)
			if err != nil {
				return err
			}
			if rule.RuleType != ruleset.RuleType {
				return domain.Validationf("rule %s is %s; ruleset %s only accepts %s rules", rule.RuleID, rule.RuleType, rulesetID, ruleset.RuleType).
					WithDetail("rule_id", rule.RuleID).
					WithDetail("rule_type", rule.RuleType).
					WithDetail("ruleset_rule_type", ruleset.RuleType)
			}
		}

		number, err := tx.NextRulesetVersionNumber(ctx, rulesetID)
		if err != nil {
			return err
		}
		version = &domain.RulesetVersion{
			RulesetVersionID: ids.NewString(),
			RulesetID:        rulesetID,
			Version:          number,
			Status:           domain.StatusDraft,
			RuleVersionIDs:   ruleVersionIDs,
			CreatedBy:        by,
			CreatedAt:        e.now().UTC(),
		}
		if err := tx.CreateRulesetVersion(ctx, version); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityRulesetVersion, version.RulesetVersionID, "CREATE", nil, version, by)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// CreateFieldParams creates a custom field identity plus its DRAFT v1
// snapshot. Field ids below 27 are reserved for seeded standard fields.
type CreateFieldParams struct {
	FieldKey          string
	DisplayName       string
	Description       string
	DataType          domain.DataType
	AllowedOperators  []domain.Operator
	MultiValueAllowed bool
	IsSensitive       bool
	EnumValues        []string
	By                string
}

// CreateField registers a custom field. The field enters the active
// catalog only once its version is approved.
func (e *Engine) CreateField(ctx context.Context, p CreateFieldParams) (*domain.RuleField, *domain.RuleFieldVersion, error) {
	if p.FieldKey == "" {
		return nil, nil, domain.Validationf("field key is required")
	}
	if !p.DataType.Valid() {
		return nil, nil, domain.Validationf("invalid data type %q", p.DataType).WithDetail("data_type", p.DataType)
	}
	if len(p.AllowedOperators) == 0 {
		return nil, nil, domain.Validationf("field requires at least one allowed operator")
	}
	for _, op := range p.AllowedOperators {
		if !op.Valid() {
			return nil, nil, domain.Validationf("unknown operator %q", op).WithDetail("operator", op)
		}
	}
	if p.DataType == domain.DataTypeEnum && len(p.EnumValues) == 0 {
		return nil, nil, domain.Validationf("enum field requires enum values")
	}

	var (
		field   *domain.RuleField
		version *domain.RuleFieldVersion
	)
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		id, err := tx.NextFieldID(ctx)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		field = &domain.RuleField{
			FieldKey:          p.FieldKey,
			FieldID:           id,
			DisplayName:       p.DisplayName,
			Description:       p.Description,
			DataType:          p.DataType,
			AllowedOperators:  p.AllowedOperators,
			MultiValueAllowed: p.MultiValueAllowed,
			IsSensitive:       p.IsSensitive,
			IsActive:          true,
			CurrentVersion:    1,
			RowVersion:        1,
			CreatedBy:         p.By,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.CreateField(ctx, field); err != nil {
			return err
		}
		version = &domain.RuleFieldVersion{
			FieldVersionID:    ids.NewString(),
			FieldKey:          p.FieldKey,
			Version:           1,
			DisplayName:       p.DisplayName,
			Description:       p.Description,
			DataType:          p.DataType,
			AllowedOperators:  p.AllowedOperators,
			MultiValueAllowed: p.MultiValueAllowed,
			IsSensitive:       p.IsSensitive,
			EnumValues:        p.EnumValues,
			Status:            domain.StatusDraft,
			CreatedBy:         p.By,
			CreatedAt:         now,
		}
		if err := tx.CreateFieldVersion(ctx, version); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityField, p.FieldKey, "CREATE", nil, field, p.By)
	})
	if err != nil {
		return nil, nil, err
	}
	return field, version, nil
}

// ProposeFieldVersion creates the next DRAFT snapshot of an existing
// field. DataType is immutable; the snapshot inherits it.
func (e *Engine) ProposeFieldVersion(ctx context.Context, p CreateFieldParams) (*domain.RuleFieldVersion, error) {
	var version *domain.RuleFieldVersion
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		field, err := tx.GetField(ctx, p.FieldKey)
		if err != nil {
			return err
		}
		if p.DataType != "" && p.DataType != field.DataType {
			return domain.Validationf("field data type is immutable").
				WithDetail("field_key", p.FieldKey).
				WithDetail("data_type", field.DataType)
		}

		now := e.now().UTC()
		version = &domain.RuleFieldVersion{
			FieldVersionID:    ids.NewString(),
			FieldKey:          p.FieldKey,
			Version:           field.CurrentVersion + 1,
			DisplayName:       p.DisplayName,
			Description:       p.Description,
			DataType:          field.DataType,
			AllowedOperators:  p.AllowedOperators,
			MultiValueAllowed: p.MultiValueAllowed,
			IsSensitive:       p.IsSensitive,
			EnumValues:        p.EnumValues,
			Status:            domain.StatusDraft,
			CreatedBy:         p.By,
			CreatedAt:         now,
		}
		if err := tx.CreateFieldVersion(ctx, version); err != nil {
			return err
		}
		field.UpdatedAt = now
		if err := tx.UpdateField(ctx, field, field.RowVersion); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityFieldVersion, version.FieldVersionID, "CREATE", nil, version, p.By)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// SetFieldMetadata upserts one extensible metadata row for a field.
func (e *Engine) SetFieldMetadata(ctx context.Context, fieldKey, metaKey string, value json.RawMessage, description, by string) error {
	if metaKey == "" {
		return domain.Validationf("meta key is required")
	}
	return e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.GetField(ctx, fieldKey); err != nil {
			return err
		}
		now := e.now().UTC()
		meta := &domain.RuleFieldMetadata{
			FieldKey:    fieldKey,
			MetaKey:     metaKey,
			MetaValue:   value,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.UpsertFieldMetadata(ctx, meta); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityField, fieldKey, "SET_METADATA", nil, meta, by)
	})
}

// PublishFieldRegistry snapshots the approved catalog through the
// publisher and records the audit entry in the same transaction.
func (e *Engine) PublishFieldRegistry(ctx context.Context, by string) (*domain.FieldRegistryManifest, error) {
	var manifest *domain.FieldRegistryManifest
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		manifest, err = e.pub.PublishFieldRegistry(ctx, tx, e.catalog, by)
		if err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityFieldRegistry, "registry", "PUBLISH", nil, manifest, by)
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
