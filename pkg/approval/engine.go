// Package approval implements the maker-checker workflow shared by rule
// versions, ruleset versions, and field versions, plus the governance
// write surface that feeds it. Every transition runs in one transaction
// with its audit entry; approving a ruleset version publishes inside the
// same transaction, so a publish failure rolls the approval back.
package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardshield/rulegov/pkg/audit"
	"github.com/cardshield/rulegov/pkg/catalog"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/ids"
	"github.com/cardshield/rulegov/pkg/publisher"
	"github.com/cardshield/rulegov/pkg/store"
)

// Engine drives the approval state machine.
type Engine struct {
	st      store.Store
	audit   *audit.Writer
	pub     *publisher.Publisher
	catalog *catalog.Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine builds an Engine. logger may be nil.
func NewEngine(st store.Store, aud *audit.Writer, pub *publisher.Publisher, cat *catalog.Service, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{st: st, audit: aud, pub: pub, catalog: cat, logger: logger, now: time.Now}
}

// SubmitParams identifies the version to move into review.
type SubmitParams struct {
	EntityType     domain.ApprovalEntityType
	EntityID       string
	Maker          string
	Remarks        string
	IdempotencyKey string
}

// Submit moves a DRAFT version to PENDING_APPROVAL and opens an approval
// row. A repeated submit with the same idempotency key returns the
// original row without changing state.
func (e *Engine) Submit(ctx context.Context, p SubmitParams) (*domain.Approval, error) {
	var result *domain.Approval
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if p.IdempotencyKey != "" {
			existing, err := tx.FindApprovalByIdempotencyKey(ctx, p.EntityType, p.EntityID, p.IdempotencyKey)
			if err == nil {
				result = existing
				return nil
			}
			if !domain.IsKind(err, domain.KindNotFound) {
				return err
			}
		}

		ref, err := e.loadVersion(ctx, tx, p.EntityType, p.EntityID)
		if err != nil {
			return err
		}
		if ref.status != domain.StatusDraft {
			return domain.InvalidStatef("%s %s is %s; only DRAFT can be submitted", p.EntityType, p.EntityID, ref.status).
				WithDetail("entity_id", p.EntityID).
				WithDetail("status", ref.status)
		}

		if err := e.setVersionStatus(ctx, tx, p.EntityType, p.EntityID, domain.StatusPendingApproval, "", nil); err != nil {
			return err
		}
		if p.EntityType == domain.EntityRuleVersion {
			if err := e.mirrorRuleStatus(ctx, tx, ref, domain.StatusPendingApproval, 0); err != nil {
				return err
			}
		}

		approvalRow := &domain.Approval{
			ApprovalID:     ids.NewString(),
			EntityType:     p.EntityType,
			EntityID:       p.EntityID,
			Action:         domain.ApprovalActionSubmit,
			Status:         domain.ApprovalPending,
			Maker:          p.Maker,
			Remarks:        p.Remarks,
			IdempotencyKey: p.IdempotencyKey,
			CreatedAt:      e.now().UTC(),
		}
		if err := tx.InsertApproval(ctx, approvalRow); err != nil {
			// A concurrent submit with the same key won the insert race.
			if p.IdempotencyKey != "" && domain.IsKind(err, domain.KindConflict) {
				result, err = tx.FindApprovalByIdempotencyKey(ctx, p.EntityType, p.EntityID, p.IdempotencyKey)
				return err
			}
			return err
		}

		updated, err := e.loadVersion(ctx, tx, p.EntityType, p.EntityID)
		if err != nil {
			return err
		}
		if err := e.audit.Record(ctx, tx, ref.auditType, p.EntityID, "SUBMIT", ref.snapshot, updated.snapshot, p.Maker); err != nil {
			return err
		}
		result = approvalRow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Approve transitions a PENDING_APPROVAL version to APPROVED. The checker
// must differ from the version's maker. Ruleset-version approvals publish
// within this transaction; earlier APPROVED siblings become SUPERSEDED.
func (e *Engine) Approve(ctx context.Context, entityType domain.ApprovalEntityType, entityID, checker, remarks string) (*domain.Approval, error) {
	var result *domain.Approval
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		ref, err := e.loadVersion(ctx, tx, entityType, entityID)
		if err != nil {
			return err
		}
		if ref.status != domain.StatusPendingApproval {
			return domain.InvalidStatef("%s %s is %s; only PENDING_APPROVAL can be approved", entityType, entityID, ref.status).
				WithDetail("entity_id", entityID).
				WithDetail("status", ref.status)
		}
		if checker == ref.createdBy {
			return domain.Forbiddenf("checker %s cannot approve their own change", checker).
				WithDetail("maker", ref.createdBy).
				WithDetail("checker", checker)
		}

		now := e.now().UTC()
		if err := e.setVersionStatus(ctx, tx, entityType, entityID, domain.StatusApproved, checker, &now); err != nil {
			return err
		}

		switch entityType {
		case domain.EntityRuleVersion:
			if err := tx.SupersedeApprovedRuleVersions(ctx, ref.parentID, entityID); err != nil {
				return err
			}
			if err := e.mirrorRuleStatus(ctx, tx, ref, domain.StatusApproved, ref.versionNumber); err != nil {
				return err
			}
		case domain.EntityFieldVersion:
			if err := tx.SupersedeApprovedFieldVersions(ctx, ref.parentID, entityID); err != nil {
				return err
			}
			if err := e.promoteFieldIdentity(ctx, tx, ref.parentID, entityID); err != nil {
				return err
			}
		case domain.EntityRulesetVersion:
			if err := tx.LockRuleset(ctx, ref.parentID); err != nil {
				return err
			}
			if err := tx.SupersedeApprovedRulesetVersions(ctx, ref.parentID, entityID); err != nil {
				return err
			}
			if _, err := e.pub.Publish(ctx, tx, e.catalog, entityID, checker); err != nil {
				return err
			}
		}

		result, err = e.decide(ctx, tx, entityType, entityID, domain.ApprovalApproved, domain.ApprovalActionApprove, ref.createdBy, checker, remarks, now)
		if err != nil {
			return err
		}

		updated, err := e.loadVersion(ctx, tx, entityType, entityID)
		if err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, ref.auditType, entityID, "APPROVE", ref.snapshot, updated.snapshot, checker)
	})
	if err != nil {
		return nil, err
	}
	if entityType == domain.EntityFieldVersion && e.catalog != nil {
		e.catalog.Invalidate(ctx)
	}
	return result, nil
}

// Reject transitions a PENDING_APPROVAL version to REJECTED (terminal).
// Never publishes.
func (e *Engine) Reject(ctx context.Context, entityType domain.ApprovalEntityType, entityID, checker, remarks string) (*domain.Approval, error) {
	var result *domain.Approval
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		ref, err := e.loadVersion(ctx, tx, entityType, entityID)
		if err != nil {
			return err
		}
		if ref.status != domain.StatusPendingApproval {
			return domain.InvalidStatef("%s %s is %s; only PENDING_APPROVAL can be rejected", entityType, entityID, ref.status).
				WithDetail("entity_id", entityID).
				WithDetail("status", ref.status)
		}
		if checker == ref.createdBy {
			return domain.Forbiddenf("checker %s cannot reject their own change", checker).
				WithDetail("maker", ref.createdBy).
				WithDetail("checker", checker)
		}

		now := e.now().UTC()
		if err := e.setVersionStatus(ctx, tx, entityType, entityID, domain.StatusRejected, checker, &now); err != nil {
			return err
		}
		if entityType == domain.EntityRuleVersion {
			// The identity falls back to its last approved state, or
			// REJECTED when nothing was ever approved.
			fallback := domain.StatusRejected
			approved := domain.StatusApproved
			page, err := tx.ListRuleVersions(ctx, ref.parentID, &approved, store.PageRequest{Limit: 1})
			if err != nil {
				return err
			}
			if len(page.Items) > 0 {
				fallback = domain.StatusApproved
			}
			if err := e.mirrorRuleStatus(ctx, tx, ref, fallback, 0); err != nil {
				return err
			}
		}

		result, err = e.decide(ctx, tx, entityType, entityID, domain.ApprovalRejected, domain.ApprovalActionReject, ref.createdBy, checker, remarks, now)
		if err != nil {
			return err
		}

		updated, err := e.loadVersion(ctx, tx, entityType, entityID)
		if err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, ref.auditType, entityID, "REJECT", ref.snapshot, updated.snapshot, checker)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Activate promotes an APPROVED ruleset version to ACTIVE, demoting the
// currently ACTIVE sibling to SUPERSEDED. Competing activations for one
// ruleset serialize on the ruleset lock.
func (e *Engine) Activate(ctx context.Context, rulesetVersionID, actor string) (*domain.RulesetVersion, error) {
	var activated *domain.RulesetVersion
	err := e.st.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		version, err := tx.GetRulesetVersion(ctx, rulesetVersionID)
		if err != nil {
			return err
		}
		if version.Status != domain.StatusApproved {
			return domain.InvalidStatef("ruleset version %s is %s; only APPROVED can be activated", rulesetVersionID, version.Status).
				WithDetail("ruleset_version_id", rulesetVersionID).
				WithDetail("status", version.Status)
		}
		if err := tx.LockRuleset(ctx, version.RulesetID); err != nil {
			return err
		}

		current, err := tx.ActiveRulesetVersion(ctx, version.RulesetID)
		if err != nil && !domain.IsKind(err, domain.KindNotFound) {
			return err
		}
		if current != nil {
			if err := tx.UpdateRulesetVersionStatus(ctx, current.RulesetVersionID, domain.StatusSuperseded, "", nil); err != nil {
				return err
			}
		}

		now := e.now().UTC()
		if err := tx.ActivateRulesetVersion(ctx, rulesetVersionID, now); err != nil {
			return err
		}
		activated, err = tx.GetRulesetVersion(ctx, rulesetVersionID)
		if err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, domain.AuditEntityRulesetVersion, rulesetVersionID, "ACTIVATE", version, activated, actor)
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// decide closes the pending SUBMIT row and inserts the decision row.
func (e *Engine) decide(ctx context.Context, tx store.Store, entityType domain.ApprovalEntityType, entityID string, status domain.ApprovalStatus, action domain.ApprovalAction, maker, checker, remarks string, at time.Time) (*domain.Approval, error) {
	pending, err := tx.PendingApproval(ctx, entityType, entityID)
	if err == nil {
		if err := tx.UpdateApprovalDecision(ctx, pending.ApprovalID, status, checker, remarks, at); err != nil {
			return nil, err
		}
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	row := &domain.Approval{
		ApprovalID: ids.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Status:     status,
		Maker:      maker,
		Checker:    checker,
		Remarks:    remarks,
		CreatedAt:  at,
		DecidedAt:  &at,
	}
	if err := tx.InsertApproval(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// versionRef is the type-erased view of one versioned entity the state
// machine operates on.
type versionRef struct {
	status        domain.EntityStatus
	createdBy     string
	parentID      string
	versionNumber int
	snapshot      any
	auditType     domain.AuditEntityType
}

func (e *Engine) loadVersion(ctx context.Context, tx store.Store, entityType domain.ApprovalEntityType, entityID string) (*versionRef, error) {
	switch entityType {
	case domain.EntityRuleVersion:
		v, err := tx.GetRuleVersion(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return &versionRef{status: v.Status, createdBy: v.CreatedBy, parentID: v.RuleID, versionNumber: v.Version, snapshot: v, auditType: domain.AuditEntityRuleVersion}, nil
	case domain.EntityRulesetVersion:
		v, err := tx.GetRulesetVersion(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return &versionRef{status: v.Status, createdBy: v.CreatedBy, parentID: v.RulesetID, versionNumber: v.Version, snapshot: v, auditType: domain.AuditEntityRulesetVersion}, nil
	case domain.EntityFieldVersion:
		v, err := tx.GetFieldVersion(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return &versionRef{status: v.Status, createdBy: v.CreatedBy, parentID: v.FieldKey, versionNumber: v.Version, snapshot: v, auditType: domain.AuditEntityFieldVersion}, nil
	}
	return nil, domain.Validationf("unknown approval entity type %q", entityType)
}

func (e *Engine) setVersionStatus(ctx context.Context, tx store.Store, entityType domain.ApprovalEntityType, entityID string, status domain.EntityStatus, by string, at *time.Time) error {
	switch entityType {
	case domain.EntityRuleVersion:
		return tx.UpdateRuleVersionStatus(ctx, entityID, status, by, at)
	case domain.EntityRulesetVersion:
		return tx.UpdateRulesetVersionStatus(ctx, entityID, status, by, at)
	case domain.EntityFieldVersion:
		return tx.UpdateFieldVersionStatus(ctx, entityID, status, by, at)
	}
	return domain.Validationf("unknown approval entity type %q", entityType)
}

// mirrorRuleStatus keeps the rule identity row in step with its version
// lifecycle. currentVersion is applied only when non-zero.
func (e *Engine) mirrorRuleStatus(ctx context.Context, tx store.Store, ref *versionRef, status domain.EntityStatus, currentVersion int) error {
	rule, err := tx.GetRule(ctx, ref.parentID)
	if err != nil {
		return err
	}
	rule.Status = status
	if currentVersion > 0 {
		rule.CurrentVersion = currentVersion
	}
	rule.UpdatedAt = e.now().UTC()
	return tx.UpdateRule(ctx, rule, rule.RowVersion)
}

// promoteFieldIdentity copies the approved snapshot onto the field
// identity so the active catalog reflects it without a join on history.
func (e *Engine) promoteFieldIdentity(ctx context.Context, tx store.Store, fieldKey, fieldVersionID string) error {
	version, err := tx.GetFieldVersion(ctx, fieldVersionID)
	if err != nil {
		return err
	}
	field, err := tx.GetField(ctx, fieldKey)
	if err != nil {
		return err
	}
	field.DisplayName = version.DisplayName
	field.Description = version.Description
	field.AllowedOperators = version.AllowedOperators
	field.MultiValueAllowed = version.MultiValueAllowed
	field.IsSensitive = version.IsSensitive
	field.CurrentVersion = version.Version
	field.UpdatedAt = e.now().UTC()
	return tx.UpdateField(ctx, field, field.RowVersion)
}
