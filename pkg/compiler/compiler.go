// Package compiler turns an approved ruleset version into its canonical
// artifact form. Compilation is deterministic: the same committed state
// always yields byte-identical artifact bytes and the same checksum.
package compiler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardshield/rulegov/pkg/canonicaljson"
	"github.com/cardshield/rulegov/pkg/condition"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

// CatalogSource provides the active field catalog for condition
// validation. Satisfied by catalog.Service and by store.FieldStore.
type CatalogSource interface {
	ActiveCatalog(ctx context.Context) (map[string]domain.FieldMeta, error)
}

// Result is one successful compilation.
type Result struct {
	Artifact []byte
	Checksum string
	AST      map[string]any
	Ruleset  *domain.Ruleset
	Version  *domain.RulesetVersion
}

// Compiler compiles ruleset versions. Safe for concurrent use.
type Compiler struct {
	logger *slog.Logger
	tracer trace.Tracer

	compilations metric.Int64Counter
	duration     metric.Float64Histogram
}

// New builds a Compiler. logger may be nil.
func New(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("rulegov.compiler")
	compilations, _ := meter.Int64Counter("rulegov.compilations.total",
		metric.WithDescription("Total ruleset compilations"),
		metric.WithUnit("{compilation}"),
	)
	duration, _ := meter.Float64Histogram("rulegov.compile.duration",
		metric.WithDescription("Compilation duration in seconds"),
		metric.WithUnit("s"),
	)
	return &Compiler{
		logger:       logger,
		tracer:       otel.Tracer("rulegov.compiler"),
		compilations: compilations,
		duration:     duration,
	}
}

// Compile compiles a ruleset version in a terminal state (APPROVED or
// ACTIVE). DRAFT, PENDING_APPROVAL, and REJECTED versions are rejected.
func (c *Compiler) Compile(ctx context.Context, st store.Store, cat CatalogSource, rulesetVersionID string) (*Result, error) {
	return c.compile(ctx, st, cat, rulesetVersionID, false)
}

// CompileForApproval is Compile but additionally accepts a version in
// PENDING_APPROVAL, for use inside the approve transaction where the
// version has not transitioned yet.
func (c *Compiler) CompileForApproval(ctx context.Context, st store.Store, cat CatalogSource, rulesetVersionID string) (*Result, error) {
	return c.compile(ctx, st, cat, rulesetVersionID, true)
}

func (c *Compiler) compile(ctx context.Context, st store.Store, cat CatalogSource, rulesetVersionID string, allowPending bool) (res *Result, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "compiler.Compile",
		trace.WithAttributes(attribute.String("ruleset_version_id", rulesetVersionID)))
	defer func() {
		outcome := "ok"
		if err != nil {
			span.RecordError(err)
			outcome = string(domain.KindOf(err))
		}
		c.compilations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		c.duration.Record(ctx, time.Since(start).Seconds())
		span.End()
	}()

	version, err := st.GetRulesetVersion(ctx, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	switch version.Status {
	case domain.StatusApproved, domain.StatusActive:
	case domain.StatusPendingApproval:
		if !allowPending {
			return nil, domain.InvalidStatef("ruleset version %s is %s and cannot be compiled outside an approval", rulesetVersionID, version.Status).
				WithDetail("ruleset_version_id", rulesetVersionID).
				WithDetail("status", version.Status)
		}
	default:
		return nil, domain.InvalidStatef("ruleset version %s is %s and cannot be compiled", rulesetVersionID, version.Status).
			WithDetail("ruleset_version_id", rulesetVersionID).
			WithDetail("status", version.Status)
	}

	ruleset, err := st.GetRuleset(ctx, version.RulesetID)
	if err != nil {
		return nil, err
	}

	members, err := st.GetRuleVersions(ctx, version.RuleVersionIDs)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.Status != domain.StatusApproved {
			return nil, domain.InvalidStatef("member rule version %s is %s, not APPROVED", m.RuleVersionID, m.Status).
				WithDetail("ruleset_version_id", rulesetVersionID).
				WithDetail("rule_version_id", m.RuleVersionID).
				WithDetail("rule_id", m.RuleID)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	catalog, err := cat.ActiveCatalog(ctx)
	if err != nil {
		return nil, err
	}

	trees := make(map[string]*condition.Node, len(members))
	for _, m := range members {
		node, err := condition.Parse(m.ConditionTree)
		if err != nil {
			return nil, compileErr(rulesetVersionID, m, err)
		}
		if err := condition.Validate(node, catalog); err != nil {
			return nil, compileErr(rulesetVersionID, m, err)
		}
		trees[m.RuleVersionID] = node
	}

	// Deterministic order: priority descending, then rule id ascending.
	// Rule ids are time-ordered UUIDv7 strings, so the tie-break is stable
	// across compilations.
	sort.Slice(members, func(i, j int) bool {
		if members[i].Priority != members[j].Priority {
			return members[i].Priority > members[j].Priority
		}
		return members[i].RuleID < members[j].RuleID
	})

	rules := make([]map[string]any, 0, len(members))
	for _, m := range members {
		scope := m.Scope
		if scope == nil {
			scope = map[string][]string{}
		}
		rules = append(rules, map[string]any{
			"ruleId":        m.RuleID,
			"ruleVersionId": m.RuleVersionID,
			"priority":      m.Priority,
			"when":          trees[m.RuleVersionID],
			"action":        m.Action,
			"scope":         scope,
		})
	}

	ast := map[string]any{
		"rulesetId":             ruleset.RulesetID,
		"version":               version.Version,
		"ruleType":              ruleset.RuleType,
		"evaluation":            map[string]any{"mode": domain.EvaluationModeFor(ruleset.RuleType)},
		"velocityFailurePolicy": "SKIP",
		"rules":                 rules,
	}

	artifact, err := canonicaljson.MarshalStrict(ast)
	if err != nil {
		return nil, domain.Compilationf("canonicalization failed for ruleset version %s", rulesetVersionID).
			WithDetail("ruleset_version_id", rulesetVersionID).
			WithCause(err)
	}
	checksum := canonicaljson.Checksum(artifact)

	c.logger.Debug("compiled ruleset version",
		"ruleset_version_id", rulesetVersionID,
		"rules", len(members),
		"checksum", checksum,
	)

	return &Result{
		Artifact: artifact,
		Checksum: checksum,
		AST:      ast,
		Ruleset:  ruleset,
		Version:  version,
	}, nil
}

// compileErr wraps a member validation failure as a CompilationError,
// lifting path and reason out of the underlying error for callers.
func compileErr(rulesetVersionID string, m domain.RuleVersion, cause error) error {
	ce := domain.Compilationf("rule version %s failed validation", m.RuleVersionID).
		WithDetail("ruleset_version_id", rulesetVersionID).
		WithDetail("rule_version_id", m.RuleVersionID).
		WithDetail("rule_id", m.RuleID).
		WithCause(cause)

	var de *domain.Error
	if errors.As(cause, &de) {
		if path, ok := de.Details["path"]; ok {
			ce = ce.WithDetail("path", path)
		}
		ce = ce.WithDetail("reason", de.Message)
	} else {
		ce = ce.WithDetail("reason", cause.Error())
	}
	return ce
}
