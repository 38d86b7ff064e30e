// Package publisher writes compiled artifacts to object storage and
// records publications. The ordering is locked: immutable artifact first,
// then the database manifest row, then the mutable pointer. The pointer
// is written last so it never references a missing row, and a pointer
// failure aborts the surrounding approval transaction.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardshield/rulegov/pkg/canonicaljson"
	"github.com/cardshield/rulegov/pkg/compiler"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/ids"
	"github.com/cardshield/rulegov/pkg/objstore"
	"github.com/cardshield/rulegov/pkg/store"
)

const (
	publishedAtLayout = "2006-01-02T15:04:05.000Z"
	pointerSchemaVer  = "1.0"

	// One initial try plus up to three retries on transient failures.
	retryAttempts = 4
	retryBase     = 100 * time.Millisecond
)

// pointerSchemaJSON guards the pointer contract: consumers parse this
// object blind, so a malformed pointer must never be written.
const pointerSchemaJSON = `{
  "type": "object",
  "required": ["schema_version", "environment", "region", "country",
               "ruleset_key", "ruleset_version", "artifact_uri",
               "checksum", "published_at"],
  "properties": {
    "schema_version": {"const": "1.0"},
    "environment": {"type": "string", "minLength": 1},
    "region": {"type": "string", "minLength": 1},
    "country": {"type": "string", "minLength": 1},
    "ruleset_key": {"enum": ["CARD_AUTH", "CARD_MONITORING"]},
    "ruleset_version": {"type": "integer", "minimum": 1},
    "artifact_uri": {"type": "string", "minLength": 1},
    "checksum": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "published_at": {"type": "string"}
  }
}`

var pointerSchema = jsonschema.MustCompileString("pointer.json", pointerSchemaJSON)

// CatalogInvalidator drops catalog caches after a field-registry publish.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context)
}

// Publisher runs the publish pipeline. Safe for concurrent use; the
// object-storage client is shared.
type Publisher struct {
	objects  objstore.Store
	compiler *compiler.Compiler
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	publishes metric.Int64Counter
	duration  metric.Float64Histogram
}

// New builds a Publisher. logger may be nil.
func New(objects objstore.Store, comp *compiler.Compiler, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("rulegov.publisher")
	publishes, _ := meter.Int64Counter("rulegov.publishes.total",
		metric.WithDescription("Total publish attempts"),
		metric.WithUnit("{publish}"),
	)
	duration, _ := meter.Float64Histogram("rulegov.publish.duration",
		metric.WithDescription("Publish duration in seconds"),
		metric.WithUnit("s"),
	)
	return &Publisher{
		objects:   objects,
		compiler:  comp,
		logger:    logger,
		now:       time.Now,
		tracer:    otel.Tracer("rulegov.publisher"),
		publishes: publishes,
		duration:  duration,
	}
}

// Publish compiles and publishes a ruleset version. It must run inside
// the approval transaction: tx carries the ambient transaction, and any
// error here aborts the approve. Returns the inserted manifest.
func (p *Publisher) Publish(ctx context.Context, tx store.Store, cat compiler.CatalogSource, rulesetVersionID, actor string) (m *domain.RulesetManifest, err error) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "publisher.Publish",
		trace.WithAttributes(attribute.String("ruleset_version_id", rulesetVersionID)))
	defer func() {
		outcome := "ok"
		if err != nil {
			span.RecordError(err)
			outcome = string(domain.KindOf(err))
		}
		p.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		p.duration.Record(ctx, p.now().Sub(start).Seconds())
		span.End()
	}()

	version, err := tx.GetRulesetVersion(ctx, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	ruleset, err := tx.GetRuleset(ctx, version.RulesetID)
	if err != nil {
		return nil, err
	}

	// Governance-only rule types never reach the runtime.
	rulesetKey, err := domain.RulesetKeyFor(ruleset.RuleType)
	if err != nil {
		return nil, err
	}

	res, err := p.compiler.CompileForApproval(ctx, tx, cat, rulesetVersionID)
	if err != nil {
		return nil, err
	}

	base := fmt.Sprintf("rulesets/%s/%s/%s/%s", ruleset.Environment, ruleset.Region, ruleset.Country, rulesetKey)
	artifactKey := fmt.Sprintf("%s/v%d/ruleset.json", base, version.Version)
	pointerKey := base + "/manifest.json"

	created, err := p.writeArtifact(ctx, artifactKey, res.Artifact, res.Checksum)
	if err != nil {
		return nil, err
	}

	registryVersion, err := tx.LatestFieldRegistryVersion(ctx)
	if err != nil {
		return nil, err
	}
	manifest := &domain.RulesetManifest{
		ManifestID:       ids.NewString(),
		Environment:      ruleset.Environment,
		Region:           ruleset.Region,
		Country:          ruleset.Country,
		RuleType:         ruleset.RuleType,
		RulesetVersion:   version.Version,
		RulesetVersionID: version.RulesetVersionID,
		ArtifactURI:      p.objects.URI(artifactKey),
		Checksum:         res.Checksum,
		CreatedBy:        actor,
		CreatedAt:        p.now().UTC(),
	}
	if registryVersion > 0 {
		manifest.FieldRegistryVersion = &registryVersion
	}
	if err := tx.InsertManifest(ctx, manifest); err != nil {
		p.compensate(ctx, artifactKey, created)
		return nil, err
	}

	pointer := map[string]any{
		"schema_version":  pointerSchemaVer,
		"environment":     ruleset.Environment,
		"region":          ruleset.Region,
		"country":         ruleset.Country,
		"ruleset_key":     rulesetKey,
		"ruleset_version": version.Version,
		"artifact_uri":    manifest.ArtifactURI,
		"checksum":        res.Checksum,
		"published_at":    p.now().UTC().Format(publishedAtLayout),
	}
	if err := p.writePointer(ctx, pointerKey, pointer); err != nil {
		p.compensate(ctx, artifactKey, created)
		return nil, err
	}

	p.logger.Info("published ruleset version",
		"ruleset_version_id", rulesetVersionID,
		"environment", ruleset.Environment,
		"region", ruleset.Region,
		"country", ruleset.Country,
		"ruleset_key", rulesetKey,
		"version", version.Version,
		"checksum", res.Checksum,
	)
	return manifest, nil
}

// writeArtifact performs the immutable conditional write. A pre-existing
// key with the same checksum is an idempotent retry; a different checksum
// means someone wrote a conflicting artifact for this version and the
// publish must not proceed.
func (p *Publisher) writeArtifact(ctx context.Context, key string, artifact []byte, checksum string) (created bool, err error) {
	err = withRetry(ctx, retryAttempts, retryBase, func() error {
		var putErr error
		created, putErr = p.objects.PutIfAbsent(ctx, key, artifact)
		return putErr
	})
	if err != nil {
		return false, domain.Publishingf("artifact write failed for %s", key).WithCause(err)
	}
	if created {
		return true, nil
	}

	existing, err := p.objects.Get(ctx, key)
	if err != nil {
		return false, domain.Publishingf("artifact %s exists but could not be read back", key).WithCause(err)
	}
	if got := canonicaljson.Checksum(existing); got != checksum {
		return false, domain.Publishingf("artifact %s already exists with a different checksum", key).
			WithDetail("artifact_key", key).
			WithDetail("existing_checksum", got).
			WithDetail("expected_checksum", checksum)
	}
	return false, nil
}

// writePointer canonicalizes, schema-validates, and unconditionally PUTs
// the mutable pointer. Last writer wins; the surrounding row locks
// serialize competing publishes for one ruleset.
func (p *Publisher) writePointer(ctx context.Context, key string, pointer map[string]any) error {
	payload, err := canonicaljson.MarshalStrict(pointer)
	if err != nil {
		return domain.Publishingf("pointer canonicalization failed for %s", key).WithCause(err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return domain.Publishingf("pointer decode failed for %s", key).WithCause(err)
	}
	if err := pointerSchema.Validate(generic); err != nil {
		return domain.Publishingf("pointer payload failed schema validation for %s", key).WithCause(err)
	}

	err = withRetry(ctx, retryAttempts, retryBase, func() error {
		return p.objects.Put(ctx, key, payload)
	})
	if err != nil {
		return domain.Publishingf("pointer write failed for %s", key).WithCause(err)
	}
	return nil
}

// compensate best-effort deletes an artifact this publish created.
// Artifacts are content-addressed by checksum, so a leftover is harmless
// and the delete is never allowed to mask the original failure.
func (p *Publisher) compensate(ctx context.Context, artifactKey string, created bool) {
	if !created {
		return
	}
	if err := p.objects.Delete(ctx, artifactKey); err != nil {
		p.logger.Warn("compensating artifact delete failed", "key", artifactKey, "error", err)
	}
}
