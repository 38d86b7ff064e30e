package publisher

import (
	"context"
	"fmt"
	"sort"

	"github.com/cardshield/rulegov/pkg/canonicaljson"
	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

// PublishFieldRegistry snapshots the active field catalog into an
// immutable registry artifact plus its mutable pointer, and records a
// FieldRegistryManifest row. Runs inside the caller's transaction; the
// invalidator, when non-nil, is notified after a successful publish.
func (p *Publisher) PublishFieldRegistry(ctx context.Context, tx store.Store, inv CatalogInvalidator, actor string) (*domain.FieldRegistryManifest, error) {
	catalog, err := tx.ActiveCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if len(catalog) == 0 {
		return nil, domain.InvalidStatef("field registry publish requires at least one active approved field")
	}

	latest, err := tx.LatestFieldRegistryVersion(ctx)
	if err != nil {
		return nil, err
	}
	registryVersion := latest + 1

	fields := make([]domain.FieldMeta, 0, len(catalog))
	for _, meta := range catalog {
		fields = append(fields, meta)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].FieldID < fields[j].FieldID })

	entries := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		entry := map[string]any{
			"fieldId":           f.FieldID,
			"fieldKey":          f.FieldKey,
			"dataType":          f.DataType,
			"allowedOperators":  f.AllowedOperators,
			"multiValueAllowed": f.MultiValueAllowed,
		}
		if len(f.EnumValues) > 0 {
			entry["enumValues"] = f.EnumValues
		}
		entries = append(entries, entry)
	}
	doc := map[string]any{
		"registryVersion": registryVersion,
		"fields":          entries,
	}

	artifact, err := canonicaljson.MarshalStrict(doc)
	if err != nil {
		return nil, domain.Publishingf("field registry canonicalization failed").WithCause(err)
	}
	checksum := canonicaljson.Checksum(artifact)

	artifactKey := fmt.Sprintf("fields/registry/v%d/fields.json", registryVersion)
	created, err := p.writeArtifact(ctx, artifactKey, artifact, checksum)
	if err != nil {
		return nil, err
	}

	manifest := &domain.FieldRegistryManifest{
		RegistryVersion: registryVersion,
		ArtifactURI:     p.objects.URI(artifactKey),
		Checksum:        checksum,
		FieldCount:      len(fields),
		CreatedBy:       actor,
		CreatedAt:       p.now().UTC(),
	}
	if err := tx.InsertFieldRegistryManifest(ctx, manifest); err != nil {
		p.compensate(ctx, artifactKey, created)
		return nil, err
	}

	pointer := map[string]any{
		"schema_version":   pointerSchemaVer,
		"registry_version": registryVersion,
		"artifact_uri":     manifest.ArtifactURI,
		"checksum":         checksum,
		"field_count":      len(fields),
		"published_at":     p.now().UTC().Format(publishedAtLayout),
	}
	payload, err := canonicaljson.MarshalStrict(pointer)
	if err != nil {
		p.compensate(ctx, artifactKey, created)
		return nil, domain.Publishingf("field registry pointer canonicalization failed").WithCause(err)
	}
	err = withRetry(ctx, retryAttempts, retryBase, func() error {
		return p.objects.Put(ctx, "fields/registry/manifest.json", payload)
	})
	if err != nil {
		p.compensate(ctx, artifactKey, created)
		return nil, domain.Publishingf("field registry pointer write failed").WithCause(err)
	}

	if inv != nil {
		inv.Invalidate(ctx)
	}
	p.logger.Info("published field registry",
		"registry_version", registryVersion,
		"fields", len(fields),
		"checksum", checksum,
	)
	return manifest, nil
}
