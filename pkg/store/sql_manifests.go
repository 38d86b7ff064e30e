package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cardshield/rulegov/pkg/domain"
)

const manifestColumns = `manifest_id, environment, region, country, rule_type, ruleset_version, ruleset_version_id, field_registry_version, artifact_uri, checksum, created_by, created_at`

func (s *SQLStore) InsertManifest(ctx context.Context, m *domain.RulesetManifest) error {
	query := `
		INSERT INTO ruleset_manifests (` + manifestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var regVersion sql.NullInt64
	if m.FieldRegistryVersion != nil {
		regVersion = sql.NullInt64{Int64: int64(*m.FieldRegistryVersion), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, query,
		m.ManifestID, m.Environment, m.Region, m.Country, m.RuleType,
		m.RulesetVersion, m.RulesetVersionID, regVersion,
		m.ArtifactURI, m.Checksum, m.CreatedBy, m.CreatedAt,
	)
	return mapInsertErr(err, "manifest", m.ManifestID)
}

func scanManifest(scan func(...any) error) (*domain.RulesetManifest, error) {
	var (
		m          domain.RulesetManifest
		regVersion sql.NullInt64
	)
	if err := scan(&m.ManifestID, &m.Environment, &m.Region, &m.Country, &m.RuleType,
		&m.RulesetVersion, &m.RulesetVersionID, &regVersion,
		&m.ArtifactURI, &m.Checksum, &m.CreatedBy, &m.CreatedAt); err != nil {
		return nil, err
	}
	if regVersion.Valid {
		v := int(regVersion.Int64)
		m.FieldRegistryVersion = &v
	}
	return &m, nil
}

func (s *SQLStore) GetManifestByRulesetVersionID(ctx context.Context, rulesetVersionID string) (*domain.RulesetManifest, error) {
	query := `SELECT ` + manifestColumns + ` FROM ruleset_manifests WHERE ruleset_version_id = $1`
	m, err := scanManifest(s.q.QueryRowContext(ctx, query, rulesetVersionID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("no manifest for ruleset version %s", rulesetVersionID)
		}
		return nil, domain.Unavailablef("manifest query failed").WithCause(err)
	}
	return m, nil
}

func (s *SQLStore) LatestManifest(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*domain.RulesetManifest, error) {
	query := `
		SELECT ` + manifestColumns + ` FROM ruleset_manifests
		WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4
		ORDER BY ruleset_version DESC LIMIT 1
	`
	m, err := scanManifest(s.q.QueryRowContext(ctx, query, environment, region, country, ruleType).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("no manifest for (%s, %s, %s, %s)",
				environment, region, country, ruleType)
		}
		return nil, domain.Unavailablef("manifest query failed").WithCause(err)
	}
	return m, nil
}
