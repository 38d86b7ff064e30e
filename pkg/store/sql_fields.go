package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

const fieldColumns = `field_key, field_id, display_name, description, data_type, allowed_operators, multi_value_allowed, is_sensitive, is_active, current_version, row_version, created_by, created_at, updated_at`

func operatorsJSON(ops []domain.Operator) (string, error) {
	if ops == nil {
		ops = []domain.Operator{}
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("store: operators marshal failed: %w", err)
	}
	return string(b), nil
}

func (s *SQLStore) CreateField(ctx context.Context, f *domain.RuleField) error {
	ops, err := operatorsJSON(f.AllowedOperators)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rule_fields (` + fieldColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.q.ExecContext(ctx, query,
		f.FieldKey, f.FieldID, f.DisplayName, f.Description, f.DataType, ops,
		f.MultiValueAllowed, f.IsSensitive, f.IsActive,
		f.CurrentVersion, f.RowVersion, f.CreatedBy, f.CreatedAt, f.UpdatedAt,
	)
	return mapInsertErr(err, "field", f.FieldKey)
}

func scanField(scan func(...any) error) (*domain.RuleField, error) {
	var (
		f   domain.RuleField
		ops string
	)
	if err := scan(&f.FieldKey, &f.FieldID, &f.DisplayName, &f.Description, &f.DataType, &ops,
		&f.MultiValueAllowed, &f.IsSensitive, &f.IsActive,
		&f.CurrentVersion, &f.RowVersion, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ops), &f.AllowedOperators); err != nil {
		return nil, fmt.Errorf("operators unmarshal failed: %w", err)
	}
	return &f, nil
}

func (s *SQLStore) GetField(ctx context.Context, fieldKey string) (*domain.RuleField, error) {
	query := `SELECT ` + fieldColumns + ` FROM rule_fields WHERE field_key = $1`
	f, err := scanField(s.q.QueryRowContext(ctx, query, fieldKey).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("field %s not found", fieldKey)
		}
		return nil, domain.Unavailablef("field query failed").WithCause(err)
	}
	return f, nil
}

func (s *SQLStore) UpdateField(ctx context.Context, f *domain.RuleField, expectedRowVersion int) error {
	ops, err := operatorsJSON(f.AllowedOperators)
	if err != nil {
		return err
	}
	query := `
		UPDATE rule_fields
		SET display_name = $1, description = $2, allowed_operators = $3,
		    multi_value_allowed = $4, is_sensitive = $5, is_active = $6,
		    current_version = $7, row_version = row_version + 1, updated_at = $8
		WHERE field_key = $9 AND row_version = $10
	`
	res, err := s.q.ExecContext(ctx, query,
		f.DisplayName, f.Description, ops,
		f.MultiValueAllowed, f.IsSensitive, f.IsActive,
		f.CurrentVersion, f.UpdatedAt, f.FieldKey, expectedRowVersion,
	)
	if err != nil {
		return domain.Integrityf("field update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.Conflictf("field %s was modified concurrently (expected row_version %d)",
			f.FieldKey, expectedRowVersion).
			WithDetail("field_key", f.FieldKey).
			WithDetail("expected_row_version", expectedRowVersion)
	}
	f.RowVersion = expectedRowVersion + 1
	return nil
}

func (s *SQLStore) ListFields(ctx context.Context, req PageRequest) (*Page[domain.RuleField], error) {
	req, cursor, err := req.Normalize(DefaultLimit, MaxLimit)
	if err != nil {
		return nil, err
	}
	where, order := keysetWindow("created_at", "field_key", cursor, req.Direction, 1)
	query := `SELECT ` + fieldColumns + ` FROM rule_fields`
	args := []any{}
	if where != "" {
		query += " WHERE " + where
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	args = append(args, req.Limit+1)
	query += fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("field list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.RuleField, 0, req.Limit+1)
	for rows.Next() {
		f, err := scanField(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("field scan failed").WithCause(err)
		}
		items = append(items, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("field list failed").WithCause(err)
	}
	return BuildPage(items, req, cursor != nil, func(f domain.RuleField) Cursor {
		return Cursor{ID: f.FieldKey, CreatedAt: f.CreatedAt}
	}), nil
}

// NextFieldID returns the first unassigned id at or above 27; ids 1..26
// are reserved for the standard fields.
func (s *SQLStore) NextFieldID(ctx context.Context) (int, error) {
	var maxID int
	err := s.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(field_id), 0) FROM rule_fields`).Scan(&maxID)
	if err != nil {
		return 0, domain.Unavailablef("field id query failed").WithCause(err)
	}
	if maxID < 26 {
		return 27, nil
	}
	return maxID + 1, nil
}

const fieldVersionColumns = `field_version_id, field_key, version, display_name, description, data_type, allowed_operators, multi_value_allowed, is_sensitive, enum_values, status, created_by, created_at, approved_by, approved_at`

func (s *SQLStore) CreateFieldVersion(ctx context.Context, v *domain.RuleFieldVersion) error {
	ops, err := operatorsJSON(v.AllowedOperators)
	if err != nil {
		return err
	}
	var enums sql.NullString
	if len(v.EnumValues) > 0 {
		b, err := json.Marshal(v.EnumValues)
		if err != nil {
			return fmt.Errorf("store: enum values marshal failed: %w", err)
		}
		enums = sql.NullString{String: string(b), Valid: true}
	}
	query := `
		INSERT INTO rule_field_versions (` + fieldVersionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.q.ExecContext(ctx, query,
		v.FieldVersionID, v.FieldKey, v.Version, v.DisplayName, v.Description,
		v.DataType, ops, v.MultiValueAllowed, v.IsSensitive, enums,
		v.Status, v.CreatedBy, v.CreatedAt, nullStr(v.ApprovedBy), v.ApprovedAt,
	)
	return mapInsertErr(err, "field version", v.FieldVersionID)
}

func scanFieldVersion(scan func(...any) error) (*domain.RuleFieldVersion, error) {
	var (
		v          domain.RuleFieldVersion
		ops        string
		enums      sql.NullString
		approvedBy sql.NullString
		approvedAt sql.NullTime
	)
	if err := scan(&v.FieldVersionID, &v.FieldKey, &v.Version, &v.DisplayName, &v.Description,
		&v.DataType, &ops, &v.MultiValueAllowed, &v.IsSensitive, &enums,
		&v.Status, &v.CreatedBy, &v.CreatedAt, &approvedBy, &approvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ops), &v.AllowedOperators); err != nil {
		return nil, fmt.Errorf("operators unmarshal failed: %w", err)
	}
	if enums.Valid {
		if err := json.Unmarshal([]byte(enums.String), &v.EnumValues); err != nil {
			return nil, fmt.Errorf("enum values unmarshal failed: %w", err)
		}
	}
	v.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		v.ApprovedAt = &t
	}
	return &v, nil
}

func (s *SQLStore) GetFieldVersion(ctx context.Context, fieldVersionID string) (*domain.RuleFieldVersion, error) {
	query := `SELECT ` + fieldVersionColumns + ` FROM rule_field_versions WHERE field_version_id = $1`
	v, err := scanFieldVersion(s.q.QueryRowContext(ctx, query, fieldVersionID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("field version %s not found", fieldVersionID)
		}
		return nil, domain.Unavailablef("field version query failed").WithCause(err)
	}
	return v, nil
}

func (s *SQLStore) UpdateFieldVersionStatus(ctx context.Context, fieldVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error {
	query := `
		UPDATE rule_field_versions
		SET status = $1, approved_by = COALESCE($2, approved_by), approved_at = COALESCE($3, approved_at)
		WHERE field_version_id = $4
	`
	res, err := s.q.ExecContext(ctx, query, status, nullStr(approvedBy), approvedAt, fieldVersionID)
	if err != nil {
		return domain.Integrityf("field version update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("field version %s not found", fieldVersionID)
	}
	return nil
}

func (s *SQLStore) SupersedeApprovedFieldVersions(ctx context.Context, fieldKey, exceptVersionID string) error {
	query := `
		UPDATE rule_field_versions
		SET status = $1
		WHERE field_key = $2 AND status = $3 AND field_version_id <> $4
	`
	_, err := s.q.ExecContext(ctx, query,
		domain.StatusSuperseded, fieldKey, domain.StatusApproved, exceptVersionID)
	if err != nil {
		return domain.Integrityf("supersede failed").WithCause(err)
	}
	return nil
}

func (s *SQLStore) ListApprovedFieldVersions(ctx context.Context) ([]domain.RuleFieldVersion, error) {
	query := `
		SELECT ` + fieldVersionColumns + ` FROM rule_field_versions
		WHERE status = $1 ORDER BY field_key ASC
	`
	rows, err := s.q.QueryContext(ctx, query, domain.StatusApproved)
	if err != nil {
		return nil, domain.Unavailablef("field version list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]domain.RuleFieldVersion, 0)
	for rows.Next() {
		v, err := scanFieldVersion(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("field version scan failed").WithCause(err)
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("field version list failed").WithCause(err)
	}
	return result, nil
}

// ActiveCatalog joins the latest APPROVED snapshot of every active field
// with its identity row.
func (s *SQLStore) ActiveCatalog(ctx context.Context) (map[string]domain.FieldMeta, error) {
	query := `
		SELECT f.field_key, f.field_id, v.data_type, v.allowed_operators,
		       v.multi_value_allowed, v.enum_values, f.is_active
		FROM rule_fields f
		JOIN rule_field_versions v
		  ON v.field_key = f.field_key AND v.version = f.current_version
		WHERE f.is_active = $1 AND v.status = $2
	`
	rows, err := s.q.QueryContext(ctx, query, true, domain.StatusApproved)
	if err != nil {
		return nil, domain.Unavailablef("catalog query failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	catalog := make(map[string]domain.FieldMeta)
	for rows.Next() {
		var (
			m     domain.FieldMeta
			ops   string
			enums sql.NullString
		)
		if err := rows.Scan(&m.FieldKey, &m.FieldID, &m.DataType, &ops,
			&m.MultiValueAllowed, &enums, &m.IsActive); err != nil {
			return nil, domain.Unavailablef("catalog scan failed").WithCause(err)
		}
		if err := json.Unmarshal([]byte(ops), &m.AllowedOperators); err != nil {
			return nil, fmt.Errorf("operators unmarshal failed: %w", err)
		}
		if enums.Valid {
			if err := json.Unmarshal([]byte(enums.String), &m.EnumValues); err != nil {
				return nil, fmt.Errorf("enum values unmarshal failed: %w", err)
			}
		}
		catalog[m.FieldKey] = m
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("catalog query failed").WithCause(err)
	}
	return catalog, nil
}

func (s *SQLStore) UpsertFieldMetadata(ctx context.Context, m *domain.RuleFieldMetadata) error {
	// ON CONFLICT upsert is supported by both dialects.
	query := `
		INSERT INTO rule_field_metadata (field_key, meta_key, meta_value, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (field_key, meta_key)
		DO UPDATE SET meta_value = EXCLUDED.meta_value,
		              description = EXCLUDED.description,
		              updated_at = EXCLUDED.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		m.FieldKey, m.MetaKey, string(m.MetaValue), m.Description, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return domain.Integrityf("field metadata upsert failed").WithCause(err)
	}
	return nil
}

func (s *SQLStore) ListFieldMetadata(ctx context.Context, fieldKey string) ([]domain.RuleFieldMetadata, error) {
	query := `
		SELECT field_key, meta_key, meta_value, description, created_at, updated_at
		FROM rule_field_metadata WHERE field_key = $1 ORDER BY meta_key ASC
	`
	rows, err := s.q.QueryContext(ctx, query, fieldKey)
	if err != nil {
		return nil, domain.Unavailablef("field metadata list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]domain.RuleFieldMetadata, 0)
	for rows.Next() {
		var (
			m     domain.RuleFieldMetadata
			value string
		)
		if err := rows.Scan(&m.FieldKey, &m.MetaKey, &value, &m.Description,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, domain.Unavailablef("field metadata scan failed").WithCause(err)
		}
		m.MetaValue = []byte(value)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("field metadata list failed").WithCause(err)
	}
	return result, nil
}

func (s *SQLStore) InsertFieldRegistryManifest(ctx context.Context, m *domain.FieldRegistryManifest) error {
	query := `
		INSERT INTO field_registry_manifests (registry_version, artifact_uri, checksum, field_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q.ExecContext(ctx, query,
		m.RegistryVersion, m.ArtifactURI, m.Checksum, m.FieldCount, m.CreatedBy, m.CreatedAt)
	return mapInsertErr(err, "field registry manifest", fmt.Sprintf("v%d", m.RegistryVersion))
}

func (s *SQLStore) LatestFieldRegistryVersion(ctx context.Context) (int, error) {
	var v int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(registry_version), 0) FROM field_registry_manifests`).Scan(&v)
	if err != nil {
		return 0, domain.Unavailablef("registry version query failed").WithCause(err)
	}
	return v, nil
}
