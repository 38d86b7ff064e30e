package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

const rulesetColumns = `ruleset_id, environment, region, country, rule_type, name, description, row_version, created_by, created_at, updated_at`

func (s *SQLStore) CreateRuleset(ctx context.Context, rs *domain.Ruleset) error {
	query := `
		INSERT INTO rulesets (` + rulesetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q.ExecContext(ctx, query,
		rs.RulesetID, rs.Environment, rs.Region, rs.Country, rs.RuleType,
		rs.Name, rs.Description, rs.RowVersion, rs.CreatedBy, rs.CreatedAt, rs.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return domain.Conflictf("ruleset for (%s, %s, %s, %s) already exists",
			rs.Environment, rs.Region, rs.Country, rs.RuleType).
			WithDetail("environment", rs.Environment).
			WithDetail("region", rs.Region).
			WithDetail("country", rs.Country).
			WithDetail("rule_type", string(rs.RuleType)).
			WithCause(err)
	}
	if err != nil {
		return domain.Integrityf("ruleset insert failed").WithCause(err)
	}
	return nil
}

func scanRuleset(scan func(...any) error) (*domain.Ruleset, error) {
	var rs domain.Ruleset
	err := scan(&rs.RulesetID, &rs.Environment, &rs.Region, &rs.Country, &rs.RuleType,
		&rs.Name, &rs.Description, &rs.RowVersion, &rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *SQLStore) GetRuleset(ctx context.Context, rulesetID string) (*domain.Ruleset, error) {
	query := `SELECT ` + rulesetColumns + ` FROM rulesets WHERE ruleset_id = $1`
	rs, err := scanRuleset(s.q.QueryRowContext(ctx, query, rulesetID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("ruleset %s not found", rulesetID)
		}
		return nil, domain.Unavailablef("ruleset query failed").WithCause(err)
	}
	return rs, nil
}

func (s *SQLStore) GetRulesetByNaturalKey(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*domain.Ruleset, error) {
	query := `
		SELECT ` + rulesetColumns + ` FROM rulesets
		WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4
	`
	rs, err := scanRuleset(s.q.QueryRowContext(ctx, query, environment, region, country, ruleType).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("ruleset (%s, %s, %s, %s) not found",
				environment, region, country, ruleType)
		}
		return nil, domain.Unavailablef("ruleset query failed").WithCause(err)
	}
	return rs, nil
}

// UpdateRuleset persists name and description under the optimistic
// lock. The natural key is immutable and not part of the statement.
func (s *SQLStore) UpdateRuleset(ctx context.Context, rs *domain.Ruleset, expectedRowVersion int) error {
	query := `
		UPDATE rulesets
		SET name = $1, description = $2, row_version = row_version + 1, updated_at = $3
		WHERE ruleset_id = $4 AND row_version = $5
	`
	res, err := s.q.ExecContext(ctx, query, rs.Name, rs.Description, rs.UpdatedAt, rs.RulesetID, expectedRowVersion)
	if err != nil {
		return domain.Integrityf("ruleset update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.Conflictf("ruleset %s was modified concurrently (expected row_version %d)",
			rs.RulesetID, expectedRowVersion).
			WithDetail("ruleset_id", rs.RulesetID).
			WithDetail("expected_row_version", expectedRowVersion)
	}
	rs.RowVersion = expectedRowVersion + 1
	return nil
}

func (s *SQLStore) ListRulesets(ctx context.Context, filter RulesetFilter, req PageRequest) (*Page[domain.Ruleset], error) {
	req, cursor, err := req.Normalize(DefaultLimit, MaxLimit)
	if err != nil {
		return nil, err
	}

	conds := []string{}
	args := []any{}
	add := func(cond, value string) {
		if value != "" {
			args = append(args, value)
			conds = append(conds, fmt.Sprintf("%s = $%d", cond, len(args)))
		}
	}
	add("environment", filter.Environment)
	add("region", filter.Region)
	add("country", filter.Country)
	if filter.RuleType != nil {
		args = append(args, *filter.RuleType)
		conds = append(conds, fmt.Sprintf("rule_type = $%d", len(args)))
	}
	where, order := keysetWindow("created_at", "ruleset_id", cursor, req.Direction, len(args)+1)
	if where != "" {
		conds = append(conds, where)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query := `SELECT ` + rulesetColumns + ` FROM rulesets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, req.Limit+1)
	query += fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("ruleset list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.Ruleset, 0, req.Limit+1)
	for rows.Next() {
		rs, err := scanRuleset(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("ruleset scan failed").WithCause(err)
		}
		items = append(items, *rs)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("ruleset list failed").WithCause(err)
	}
	return BuildPage(items, req, cursor != nil, func(rs domain.Ruleset) Cursor {
		return Cursor{ID: rs.RulesetID, CreatedAt: rs.CreatedAt}
	}), nil
}

const rulesetVersionColumns = `ruleset_version_id, ruleset_id, version, status, created_by, created_at, approved_by, approved_at, activated_at`

// CreateRulesetVersion inserts the version row plus one membership row per
// member. Members whose rule_type differs from the ruleset's are rejected,
// mirroring the trigger-level guarantee at the persistence boundary.
func (s *SQLStore) CreateRulesetVersion(ctx context.Context, v *domain.RulesetVersion) error {
	if err := s.checkMemberRuleTypes(ctx, v.RulesetID, v.RuleVersionIDs); err != nil {
		return err
	}
	query := `
		INSERT INTO ruleset_versions (` + rulesetVersionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q.ExecContext(ctx, query,
		v.RulesetVersionID, v.RulesetID, v.Version, v.Status,
		v.CreatedBy, v.CreatedAt, nullStr(v.ApprovedBy), v.ApprovedAt, v.ActivatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "ruleset version", v.RulesetVersionID)
	}
	for _, rvID := range v.RuleVersionIDs {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO ruleset_version_rules (ruleset_version_id, rule_version_id) VALUES ($1, $2)`,
			v.RulesetVersionID, rvID)
		if err != nil {
			return mapInsertErr(err, "ruleset membership", rvID)
		}
	}
	return nil
}

func (s *SQLStore) checkMemberRuleTypes(ctx context.Context, rulesetID string, ruleVersionIDs []string) error {
	if len(ruleVersionIDs) == 0 {
		return domain.Validationf("ruleset version requires at least one rule version")
	}
	rs, err := s.GetRuleset(ctx, rulesetID)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(ruleVersionIDs))
	args := make([]any, 0, len(ruleVersionIDs)+1)
	for i, id := range ruleVersionIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, rs.RuleType)
	query := `
		SELECT rv.rule_version_id FROM rule_versions rv
		JOIN rules r ON r.rule_id = rv.rule_id
		WHERE rv.rule_version_id IN (` + strings.Join(placeholders, ", ") + `)
		  AND r.rule_type <> $` + fmt.Sprintf("%d", len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Unavailablef("membership check failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.Unavailablef("membership check failed").WithCause(err)
		}
		return domain.Validationf("rule version %s has a different rule_type than ruleset %s", id, rulesetID).
			WithDetail("rule_version_id", id).
			WithDetail("ruleset_id", rulesetID)
	}
	return rows.Err()
}

func scanRulesetVersion(scan func(...any) error) (*domain.RulesetVersion, error) {
	var (
		v           domain.RulesetVersion
		approvedBy  sql.NullString
		approvedAt  sql.NullTime
		activatedAt sql.NullTime
	)
	if err := scan(&v.RulesetVersionID, &v.RulesetID, &v.Version, &v.Status,
		&v.CreatedBy, &v.CreatedAt, &approvedBy, &approvedAt, &activatedAt); err != nil {
		return nil, err
	}
	v.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		v.ApprovedAt = &t
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		v.ActivatedAt = &t
	}
	return &v, nil
}

func (s *SQLStore) GetRulesetVersion(ctx context.Context, rulesetVersionID string) (*domain.RulesetVersion, error) {
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions WHERE ruleset_version_id = $1`
	v, err := scanRulesetVersion(s.q.QueryRowContext(ctx, query, rulesetVersionID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("ruleset version %s not found", rulesetVersionID)
		}
		return nil, domain.Unavailablef("ruleset version query failed").WithCause(err)
	}
	if err := s.loadMembership(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLStore) loadMembership(ctx context.Context, v *domain.RulesetVersion) error {
	rows, err := s.q.QueryContext(ctx,
		`SELECT rule_version_id FROM ruleset_version_rules WHERE ruleset_version_id = $1 ORDER BY rule_version_id`,
		v.RulesetVersionID)
	if err != nil {
		return domain.Unavailablef("membership query failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.Unavailablef("membership scan failed").WithCause(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return domain.Unavailablef("membership query failed").WithCause(err)
	}
	v.RuleVersionIDs = ids
	return nil
}

func (s *SQLStore) ListRulesetVersions(ctx context.Context, rulesetID string, status *domain.EntityStatus, req PageRequest) (*Page[domain.RulesetVersion], error) {
	req, cursor, err := req.Normalize(DefaultLimit, MaxLimit)
	if err != nil {
		return nil, err
	}

	conds := []string{"ruleset_id = $1"}
	args := []any{rulesetID}
	if status != nil {
		args = append(args, *status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where, order := keysetWindow("created_at", "ruleset_version_id", cursor, req.Direction, len(args)+1)
	if where != "" {
		conds = append(conds, where)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	args = append(args, req.Limit+1)
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions WHERE ` +
		strings.Join(conds, " AND ") + fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("ruleset version list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.RulesetVersion, 0, req.Limit+1)
	for rows.Next() {
		v, err := scanRulesetVersion(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("ruleset version scan failed").WithCause(err)
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("ruleset version list failed").WithCause(err)
	}
	for i := range items {
		if err := s.loadMembership(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return BuildPage(items, req, cursor != nil, func(v domain.RulesetVersion) Cursor {
		return Cursor{ID: v.RulesetVersionID, CreatedAt: v.CreatedAt}
	}), nil
}

func (s *SQLStore) NextRulesetVersionNumber(ctx context.Context, rulesetID string) (int, error) {
	if s.dialect == DialectPostgres {
		var id string
		err := s.q.QueryRowContext(ctx,
			`SELECT ruleset_id FROM rulesets WHERE ruleset_id = $1 FOR UPDATE`, rulesetID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NotFoundf("ruleset %s not found", rulesetID)
		}
		if err != nil {
			return 0, domain.Unavailablef("ruleset lock failed").WithCause(err)
		}
	}
	var next int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM ruleset_versions WHERE ruleset_id = $1`, rulesetID).Scan(&next)
	if err != nil {
		return 0, domain.Unavailablef("version number query failed").WithCause(err)
	}
	return next, nil
}

func (s *SQLStore) UpdateRulesetVersionStatus(ctx context.Context, rulesetVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error {
	query := `
		UPDATE ruleset_versions
		SET status = $1, approved_by = COALESCE($2, approved_by), approved_at = COALESCE($3, approved_at)
		WHERE ruleset_version_id = $4
	`
	res, err := s.q.ExecContext(ctx, query, status, nullStr(approvedBy), approvedAt, rulesetVersionID)
	if err != nil {
		return domain.Integrityf("ruleset version update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("ruleset version %s not found", rulesetVersionID)
	}
	return nil
}

func (s *SQLStore) SupersedeApprovedRulesetVersions(ctx context.Context, rulesetID, exceptVersionID string) error {
	query := `
		UPDATE ruleset_versions
		SET status = $1
		WHERE ruleset_id = $2 AND status = $3 AND ruleset_version_id <> $4
	`
	_, err := s.q.ExecContext(ctx, query,
		domain.StatusSuperseded, rulesetID, domain.StatusApproved, exceptVersionID)
	if err != nil {
		return domain.Integrityf("supersede failed").WithCause(err)
	}
	return nil
}

func (s *SQLStore) ActiveRulesetVersion(ctx context.Context, rulesetID string) (*domain.RulesetVersion, error) {
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions WHERE ruleset_id = $1 AND status = $2`
	v, err := scanRulesetVersion(s.q.QueryRowContext(ctx, query, rulesetID, domain.StatusActive).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("ruleset %s has no active version", rulesetID)
		}
		return nil, domain.Unavailablef("active version query failed").WithCause(err)
	}
	if err := s.loadMembership(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLStore) ActivateRulesetVersion(ctx context.Context, rulesetVersionID string, at time.Time) error {
	query := `
		UPDATE ruleset_versions
		SET status = $1, activated_at = $2
		WHERE ruleset_version_id = $3
	`
	res, err := s.q.ExecContext(ctx, query, domain.StatusActive, at, rulesetVersionID)
	if err != nil {
		return domain.Integrityf("activation failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("ruleset version %s not found", rulesetVersionID)
	}
	return nil
}
