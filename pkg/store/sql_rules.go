package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

const ruleColumns = `rule_id, rule_name, description, rule_type, status, current_version, row_version, created_by, created_at, updated_at`

func (s *SQLStore) CreateRule(ctx context.Context, r *domain.Rule) error {
	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.q.ExecContext(ctx, query,
		r.RuleID, r.RuleName, r.Description, r.RuleType, r.Status,
		r.CurrentVersion, r.RowVersion, r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	)
	return mapInsertErr(err, "rule", r.RuleID)
}

func (s *SQLStore) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = $1`
	return scanRule(s.q.QueryRowContext(ctx, query, ruleID), ruleID)
}

func scanRule(row *sql.Row, ruleID string) (*domain.Rule, error) {
	var r domain.Rule
	err := row.Scan(&r.RuleID, &r.RuleName, &r.Description, &r.RuleType, &r.Status,
		&r.CurrentVersion, &r.RowVersion, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("rule %s not found", ruleID)
		}
		return nil, domain.Unavailablef("rule query failed").WithCause(err)
	}
	return &r, nil
}

// UpdateRule applies the identity row if row_version still matches.
func (s *SQLStore) UpdateRule(ctx context.Context, r *domain.Rule, expectedRowVersion int) error {
	query := `
		UPDATE rules
		SET rule_name = $1, description = $2, status = $3, current_version = $4,
		    row_version = row_version + 1, updated_at = $5
		WHERE rule_id = $6 AND row_version = $7
	`
	res, err := s.q.ExecContext(ctx, query,
		r.RuleName, r.Description, r.Status, r.CurrentVersion, r.UpdatedAt,
		r.RuleID, expectedRowVersion,
	)
	if err != nil {
		return domain.Integrityf("rule update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.Conflictf("rule %s was modified concurrently (expected row_version %d)",
			r.RuleID, expectedRowVersion).
			WithDetail("rule_id", r.RuleID).
			WithDetail("expected_row_version", expectedRowVersion)
	}
	r.RowVersion = expectedRowVersion + 1
	return nil
}

func (s *SQLStore) ListRules(ctx context.Context, filter RuleFilter, req PageRequest) (*Page[domain.Rule], error) {
	req, cursor, err := req.Normalize(DefaultLimit, MaxLimit)
	if err != nil {
		return nil, err
	}

	conds := []string{}
	args := []any{}
	if filter.RuleType != nil {
		args = append(args, *filter.RuleType)
		conds = append(conds, fmt.Sprintf("rule_type = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where, order := keysetWindow("created_at", "rule_id", cursor, req.Direction, len(args)+1)
	if where != "" {
		conds = append(conds, where)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query := `SELECT ` + ruleColumns + ` FROM rules`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, req.Limit+1)
	query += fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("rule list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.Rule, 0, req.Limit+1)
	for rows.Next() {
		var r domain.Rule
		if err := rows.Scan(&r.RuleID, &r.RuleName, &r.Description, &r.RuleType, &r.Status,
			&r.CurrentVersion, &r.RowVersion, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, domain.Unavailablef("rule scan failed").WithCause(err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("rule list failed").WithCause(err)
	}
	return BuildPage(items, req, cursor != nil, func(r domain.Rule) Cursor {
		return Cursor{ID: r.RuleID, CreatedAt: r.CreatedAt}
	}), nil
}

const ruleVersionColumns = `rule_version_id, rule_id, version, condition_tree, scope, priority, action, status, created_by, created_at, approved_by, approved_at`

func (s *SQLStore) CreateRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	scope, err := json.Marshal(scopeOrEmpty(v.Scope))
	if err != nil {
		return fmt.Errorf("store: scope marshal failed: %w", err)
	}
	query := `
		INSERT INTO rule_versions (` + ruleVersionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.q.ExecContext(ctx, query,
		v.RuleVersionID, v.RuleID, v.Version, string(v.ConditionTree), string(scope),
		v.Priority, v.Action, v.Status, v.CreatedBy, v.CreatedAt,
		nullStr(v.ApprovedBy), v.ApprovedAt,
	)
	return mapInsertErr(err, "rule version", v.RuleVersionID)
}

func scopeOrEmpty(scope map[string][]string) map[string][]string {
	if scope == nil {
		return map[string][]string{}
	}
	return scope
}

func (s *SQLStore) GetRuleVersion(ctx context.Context, ruleVersionID string) (*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + ` FROM rule_versions WHERE rule_version_id = $1`
	row := s.q.QueryRowContext(ctx, query, ruleVersionID)

	v, err := scanRuleVersion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("rule version %s not found", ruleVersionID)
		}
		return nil, domain.Unavailablef("rule version query failed").WithCause(err)
	}
	return v, nil
}

func scanRuleVersion(scan func(...any) error) (*domain.RuleVersion, error) {
	var (
		v          domain.RuleVersion
		tree       string
		scope      string
		approvedBy sql.NullString
		approvedAt sql.NullTime
	)
	if err := scan(&v.RuleVersionID, &v.RuleID, &v.Version, &tree, &scope,
		&v.Priority, &v.Action, &v.Status, &v.CreatedBy, &v.CreatedAt,
		&approvedBy, &approvedAt); err != nil {
		return nil, err
	}
	v.ConditionTree = json.RawMessage(tree)
	if err := json.Unmarshal([]byte(scope), &v.Scope); err != nil {
		return nil, fmt.Errorf("scope unmarshal failed: %w", err)
	}
	v.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		v.ApprovedAt = &t
	}
	return &v, nil
}

func (s *SQLStore) GetRuleVersions(ctx context.Context, ruleVersionIDs []string) ([]domain.RuleVersion, error) {
	if len(ruleVersionIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ruleVersionIDs))
	args := make([]any, len(ruleVersionIDs))
	for i, id := range ruleVersionIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + ruleVersionColumns + ` FROM rule_versions WHERE rule_version_id IN (` +
		strings.Join(placeholders, ", ") + `)`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("rule version query failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]domain.RuleVersion, len(ruleVersionIDs))
	for rows.Next() {
		v, err := scanRuleVersion(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("rule version scan failed").WithCause(err)
		}
		byID[v.RuleVersionID] = *v
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("rule version query failed").WithCause(err)
	}

	result := make([]domain.RuleVersion, 0, len(ruleVersionIDs))
	for _, id := range ruleVersionIDs {
		v, ok := byID[id]
		if !ok {
			return nil, domain.NotFoundf("rule version %s not found", id)
		}
		result = append(result, v)
	}
	return result, nil
}

func (s *SQLStore) ListRuleVersions(ctx context.Context, ruleID string, status *domain.EntityStatus, req PageRequest) (*Page[domain.RuleVersion], error) {
	req, cursor, err := req.Normalize(DefaultLimit, MaxLimit)
	if err != nil {
		return nil, err
	}

	conds := []string{"rule_id = $1"}
	args := []any{ruleID}
	if status != nil {
		args = append(args, *status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where, order := keysetWindow("created_at", "rule_version_id", cursor, req.Direction, len(args)+1)
	if where != "" {
		conds = append(conds, where)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	args = append(args, req.Limit+1)
	query := `SELECT ` + ruleVersionColumns + ` FROM rule_versions WHERE ` +
		strings.Join(conds, " AND ") + fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("rule version list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.RuleVersion, 0, req.Limit+1)
	for rows.Next() {
		v, err := scanRuleVersion(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("rule version scan failed").WithCause(err)
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("rule version list failed").WithCause(err)
	}
	return BuildPage(items, req, cursor != nil, func(v domain.RuleVersion) Cursor {
		return Cursor{ID: v.RuleVersionID, CreatedAt: v.CreatedAt}
	}), nil
}

// NextRuleVersionNumber locks the identity row, then reads MAX(version)+1.
// SQLite has no FOR UPDATE; its single-writer model gives the same
// guarantee.
func (s *SQLStore) NextRuleVersionNumber(ctx context.Context, ruleID string) (int, error) {
	if s.dialect == DialectPostgres {
		var id string
		err := s.q.QueryRowContext(ctx,
			`SELECT rule_id FROM rules WHERE rule_id = $1 FOR UPDATE`, ruleID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NotFoundf("rule %s not found", ruleID)
		}
		if err != nil {
			return 0, domain.Unavailablef("rule lock failed").WithCause(err)
		}
	}
	var next int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM rule_versions WHERE rule_id = $1`, ruleID).Scan(&next)
	if err != nil {
		return 0, domain.Unavailablef("version number query failed").WithCause(err)
	}
	return next, nil
}

func (s *SQLStore) UpdateRuleVersionStatus(ctx context.Context, ruleVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error {
	query := `
		UPDATE rule_versions
		SET status = $1, approved_by = COALESCE($2, approved_by), approved_at = COALESCE($3, approved_at)
		WHERE rule_version_id = $4
	`
	res, err := s.q.ExecContext(ctx, query, status, nullStr(approvedBy), approvedAt, ruleVersionID)
	if err != nil {
		return domain.Integrityf("rule version update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("rule version %s not found", ruleVersionID)
	}
	return nil
}

func (s *SQLStore) SupersedeApprovedRuleVersions(ctx context.Context, ruleID, exceptVersionID string) error {
	query := `
		UPDATE rule_versions
		SET status = $1
		WHERE rule_id = $2 AND status = $3 AND rule_version_id <> $4
	`
	_, err := s.q.ExecContext(ctx, query,
		domain.StatusSuperseded, ruleID, domain.StatusApproved, exceptVersionID)
	if err != nil {
		return domain.Integrityf("supersede failed").WithCause(err)
	}
	return nil
}
