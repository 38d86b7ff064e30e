package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cardshield/rulegov/pkg/domain"
)

const auditColumns = `audit_id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at`

func (s *SQLStore) InsertAudit(ctx context.Context, e *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q.ExecContext(ctx, query,
		e.AuditID, e.EntityType, e.EntityID, e.Action,
		rawOrNull(e.OldValue), rawOrNull(e.NewValue),
		e.PerformedBy, e.PerformedAt,
	)
	return mapInsertErr(err, "audit entry", e.AuditID)
}

func rawOrNull(raw []byte) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

func (s *SQLStore) ListAudit(ctx context.Context, filter AuditFilter, req PageRequest) (*Page[domain.AuditEntry], error) {
	req, cursor, err := req.Normalize(DefaultAuditLimit, MaxAuditLimit)
	if err != nil {
		return nil, err
	}

	conds := []string{}
	args := []any{}
	if filter.EntityType != nil {
		args = append(args, *filter.EntityType)
		conds = append(conds, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conds = append(conds, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.PerformedBy != "" {
		args = append(args, filter.PerformedBy)
		conds = append(conds, fmt.Sprintf("performed_by = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conds = append(conds, fmt.Sprintf("performed_at >= $%d", len(args)))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		conds = append(conds, fmt.Sprintf("performed_at <= $%d", len(args)))
	}
	where, order := keysetWindow("performed_at", "audit_id", cursor, req.Direction, len(args)+1)
	if where != "" {
		conds = append(conds, where)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, req.Limit+1)
	query += fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("audit list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.AuditEntry, 0, req.Limit+1)
	for rows.Next() {
		var (
			e        domain.AuditEntry
			oldValue sql.NullString
			newValue sql.NullString
		)
		if err := rows.Scan(&e.AuditID, &e.EntityType, &e.EntityID, &e.Action,
			&oldValue, &newValue, &e.PerformedBy, &e.PerformedAt); err != nil {
			return nil, domain.Unavailablef("audit scan failed").WithCause(err)
		}
		if oldValue.Valid {
			e.OldValue = []byte(oldValue.String)
		}
		if newValue.Valid {
			e.NewValue = []byte(newValue.String)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("audit list failed").WithCause(err)
	}
	return BuildPage(items, req, cursor != nil, func(e domain.AuditEntry) Cursor {
		return Cursor{ID: e.AuditID, CreatedAt: e.PerformedAt}
	}), nil
}
