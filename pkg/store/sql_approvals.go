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

const approvalColumns = `approval_id, entity_type, entity_id, action, status, maker, checker, remarks, idempotency_key, created_at, decided_at`

func (s *SQLStore) InsertApproval(ctx context.Context, a *domain.Approval) error {
	query := `
		INSERT INTO approvals (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q.ExecContext(ctx, query,
		a.ApprovalID, a.EntityType, a.EntityID, a.Action, a.Status,
		a.Maker, nullStr(a.Checker), nullStr(a.Remarks), nullStr(a.IdempotencyKey),
		a.CreatedAt, a.DecidedAt,
	)
	return mapInsertErr(err, "approval", a.ApprovalID)
}

func scanApproval(scan func(...any) error) (*domain.Approval, error) {
	var (
		a        domain.Approval
		checker  sql.NullString
		remarks  sql.NullString
		idemKey  sql.NullString
		decided  sql.NullTime
	)
	if err := scan(&a.ApprovalID, &a.EntityType, &a.EntityID, &a.Action, &a.Status,
		&a.Maker, &checker, &remarks, &idemKey, &a.CreatedAt, &decided); err != nil {
		return nil, err
	}
	a.Checker = checker.String
	a.Remarks = remarks.String
	a.IdempotencyKey = idemKey.String
	if decided.Valid {
		t := decided.Time
		a.DecidedAt = &t
	}
	return &a, nil
}

func (s *SQLStore) GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE approval_id = $1`
	a, err := scanApproval(s.q.QueryRowContext(ctx, query, approvalID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("approval %s not found", approvalID)
		}
		return nil, domain.Unavailablef("approval query failed").WithCause(err)
	}
	return a, nil
}

func (s *SQLStore) FindApprovalByIdempotencyKey(ctx context.Context, entityType domain.ApprovalEntityType, entityID, key string) (*domain.Approval, error) {
	query := `
		SELECT ` + approvalColumns + ` FROM approvals
		WHERE entity_type = $1 AND entity_id = $2 AND idempotency_key = $3
	`
	a, err := scanApproval(s.q.QueryRowContext(ctx, query, entityType, entityID, key).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("no approval with idempotency key %q", key)
		}
		return nil, domain.Unavailablef("approval query failed").WithCause(err)
	}
	return a, nil
}

// PendingApproval returns the most recent PENDING row for the entity.
func (s *SQLStore) PendingApproval(ctx context.Context, entityType domain.ApprovalEntityType, entityID string) (*domain.Approval, error) {
	query := `
		SELECT ` + approvalColumns + ` FROM approvals
		WHERE entity_type = $1 AND entity_id = $2 AND status = $3
		ORDER BY created_at DESC, approval_id DESC LIMIT 1
	`
	a, err := scanApproval(s.q.QueryRowContext(ctx, query, entityType, entityID, domain.ApprovalPending).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("no pending approval for %s %s", entityType, entityID)
		}
		return nil, domain.Unavailablef("approval query failed").WithCause(err)
	}
	return a, nil
}

func (s *SQLStore) UpdateApprovalDecision(ctx context.Context, approvalID string, status domain.ApprovalStatus, checker, remarks string, decidedAt time.Time) error {
	query := `
		UPDATE approvals
		SET status = $1, checker = $2, remarks = $3, decided_at = $4
		WHERE approval_id = $5
	`
	res, err := s.q.ExecContext(ctx, query, status, nullStr(checker), nullStr(remarks), decidedAt, approvalID)
	if err != nil {
		return domain.Integrityf("approval update failed").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("approval %s not found", approvalID)
	}
	return nil
}

func (s *SQLStore) ListApprovals(ctx context.Context, filter ApprovalFilter, req PageRequest) (*Page[domain.Approval], error) {
	req, cursor, err := req.Normalize(DefaultLimit, MaxLimit)
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
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where, order := keysetWindow("created_at", "approval_id", cursor, req.Direction, len(args)+1)
	if where != "" {
		conds = append(conds, where)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, req.Limit+1)
	query += fmt.Sprintf(" %s LIMIT $%d", order, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailablef("approval list failed").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]domain.Approval, 0, req.Limit+1)
	for rows.Next() {
		a, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, domain.Unavailablef("approval scan failed").WithCause(err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailablef("approval list failed").WithCause(err)
	}
	return BuildPage(items, req, cursor != nil, func(a domain.Approval) Cursor {
		return Cursor{ID: a.ApprovalID, CreatedAt: a.CreatedAt}
	}), nil
}
