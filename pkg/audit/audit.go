// Package audit records every state change on governance entities as an
// append-only log entry with before/after snapshots.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/ids"
	"github.com/cardshield/rulegov/pkg/store"
)

// Writer appends audit entries. The target store is passed per call so
// entries join the caller's transaction.
type Writer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter builds a Writer. logger may be nil.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger, now: time.Now}
}

// Record inserts one entry. oldValue and newValue are snapshotted as JSON;
// pass nil for the absent side of a create or delete.
func (w *Writer) Record(ctx context.Context, st store.AuditStore,
	entityType domain.AuditEntityType, entityID, action string,
	oldValue, newValue any, performedBy string) error {

	entry := &domain.AuditEntry{
		AuditID:     ids.NewString(),
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		PerformedBy: performedBy,
		PerformedAt: w.now().UTC(),
	}
	var err error
	if entry.OldValue, err = snapshot(oldValue); err != nil {
		return fmt.Errorf("audit: old snapshot failed: %w", err)
	}
	if entry.NewValue, err = snapshot(newValue); err != nil {
		return fmt.Errorf("audit: new snapshot failed: %w", err)
	}

	if err := st.InsertAudit(ctx, entry); err != nil {
		return err
	}
	w.logger.Info("audit",
		"entity_type", entityType,
		"entity_id", entityID,
		"action", action,
		"performed_by", performedBy,
	)
	return nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// List reads the log with filters and keyset pagination.
func List(ctx context.Context, st store.AuditStore, filter store.AuditFilter, req store.PageRequest) (*store.Page[domain.AuditEntry], error) {
	return st.ListAudit(ctx, filter, req)
}
