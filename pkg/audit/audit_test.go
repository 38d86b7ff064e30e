package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/store"
)

func TestRecordSnapshotsBothSides(t *testing.T) {
	m := store.NewMemoryStore()
	w := NewWriter(nil)
	ctx := context.Background()

	oldRule := domain.Rule{RuleID: "r-1", Status: domain.StatusDraft}
	newRule := domain.Rule{RuleID: "r-1", Status: domain.StatusPendingApproval}
	require.NoError(t, w.Record(ctx, m, domain.AuditEntityRule, "r-1", "SUBMIT",
		oldRule, newRule, "maker-1"))

	page, err := List(ctx, m, store.AuditFilter{EntityID: "r-1"}, store.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	entry := page.Items[0]
	assert.Equal(t, "SUBMIT", entry.Action)
	assert.Equal(t, "maker-1", entry.PerformedBy)

	var before, after domain.Rule
	require.NoError(t, json.Unmarshal(entry.OldValue, &before))
	require.NoError(t, json.Unmarshal(entry.NewValue, &after))
	assert.Equal(t, domain.StatusDraft, before.Status)
	assert.Equal(t, domain.StatusPendingApproval, after.Status)
}

func TestRecordCreateHasNoOldValue(t *testing.T) {
	m := store.NewMemoryStore()
	w := NewWriter(nil)
	ctx := context.Background()

	require.NoError(t, w.Record(ctx, m, domain.AuditEntityRule, "r-1", "CREATE",
		nil, domain.Rule{RuleID: "r-1"}, "maker-1"))

	page, err := List(ctx, m, store.AuditFilter{}, store.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].OldValue)
	assert.NotNil(t, page.Items[0].NewValue)
}

func TestListFilters(t *testing.T) {
	m := store.NewMemoryStore()
	w := NewWriter(nil)
	ctx := context.Background()

	require.NoError(t, w.Record(ctx, m, domain.AuditEntityRule, "r-1", "CREATE", nil, struct{}{}, "maker-1"))
	require.NoError(t, w.Record(ctx, m, domain.AuditEntityRuleset, "rs-1", "CREATE", nil, struct{}{}, "maker-2"))
	require.NoError(t, w.Record(ctx, m, domain.AuditEntityRule, "r-1", "SUBMIT", nil, struct{}{}, "maker-1"))

	et := domain.AuditEntityRule
	page, err := List(ctx, m, store.AuditFilter{EntityType: &et}, store.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = List(ctx, m, store.AuditFilter{Action: "SUBMIT"}, store.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = List(ctx, m, store.AuditFilter{PerformedBy: "maker-2"}, store.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, "rs-1", page.Items[0].EntityID)
}

func TestAuditLimitDefaults(t *testing.T) {
	m := store.NewMemoryStore()
	w := NewWriter(nil)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		require.NoError(t, w.Record(ctx, m, domain.AuditEntityRule, "r-1", "TOUCH", nil, struct{}{}, "maker-1"))
	}
	page, err := List(ctx, m, store.AuditFilter{}, store.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, store.DefaultAuditLimit, page.Limit)
	assert.Len(t, page.Items, store.DefaultAuditLimit)
	assert.True(t, page.HasNext)
}
