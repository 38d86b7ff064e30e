package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

// MemoryStore implements Store with in-process maps. It backs unit tests
// and local tooling. Transactions work on a deep clone that replaces the
// live data only on commit.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
	inTx bool
}

type memData struct {
	fields            map[string]*domain.RuleField
	fieldVersions     map[string]*domain.RuleFieldVersion
	fieldMetadata     map[string]map[string]*domain.RuleFieldMetadata
	registryManifests map[int]*domain.FieldRegistryManifest
	rules             map[string]*domain.Rule
	ruleVersions      map[string]*domain.RuleVersion
	rulesets          map[string]*domain.Ruleset
	rulesetVersions   map[string]*domain.RulesetVersion
	approvals         map[string]*domain.Approval
	audit             []*domain.AuditEntry
	manifests         map[string]*domain.RulesetManifest
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

var _ Store = (*MemoryStore)(nil)

func newMemData() *memData {
	return &memData{
		fields:            map[string]*domain.RuleField{},
		fieldVersions:     map[string]*domain.RuleFieldVersion{},
		fieldMetadata:     map[string]map[string]*domain.RuleFieldMetadata{},
		registryManifests: map[int]*domain.FieldRegistryManifest{},
		rules:             map[string]*domain.Rule{},
		ruleVersions:      map[string]*domain.RuleVersion{},
		rulesets:          map[string]*domain.Ruleset{},
		rulesetVersions:   map[string]*domain.RulesetVersion{},
		approvals:         map[string]*domain.Approval{},
		audit:             []*domain.AuditEntry{},
		manifests:         map[string]*domain.RulesetManifest{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.fields {
		f := *v
		f.AllowedOperators = append([]domain.Operator(nil), v.AllowedOperators...)
		c.fields[k] = &f
	}
	for k, v := range d.fieldVersions {
		fv := *v
		fv.AllowedOperators = append([]domain.Operator(nil), v.AllowedOperators...)
		fv.EnumValues = append([]string(nil), v.EnumValues...)
		c.fieldVersions[k] = &fv
	}
	for fk, metas := range d.fieldMetadata {
		inner := map[string]*domain.RuleFieldMetadata{}
		for mk, m := range metas {
			cp := *m
			cp.MetaValue = append([]byte(nil), m.MetaValue...)
			inner[mk] = &cp
		}
		c.fieldMetadata[fk] = inner
	}
	for k, v := range d.registryManifests {
		m := *v
		c.registryManifests[k] = &m
	}
	for k, v := range d.rules {
		r := *v
		c.rules[k] = &r
	}
	for k, v := range d.ruleVersions {
		rv := *v
		rv.ConditionTree = append([]byte(nil), v.ConditionTree...)
		rv.Scope = cloneScope(v.Scope)
		c.ruleVersions[k] = &rv
	}
	for k, v := range d.rulesets {
		rs := *v
		c.rulesets[k] = &rs
	}
	for k, v := range d.rulesetVersions {
		rsv := *v
		rsv.RuleVersionIDs = append([]string(nil), v.RuleVersionIDs...)
		c.rulesetVersions[k] = &rsv
	}
	for k, v := range d.approvals {
		a := *v
		c.approvals[k] = &a
	}
	for _, e := range d.audit {
		cp := *e
		cp.OldValue = append([]byte(nil), e.OldValue...)
		cp.NewValue = append([]byte(nil), e.NewValue...)
		c.audit = append(c.audit, &cp)
	}
	for k, v := range d.manifests {
		m := *v
		c.manifests[k] = &m
	}
	return c
}

func cloneScope(scope map[string][]string) map[string][]string {
	if scope == nil {
		return nil
	}
	out := make(map[string][]string, len(scope))
	for k, v := range scope {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (m *MemoryStore) lock() {
	if !m.inTx {
		m.mu.Lock()
	}
}

func (m *MemoryStore) unlock() {
	if !m.inTx {
		m.mu.Unlock()
	}
}

func (m *MemoryStore) rlock() {
	if !m.inTx {
		m.mu.RLock()
	}
}

func (m *MemoryStore) runlock() {
	if !m.inTx {
		m.mu.RUnlock()
	}
}

// WithinTx clones the data, runs fn against the clone, and swaps it in on
// success. Nested calls join the ambient transaction.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := m.data.clone()
	tx := &MemoryStore{data: clone, inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.data = clone
	return nil
}

// LockRuleset is a no-op: the store-wide mutex already serializes writers.
func (m *MemoryStore) LockRuleset(ctx context.Context, rulesetID string) error { return nil }

// cursorLess orders by (CreatedAt, ID) ascending.
func cursorLess(a, b Cursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// memPage applies keyset pagination over the full item set.
func memPage[T any](all []T, req PageRequest, defaultLimit, maxLimit int, key func(T) Cursor) (*Page[T], error) {
	req, cursor, err := req.Normalize(defaultLimit, maxLimit)
	if err != nil {
		return nil, err
	}

	if req.Direction == DirectionPrev {
		// Ascending, rows strictly after the cursor.
		sort.Slice(all, func(i, j int) bool { return cursorLess(key(all[i]), key(all[j])) })
		filtered := all[:0:0]
		for _, item := range all {
			if cursorLess(*cursor, key(item)) {
				filtered = append(filtered, item)
			}
		}
		if len(filtered) > req.Limit+1 {
			filtered = filtered[:req.Limit+1]
		}
		return BuildPage(filtered, req, cursor != nil, key), nil
	}

	sort.Slice(all, func(i, j int) bool { return cursorLess(key(all[j]), key(all[i])) })
	filtered := all
	if cursor != nil {
		filtered = all[:0:0]
		for _, item := range all {
			if cursorLess(key(item), *cursor) {
				filtered = append(filtered, item)
			}
		}
	}
	if len(filtered) > req.Limit+1 {
		filtered = filtered[:req.Limit+1]
	}
	return BuildPage(filtered, req, cursor != nil, key), nil
}

func (m *MemoryStore) CreateField(ctx context.Context, f *domain.RuleField) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.fields[f.FieldKey]; exists {
		return domain.Conflictf("field %s already exists", f.FieldKey)
	}
	for _, existing := range m.data.fields {
		if existing.FieldID == f.FieldID {
			return domain.Conflictf("field id %d already assigned", f.FieldID)
		}
	}
	cp := *f
	m.data.fields[f.FieldKey] = &cp
	return nil
}

func (m *MemoryStore) GetField(ctx context.Context, fieldKey string) (*domain.RuleField, error) {
	m.rlock()
	defer m.runlock()
	f, ok := m.data.fields[fieldKey]
	if !ok {
		return nil, domain.NotFoundf("field %s not found", fieldKey)
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) UpdateField(ctx context.Context, f *domain.RuleField, expectedRowVersion int) error {
	m.lock()
	defer m.unlock()
	existing, ok := m.data.fields[f.FieldKey]
	if !ok {
		return domain.NotFoundf("field %s not found", f.FieldKey)
	}
	if existing.RowVersion != expectedRowVersion {
		return domain.Conflictf("field %s was modified concurrently (expected row_version %d)",
			f.FieldKey, expectedRowVersion)
	}
	cp := *f
	cp.RowVersion = expectedRowVersion + 1
	m.data.fields[f.FieldKey] = &cp
	f.RowVersion = cp.RowVersion
	return nil
}

func (m *MemoryStore) ListFields(ctx context.Context, req PageRequest) (*Page[domain.RuleField], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.RuleField, 0, len(m.data.fields))
	for _, f := range m.data.fields {
		all = append(all, *f)
	}
	return memPage(all, req, DefaultLimit, MaxLimit, func(f domain.RuleField) Cursor {
		return Cursor{ID: f.FieldKey, CreatedAt: f.CreatedAt}
	})
}

func (m *MemoryStore) NextFieldID(ctx context.Context) (int, error) {
	m.rlock()
	defer m.runlock()
	maxID := 0
	for _, f := range m.data.fields {
		if f.FieldID > maxID {
			maxID = f.FieldID
		}
	}
	if maxID < 26 {
		return 27, nil
	}
	return maxID + 1, nil
}

func (m *MemoryStore) CreateFieldVersion(ctx context.Context, v *domain.RuleFieldVersion) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.fieldVersions[v.FieldVersionID]; exists {
		return domain.Conflictf("field version %s already exists", v.FieldVersionID)
	}
	for _, existing := range m.data.fieldVersions {
		if existing.FieldKey == v.FieldKey && existing.Version == v.Version {
			return domain.Conflictf("field %s version %d already exists", v.FieldKey, v.Version)
		}
	}
	cp := *v
	m.data.fieldVersions[v.FieldVersionID] = &cp
	return nil
}

func (m *MemoryStore) GetFieldVersion(ctx context.Context, fieldVersionID string) (*domain.RuleFieldVersion, error) {
	m.rlock()
	defer m.runlock()
	v, ok := m.data.fieldVersions[fieldVersionID]
	if !ok {
		return nil, domain.NotFoundf("field version %s not found", fieldVersionID)
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) UpdateFieldVersionStatus(ctx context.Context, fieldVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error {
	m.lock()
	defer m.unlock()
	v, ok := m.data.fieldVersions[fieldVersionID]
	if !ok {
		return domain.NotFoundf("field version %s not found", fieldVersionID)
	}
	v.Status = status
	if approvedBy != "" {
		v.ApprovedBy = approvedBy
	}
	if approvedAt != nil {
		v.ApprovedAt = approvedAt
	}
	return nil
}

func (m *MemoryStore) SupersedeApprovedFieldVersions(ctx context.Context, fieldKey, exceptVersionID string) error {
	m.lock()
	defer m.unlock()
	for id, v := range m.data.fieldVersions {
		if v.FieldKey == fieldKey && v.Status == domain.StatusApproved && id != exceptVersionID {
			v.Status = domain.StatusSuperseded
		}
	}
	return nil
}

func (m *MemoryStore) ListApprovedFieldVersions(ctx context.Context) ([]domain.RuleFieldVersion, error) {
	m.rlock()
	defer m.runlock()
	result := make([]domain.RuleFieldVersion, 0)
	for _, v := range m.data.fieldVersions {
		if v.Status == domain.StatusApproved {
			result = append(result, *v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FieldKey < result[j].FieldKey })
	return result, nil
}

func (m *MemoryStore) ActiveCatalog(ctx context.Context) (map[string]domain.FieldMeta, error) {
	m.rlock()
	defer m.runlock()
	catalog := make(map[string]domain.FieldMeta)
	for _, f := range m.data.fields {
		if !f.IsActive {
			continue
		}
		for _, v := range m.data.fieldVersions {
			if v.FieldKey == f.FieldKey && v.Version == f.CurrentVersion && v.Status == domain.StatusApproved {
				catalog[f.FieldKey] = domain.FieldMeta{
					FieldKey:          f.FieldKey,
					FieldID:           f.FieldID,
					DataType:          v.DataType,
					AllowedOperators:  append([]domain.Operator(nil), v.AllowedOperators...),
					MultiValueAllowed: v.MultiValueAllowed,
					EnumValues:        append([]string(nil), v.EnumValues...),
					IsActive:          true,
				}
			}
		}
	}
	return catalog, nil
}

func (m *MemoryStore) UpsertFieldMetadata(ctx context.Context, meta *domain.RuleFieldMetadata) error {
	m.lock()
	defer m.unlock()
	inner, ok := m.data.fieldMetadata[meta.FieldKey]
	if !ok {
		inner = map[string]*domain.RuleFieldMetadata{}
		m.data.fieldMetadata[meta.FieldKey] = inner
	}
	cp := *meta
	inner[meta.MetaKey] = &cp
	return nil
}

func (m *MemoryStore) ListFieldMetadata(ctx context.Context, fieldKey string) ([]domain.RuleFieldMetadata, error) {
	m.rlock()
	defer m.runlock()
	result := make([]domain.RuleFieldMetadata, 0)
	for _, meta := range m.data.fieldMetadata[fieldKey] {
		result = append(result, *meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MetaKey < result[j].MetaKey })
	return result, nil
}

func (m *MemoryStore) InsertFieldRegistryManifest(ctx context.Context, manifest *domain.FieldRegistryManifest) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.registryManifests[manifest.RegistryVersion]; exists {
		return domain.Conflictf("field registry manifest v%d already exists", manifest.RegistryVersion)
	}
	cp := *manifest
	m.data.registryManifests[manifest.RegistryVersion] = &cp
	return nil
}

func (m *MemoryStore) LatestFieldRegistryVersion(ctx context.Context) (int, error) {
	m.rlock()
	defer m.runlock()
	latest := 0
	for v := range m.data.registryManifests {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (m *MemoryStore) CreateRule(ctx context.Context, r *domain.Rule) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.rules[r.RuleID]; exists {
		return domain.Conflictf("rule %s already exists", r.RuleID)
	}
	cp := *r
	m.data.rules[r.RuleID] = &cp
	return nil
}

func (m *MemoryStore) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	m.rlock()
	defer m.runlock()
	r, ok := m.data.rules[ruleID]
	if !ok {
		return nil, domain.NotFoundf("rule %s not found", ruleID)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRule(ctx context.Context, r *domain.Rule, expectedRowVersion int) error {
	m.lock()
	defer m.unlock()
	existing, ok := m.data.rules[r.RuleID]
	if !ok {
		return domain.NotFoundf("rule %s not found", r.RuleID)
	}
	if existing.RowVersion != expectedRowVersion {
		return domain.Conflictf("rule %s was modified concurrently (expected row_version %d)",
			r.RuleID, expectedRowVersion)
	}
	cp := *r
	cp.RowVersion = expectedRowVersion + 1
	m.data.rules[r.RuleID] = &cp
	r.RowVersion = cp.RowVersion
	return nil
}

func (m *MemoryStore) ListRules(ctx context.Context, filter RuleFilter, req PageRequest) (*Page[domain.Rule], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.Rule, 0, len(m.data.rules))
	for _, r := range m.data.rules {
		if filter.RuleType != nil && r.RuleType != *filter.RuleType {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		all = append(all, *r)
	}
	return memPage(all, req, DefaultLimit, MaxLimit, func(r domain.Rule) Cursor {
		return Cursor{ID: r.RuleID, CreatedAt: r.CreatedAt}
	})
}

func (m *MemoryStore) CreateRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.ruleVersions[v.RuleVersionID]; exists {
		return domain.Conflictf("rule version %s already exists", v.RuleVersionID)
	}
	for _, existing := range m.data.ruleVersions {
		if existing.RuleID == v.RuleID && existing.Version == v.Version {
			return domain.Conflictf("rule %s version %d already exists", v.RuleID, v.Version)
		}
	}
	cp := *v
	m.data.ruleVersions[v.RuleVersionID] = &cp
	return nil
}

func (m *MemoryStore) GetRuleVersion(ctx context.Context, ruleVersionID string) (*domain.RuleVersion, error) {
	m.rlock()
	defer m.runlock()
	v, ok := m.data.ruleVersions[ruleVersionID]
	if !ok {
		return nil, domain.NotFoundf("rule version %s not found", ruleVersionID)
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) GetRuleVersions(ctx context.Context, ruleVersionIDs []string) ([]domain.RuleVersion, error) {
	m.rlock()
	defer m.runlock()
	result := make([]domain.RuleVersion, 0, len(ruleVersionIDs))
	for _, id := range ruleVersionIDs {
		v, ok := m.data.ruleVersions[id]
		if !ok {
			return nil, domain.NotFoundf("rule version %s not found", id)
		}
		result = append(result, *v)
	}
	return result, nil
}

func (m *MemoryStore) ListRuleVersions(ctx context.Context, ruleID string, status *domain.EntityStatus, req PageRequest) (*Page[domain.RuleVersion], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.RuleVersion, 0)
	for _, v := range m.data.ruleVersions {
		if v.RuleID != ruleID {
			continue
		}
		if status != nil && v.Status != *status {
			continue
		}
		all = append(all, *v)
	}
	return memPage(all, req, DefaultLimit, MaxLimit, func(v domain.RuleVersion) Cursor {
		return Cursor{ID: v.RuleVersionID, CreatedAt: v.CreatedAt}
	})
}

func (m *MemoryStore) NextRuleVersionNumber(ctx context.Context, ruleID string) (int, error) {
	m.rlock()
	defer m.runlock()
	if _, ok := m.data.rules[ruleID]; !ok {
		return 0, domain.NotFoundf("rule %s not found", ruleID)
	}
	next := 1
	for _, v := range m.data.ruleVersions {
		if v.RuleID == ruleID && v.Version >= next {
			next = v.Version + 1
		}
	}
	return next, nil
}

func (m *MemoryStore) UpdateRuleVersionStatus(ctx context.Context, ruleVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error {
	m.lock()
	defer m.unlock()
	v, ok := m.data.ruleVersions[ruleVersionID]
	if !ok {
		return domain.NotFoundf("rule version %s not found", ruleVersionID)
	}
	v.Status = status
	if approvedBy != "" {
		v.ApprovedBy = approvedBy
	}
	if approvedAt != nil {
		v.ApprovedAt = approvedAt
	}
	return nil
}

func (m *MemoryStore) SupersedeApprovedRuleVersions(ctx context.Context, ruleID, exceptVersionID string) error {
	m.lock()
	defer m.unlock()
	for id, v := range m.data.ruleVersions {
		if v.RuleID == ruleID && v.Status == domain.StatusApproved && id != exceptVersionID {
			v.Status = domain.StatusSuperseded
		}
	}
	return nil
}

func (m *MemoryStore) CreateRuleset(ctx context.Context, rs *domain.Ruleset) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.rulesets[rs.RulesetID]; exists {
		return domain.Conflictf("ruleset %s already exists", rs.RulesetID)
	}
	for _, existing := range m.data.rulesets {
		if existing.Environment == rs.Environment && existing.Region == rs.Region &&
			existing.Country == rs.Country && existing.RuleType == rs.RuleType {
			return domain.Conflictf("ruleset for (%s, %s, %s, %s) already exists",
				rs.Environment, rs.Region, rs.Country, rs.RuleType)
		}
	}
	cp := *rs
	m.data.rulesets[rs.RulesetID] = &cp
	return nil
}

func (m *MemoryStore) GetRuleset(ctx context.Context, rulesetID string) (*domain.Ruleset, error) {
	m.rlock()
	defer m.runlock()
	rs, ok := m.data.rulesets[rulesetID]
	if !ok {
		return nil, domain.NotFoundf("ruleset %s not found", rulesetID)
	}
	cp := *rs
	return &cp, nil
}

func (m *MemoryStore) GetRulesetByNaturalKey(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*domain.Ruleset, error) {
	m.rlock()
	defer m.runlock()
	for _, rs := range m.data.rulesets {
		if rs.Environment == environment && rs.Region == region &&
			rs.Country == country && rs.RuleType == ruleType {
			cp := *rs
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("ruleset (%s, %s, %s, %s) not found",
		environment, region, country, ruleType)
}

func (m *MemoryStore) UpdateRuleset(ctx context.Context, rs *domain.Ruleset, expectedRowVersion int) error {
	m.lock()
	defer m.unlock()
	existing, ok := m.data.rulesets[rs.RulesetID]
	if !ok {
		return domain.NotFoundf("ruleset %s not found", rs.RulesetID)
	}
	if existing.RowVersion != expectedRowVersion {
		return domain.Conflictf("ruleset %s was modified concurrently (expected row_version %d)",
			rs.RulesetID, expectedRowVersion)
	}
	existing.Name = rs.Name
	existing.Description = rs.Description
	existing.RowVersion = expectedRowVersion + 1
	existing.UpdatedAt = rs.UpdatedAt
	rs.RowVersion = existing.RowVersion
	return nil
}

func (m *MemoryStore) ListRulesets(ctx context.Context, filter RulesetFilter, req PageRequest) (*Page[domain.Ruleset], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.Ruleset, 0, len(m.data.rulesets))
	for _, rs := range m.data.rulesets {
		if filter.Environment != "" && rs.Environment != filter.Environment {
			continue
		}
		if filter.Region != "" && rs.Region != filter.Region {
			continue
		}
		if filter.Country != "" && rs.Country != filter.Country {
			continue
		}
		if filter.RuleType != nil && rs.RuleType != *filter.RuleType {
			continue
		}
		all = append(all, *rs)
	}
	return memPage(all, req, DefaultLimit, MaxLimit, func(rs domain.Ruleset) Cursor {
		return Cursor{ID: rs.RulesetID, CreatedAt: rs.CreatedAt}
	})
}

func (m *MemoryStore) CreateRulesetVersion(ctx context.Context, v *domain.RulesetVersion) error {
	m.lock()
	defer m.unlock()
	if len(v.RuleVersionIDs) == 0 {
		return domain.Validationf("ruleset version requires at least one rule version")
	}
	rs, ok := m.data.rulesets[v.RulesetID]
	if !ok {
		return domain.NotFoundf("ruleset %s not found", v.RulesetID)
	}
	for _, rvID := range v.RuleVersionIDs {
		rv, ok := m.data.ruleVersions[rvID]
		if !ok {
			return domain.NotFoundf("rule version %s not found", rvID)
		}
		rule, ok := m.data.rules[rv.RuleID]
		if !ok {
			return domain.NotFoundf("rule %s not found", rv.RuleID)
		}
		if rule.RuleType != rs.RuleType {
			return domain.Validationf("rule version %s has a different rule_type than ruleset %s",
				rvID, v.RulesetID).
				WithDetail("rule_version_id", rvID).
				WithDetail("ruleset_id", v.RulesetID)
		}
	}
	if _, exists := m.data.rulesetVersions[v.RulesetVersionID]; exists {
		return domain.Conflictf("ruleset version %s already exists", v.RulesetVersionID)
	}
	for _, existing := range m.data.rulesetVersions {
		if existing.RulesetID == v.RulesetID && existing.Version == v.Version {
			return domain.Conflictf("ruleset %s version %d already exists", v.RulesetID, v.Version)
		}
	}
	cp := *v
	cp.RuleVersionIDs = append([]string(nil), v.RuleVersionIDs...)
	sort.Strings(cp.RuleVersionIDs)
	m.data.rulesetVersions[v.RulesetVersionID] = &cp
	return nil
}

func (m *MemoryStore) GetRulesetVersion(ctx context.Context, rulesetVersionID string) (*domain.RulesetVersion, error) {
	m.rlock()
	defer m.runlock()
	v, ok := m.data.rulesetVersions[rulesetVersionID]
	if !ok {
		return nil, domain.NotFoundf("ruleset version %s not found", rulesetVersionID)
	}
	cp := *v
	cp.RuleVersionIDs = append([]string(nil), v.RuleVersionIDs...)
	return &cp, nil
}

func (m *MemoryStore) ListRulesetVersions(ctx context.Context, rulesetID string, status *domain.EntityStatus, req PageRequest) (*Page[domain.RulesetVersion], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.RulesetVersion, 0)
	for _, v := range m.data.rulesetVersions {
		if v.RulesetID != rulesetID {
			continue
		}
		if status != nil && v.Status != *status {
			continue
		}
		cp := *v
		cp.RuleVersionIDs = append([]string(nil), v.RuleVersionIDs...)
		all = append(all, cp)
	}
	return memPage(all, req, DefaultLimit, MaxLimit, func(v domain.RulesetVersion) Cursor {
		return Cursor{ID: v.RulesetVersionID, CreatedAt: v.CreatedAt}
	})
}

func (m *MemoryStore) NextRulesetVersionNumber(ctx context.Context, rulesetID string) (int, error) {
	m.rlock()
	defer m.runlock()
	if _, ok := m.data.rulesets[rulesetID]; !ok {
		return 0, domain.NotFoundf("ruleset %s not found", rulesetID)
	}
	next := 1
	for _, v := range m.data.rulesetVersions {
		if v.RulesetID == rulesetID && v.Version >= next {
			next = v.Version + 1
		}
	}
	return next, nil
}

func (m *MemoryStore) UpdateRulesetVersionStatus(ctx context.Context, rulesetVersionID string, status domain.EntityStatus, approvedBy string, approvedAt *time.Time) error {
	m.lock()
	defer m.unlock()
	v, ok := m.data.rulesetVersions[rulesetVersionID]
	if !ok {
		return domain.NotFoundf("ruleset version %s not found", rulesetVersionID)
	}
	v.Status = status
	if approvedBy != "" {
		v.ApprovedBy = approvedBy
	}
	if approvedAt != nil {
		v.ApprovedAt = approvedAt
	}
	return nil
}

func (m *MemoryStore) SupersedeApprovedRulesetVersions(ctx context.Context, rulesetID, exceptVersionID string) error {
	m.lock()
	defer m.unlock()
	for id, v := range m.data.rulesetVersions {
		if v.RulesetID == rulesetID && v.Status == domain.StatusApproved && id != exceptVersionID {
			v.Status = domain.StatusSuperseded
		}
	}
	return nil
}

func (m *MemoryStore) ActiveRulesetVersion(ctx context.Context, rulesetID string) (*domain.RulesetVersion, error) {
	m.rlock()
	defer m.runlock()
	for _, v := range m.data.rulesetVersions {
		if v.RulesetID == rulesetID && v.Status == domain.StatusActive {
			cp := *v
			cp.RuleVersionIDs = append([]string(nil), v.RuleVersionIDs...)
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("ruleset %s has no active version", rulesetID)
}

func (m *MemoryStore) ActivateRulesetVersion(ctx context.Context, rulesetVersionID string, at time.Time) error {
	m.lock()
	defer m.unlock()
	v, ok := m.data.rulesetVersions[rulesetVersionID]
	if !ok {
		return domain.NotFoundf("ruleset version %s not found", rulesetVersionID)
	}
	v.Status = domain.StatusActive
	t := at
	v.ActivatedAt = &t
	return nil
}

func (m *MemoryStore) InsertApproval(ctx context.Context, a *domain.Approval) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.approvals[a.ApprovalID]; exists {
		return domain.Conflictf("approval %s already exists", a.ApprovalID)
	}
	if a.IdempotencyKey != "" {
		for _, existing := range m.data.approvals {
			if existing.EntityType == a.EntityType && existing.EntityID == a.EntityID &&
				existing.IdempotencyKey == a.IdempotencyKey {
				return domain.Conflictf("approval with idempotency key %q already exists", a.IdempotencyKey)
			}
		}
	}
	cp := *a
	m.data.approvals[a.ApprovalID] = &cp
	return nil
}

func (m *MemoryStore) GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error) {
	m.rlock()
	defer m.runlock()
	a, ok := m.data.approvals[approvalID]
	if !ok {
		return nil, domain.NotFoundf("approval %s not found", approvalID)
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) FindApprovalByIdempotencyKey(ctx context.Context, entityType domain.ApprovalEntityType, entityID, key string) (*domain.Approval, error) {
	m.rlock()
	defer m.runlock()
	for _, a := range m.data.approvals {
		if a.EntityType == entityType && a.EntityID == entityID && a.IdempotencyKey == key {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("no approval with idempotency key %q", key)
}

func (m *MemoryStore) PendingApproval(ctx context.Context, entityType domain.ApprovalEntityType, entityID string) (*domain.Approval, error) {
	m.rlock()
	defer m.runlock()
	var latest *domain.Approval
	for _, a := range m.data.approvals {
		if a.EntityType != entityType || a.EntityID != entityID || a.Status != domain.ApprovalPending {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) ||
			(a.CreatedAt.Equal(latest.CreatedAt) && a.ApprovalID > latest.ApprovalID) {
			latest = a
		}
	}
	if latest == nil {
		return nil, domain.NotFoundf("no pending approval for %s %s", entityType, entityID)
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) UpdateApprovalDecision(ctx context.Context, approvalID string, status domain.ApprovalStatus, checker, remarks string, decidedAt time.Time) error {
	m.lock()
	defer m.unlock()
	a, ok := m.data.approvals[approvalID]
	if !ok {
		return domain.NotFoundf("approval %s not found", approvalID)
	}
	a.Status = status
	a.Checker = checker
	a.Remarks = remarks
	t := decidedAt
	a.DecidedAt = &t
	return nil
}

func (m *MemoryStore) ListApprovals(ctx context.Context, filter ApprovalFilter, req PageRequest) (*Page[domain.Approval], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.Approval, 0, len(m.data.approvals))
	for _, a := range m.data.approvals {
		if filter.EntityType != nil && a.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != "" && a.EntityID != filter.EntityID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		all = append(all, *a)
	}
	return memPage(all, req, DefaultLimit, MaxLimit, func(a domain.Approval) Cursor {
		return Cursor{ID: a.ApprovalID, CreatedAt: a.CreatedAt}
	})
}

func (m *MemoryStore) InsertAudit(ctx context.Context, e *domain.AuditEntry) error {
	m.lock()
	defer m.unlock()
	cp := *e
	m.data.audit = append(m.data.audit, &cp)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, filter AuditFilter, req PageRequest) (*Page[domain.AuditEntry], error) {
	m.rlock()
	defer m.runlock()
	all := make([]domain.AuditEntry, 0, len(m.data.audit))
	for _, e := range m.data.audit {
		if filter.EntityType != nil && e.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.PerformedBy != "" && e.PerformedBy != filter.PerformedBy {
			continue
		}
		if filter.Since != nil && e.PerformedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.PerformedAt.After(*filter.Until) {
			continue
		}
		all = append(all, *e)
	}
	return memPage(all, req, DefaultAuditLimit, MaxAuditLimit, func(e domain.AuditEntry) Cursor {
		return Cursor{ID: e.AuditID, CreatedAt: e.PerformedAt}
	})
}

func (m *MemoryStore) InsertManifest(ctx context.Context, manifest *domain.RulesetManifest) error {
	m.lock()
	defer m.unlock()
	if _, exists := m.data.manifests[manifest.ManifestID]; exists {
		return domain.Conflictf("manifest %s already exists", manifest.ManifestID)
	}
	for _, existing := range m.data.manifests {
		if existing.Environment == manifest.Environment && existing.Region == manifest.Region &&
			existing.Country == manifest.Country && existing.RuleType == manifest.RuleType &&
			existing.RulesetVersion == manifest.RulesetVersion {
			return domain.Conflictf("manifest for (%s, %s, %s, %s) v%d already exists",
				manifest.Environment, manifest.Region, manifest.Country,
				manifest.RuleType, manifest.RulesetVersion)
		}
	}
	cp := *manifest
	m.data.manifests[manifest.ManifestID] = &cp
	return nil
}

func (m *MemoryStore) GetManifestByRulesetVersionID(ctx context.Context, rulesetVersionID string) (*domain.RulesetManifest, error) {
	m.rlock()
	defer m.runlock()
	for _, manifest := range m.data.manifests {
		if manifest.RulesetVersionID == rulesetVersionID {
			cp := *manifest
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("no manifest for ruleset version %s", rulesetVersionID)
}

func (m *MemoryStore) LatestManifest(ctx context.Context, environment, region, country string, ruleType domain.RuleType) (*domain.RulesetManifest, error) {
	m.rlock()
	defer m.runlock()
	var latest *domain.RulesetManifest
	for _, manifest := range m.data.manifests {
		if manifest.Environment != environment || manifest.Region != region ||
			manifest.Country != country || manifest.RuleType != ruleType {
			continue
		}
		if latest == nil || manifest.RulesetVersion > latest.RulesetVersion {
			latest = manifest
		}
	}
	if latest == nil {
		return nil, domain.NotFoundf("no manifest for (%s, %s, %s, %s)",
			environment, region, country, ruleType)
	}
	cp := *latest
	return &cp, nil
}
