// Package catalog manages field identities and the validator-facing view
// of the active field set. The active catalog is cached in-process and,
// when configured, in a shared cache; invalidation happens on field
// approval and registry publish.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
	"github.com/cardshield/rulegov/pkg/ids"
	"github.com/cardshield/rulegov/pkg/store"
)

// Cache is the shared-cache hook. The Redis implementation lives in this
// package; tests use nil (in-process cache only).
type Cache interface {
	Get(ctx context.Context) (map[string]domain.FieldMeta, bool, error)
	Set(ctx context.Context, catalog map[string]domain.FieldMeta) error
	Del(ctx context.Context) error
}

// Service exposes catalog reads and field id assignment.
type Service struct {
	store  store.FieldStore
	cache  Cache
	logger *slog.Logger

	mu    sync.RWMutex
	local map[string]domain.FieldMeta
}

// NewService builds a Service. cache may be nil.
func NewService(st store.FieldStore, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cache: cache, logger: logger}
}

// ActiveCatalog returns the latest APPROVED snapshot per active field key.
// Reads go local cache, shared cache, then store.
func (s *Service) ActiveCatalog(ctx context.Context) (map[string]domain.FieldMeta, error) {
	s.mu.RLock()
	local := s.local
	s.mu.RUnlock()
	if local != nil {
		return local, nil
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		if err != nil {
			// Shared-cache failure degrades to a store read.
			s.logger.Warn("catalog cache read failed", "error", err)
		} else if ok {
			s.mu.Lock()
			s.local = cached
			s.mu.Unlock()
			return cached, nil
		}
	}

	catalog, err := s.store.ActiveCatalog(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.local = catalog
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.Set(ctx, catalog); err != nil {
			s.logger.Warn("catalog cache write failed", "error", err)
		}
	}
	return catalog, nil
}

// Invalidate drops both cache layers. Called after field approvals and
// registry publishes.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.local = nil
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.Del(ctx); err != nil {
			s.logger.Warn("catalog cache invalidation failed", "error", err)
		}
	}
}

// NextFieldID assigns the next custom field id (>= 27).
func (s *Service) NextFieldID(ctx context.Context) (int, error) {
	return s.store.NextFieldID(ctx)
}

// SeedStandardFields inserts the reserved fields that are not yet present.
// Each seed gets an identity row and an APPROVED version 1 snapshot, so
// the catalog is usable immediately after bootstrap.
func (s *Service) SeedStandardFields(ctx context.Context, by string) error {
	now := time.Now().UTC()
	seeded := 0
	for _, sf := range StandardFields {
		if _, err := s.store.GetField(ctx, sf.FieldKey); err == nil {
			continue
		} else if !domain.IsKind(err, domain.KindNotFound) {
			return err
		}

		field := &domain.RuleField{
			FieldKey:          sf.FieldKey,
			FieldID:           sf.FieldID,
			DisplayName:       sf.DisplayName,
			DataType:          sf.DataType,
			AllowedOperators:  sf.AllowedOperators,
			MultiValueAllowed: sf.MultiValueAllowed,
			IsSensitive:       sf.IsSensitive,
			IsActive:          true,
			CurrentVersion:    1,
			RowVersion:        1,
			CreatedBy:         by,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.CreateField(ctx, field); err != nil {
			return err
		}
		version := &domain.RuleFieldVersion{
			FieldVersionID:    ids.NewString(),
			FieldKey:          sf.FieldKey,
			Version:           1,
			DisplayName:       sf.DisplayName,
			DataType:          sf.DataType,
			AllowedOperators:  sf.AllowedOperators,
			MultiValueAllowed: sf.MultiValueAllowed,
			IsSensitive:       sf.IsSensitive,
			EnumValues:        sf.EnumValues,
			Status:            domain.StatusApproved,
			CreatedBy:         by,
			CreatedAt:         now,
			ApprovedBy:        by,
			ApprovedAt:        &now,
		}
		if err := s.store.CreateFieldVersion(ctx, version); err != nil {
			return err
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info("seeded standard fields", "count", seeded)
		s.Invalidate(ctx)
	}
	return nil
}
