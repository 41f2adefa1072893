package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/storage"
	logx "evsched/pkg/logx"
)

// Save creates or updates def. On update the previously armed key is
// disarmed before the store is touched; if the store then fails the previous
// definition is armed again, and nothing is armed for def. An ID owned by
// another tenant fails with storage.ErrForeignID. Arming failures are logged,
// not returned.
func (s *Service) Save(ctx context.Context, def *domain.Definition) error {
	if def == nil {
		return ErrNilDefinition
	}

	var prev *domain.Definition
	if !def.IsNew() {
		old, err := s.store.FindByID(ctx, def.TenantID, def.ID)
		switch {
		case err == nil:
			prev = &old
		case errors.Is(err, storage.ErrNotFound):
		default:
			return fmt.Errorf("load previous definition: %w", err)
		}
	}

	var prevKey domain.TaskKey
	disarmed := false
	if s.Running() && !def.IsNew() {
		src := *def
		if prev != nil {
			src = *prev
		}
		if k, err := domain.KeyFor(src); err == nil {
			prevKey = k
			s.disarm(k)
			disarmed = true
		}
	}

	if err := s.store.Save(ctx, def); err != nil {
		if disarmed && prev != nil {
			if _, aerr := s.arm(*prev); aerr != nil {
				s.log.Warn("re-arm after failed save", logx.Stringer("key", prevKey), logx.Err(aerr))
			}
		}
		return err
	}

	if _, err := s.arm(*def); err != nil {
		s.log.Warn("saved definition not armed",
			logx.Stringer("event_id", def.ID),
			logx.Stringer("tenant_id", def.TenantID),
			logx.Err(err),
		)
	}
	eventbus.Emit(s.bus, eventbus.DefinitionSaved, *def)
	return nil
}

// Delete disarms the definition's trigger and then removes it from the store.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	def, err := s.store.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if k, kerr := domain.KeyFor(def); kerr == nil {
		s.disarm(k)
	}
	if err := s.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	eventbus.Emit(s.bus, eventbus.DefinitionDeleted, def)
	return nil
}

// DeleteByTenant disarms and removes every definition of tenantID.
func (s *Service) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	page := storage.PageLink{PageSize: 1000}
	for {
		pd, err := s.store.ListByTenant(ctx, tenantID, page)
		if err != nil {
			return 0, err
		}
		for _, def := range pd.Data {
			if k, kerr := domain.KeyFor(def); kerr == nil {
				s.disarm(k)
			}
		}
		if !pd.HasNext {
			break
		}
		page.Page++
	}
	n, err := s.store.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.log.Info("tenant definitions deleted", logx.Stringer("tenant_id", tenantID), logx.Int("deleted", n))
	return n, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (domain.Definition, error) {
	return s.store.FindByID(ctx, tenantID, id)
}

func (s *Service) ListByTenant(ctx context.Context, tenantID uuid.UUID, page storage.PageLink) (storage.PageData, error) {
	return s.store.ListByTenant(ctx, tenantID, page)
}

func (s *Service) ListByUser(ctx context.Context, tenantID, userID uuid.UUID, page storage.PageLink) (storage.PageData, error) {
	return s.store.ListByUser(ctx, tenantID, userID, page)
}
