package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
)

// Memory is a process-local Store. Definitions are copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	defs map[uuid.UUID]domain.Definition
}

func NewMemory() *Memory {
	return &Memory{defs: map[uuid.UUID]domain.Definition{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) FindAllEnabled(context.Context) ([]domain.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Definition
	for _, d := range m.defs {
		if d.Enabled {
			out = append(out, clone(d))
		}
	}
	sortDefs(out, PageLink{SortProperty: "createdTime", SortOrder: SortAsc})
	return out, nil
}

func (m *Memory) FindByID(_ context.Context, tenantID, id uuid.UUID) (domain.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	if !ok || d.TenantID != tenantID {
		return domain.Definition{}, ErrNotFound
	}
	return clone(d), nil
}

func (m *Memory) Save(_ context.Context, d *domain.Definition) error {
	prepareSave(d, time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.defs[d.ID]; ok {
		if cur.TenantID != d.TenantID {
			return fmt.Errorf("save %s: %w", d.ID, ErrForeignID)
		}
		d.CreatedTime = cur.CreatedTime
	}
	m.defs[d.ID] = clone(*d)
	return nil
}

func (m *Memory) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.defs, id)
	return nil
}

func (m *Memory) DeleteByTenant(_ context.Context, tenantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, d := range m.defs {
		if d.TenantID == tenantID {
			delete(m.defs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListByTenant(_ context.Context, tenantID uuid.UUID, page PageLink) (PageData, error) {
	return m.list(page, func(d domain.Definition) bool { return d.TenantID == tenantID }), nil
}

func (m *Memory) ListByUser(_ context.Context, tenantID, userID uuid.UUID, page PageLink) (PageData, error) {
	return m.list(page, func(d domain.Definition) bool {
		return d.TenantID == tenantID && d.UserID != nil && *d.UserID == userID
	}), nil
}

func (m *Memory) list(page PageLink, match func(domain.Definition) bool) PageData {
	p := page.normalized()
	m.mu.RLock()
	var all []domain.Definition
	for _, d := range m.defs {
		if !match(d) {
			continue
		}
		if p.TextSearch != "" && !strings.Contains(strings.ToLower(d.Name), p.TextSearch) {
			continue
		}
		all = append(all, clone(d))
	}
	m.mu.RUnlock()

	sortDefs(all, p)
	total := len(all)
	lo := min(p.offset(), total)
	hi := min(lo+p.PageSize, total)
	return newPage(all[lo:hi], total, p)
}

func sortDefs(defs []domain.Definition, p PageLink) {
	less := func(a, b domain.Definition) int {
		var c int
		switch p.SortProperty {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "type":
			c = strings.Compare(a.Type, b.Type)
		default:
			c = a.CreatedTime.Compare(b.CreatedTime)
		}
		if c == 0 {
			c = bytes.Compare(a.ID[:], b.ID[:])
		}
		return c
	}
	sort.SliceStable(defs, func(i, j int) bool {
		c := less(defs[i], defs[j])
		if p.SortOrder == SortDesc {
			return c > 0
		}
		return c < 0
	})
}

func clone(d domain.Definition) domain.Definition {
	if d.UserID != nil {
		u := *d.UserID
		d.UserID = &u
	}
	d.Configuration = bytes.Clone(d.Configuration)
	d.Schedule = bytes.Clone(d.Schedule)
	return d
}
