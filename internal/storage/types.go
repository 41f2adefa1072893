package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
)

var (
	ErrNotFound      = errors.New("scheduler event not found")
	ErrUnknownDriver = errors.New("unknown storage driver")
	// ErrForeignID is returned by Save when d.ID belongs to another tenant.
	// Nothing is written.
	ErrForeignID = errors.New("scheduler event id belongs to another tenant")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite file
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the definition repository used by the scheduler.
type Store interface {
	FindAllEnabled(ctx context.Context) ([]domain.Definition, error)
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Definition, error)
	// Save inserts or updates d. A new definition gets an ID and CreatedTime.
	// An ID owned by another tenant yields ErrForeignID.
	Save(ctx context.Context, d *domain.Definition) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, page PageLink) (PageData, error)
	ListByUser(ctx context.Context, tenantID, userID uuid.UUID, page PageLink) (PageData, error)
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
	Close() error
}

// Sort orders.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// PageLink selects one page of a listing. Page is zero-based.
type PageLink struct {
	PageSize     int
	Page         int
	TextSearch   string // case-insensitive substring of name
	SortProperty string // createdTime, name or type
	SortOrder    string
}

// PageData is one page of definitions.
type PageData struct {
	Data          []domain.Definition `json:"data"`
	TotalPages    int                 `json:"totalPages"`
	TotalElements int                 `json:"totalElements"`
	HasNext       bool                `json:"hasNext"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

func (p PageLink) normalized() PageLink {
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	p.PageSize = min(p.PageSize, maxPageSize)
	p.Page = max(p.Page, 0)
	p.TextSearch = strings.ToLower(strings.TrimSpace(p.TextSearch))
	if strings.EqualFold(p.SortOrder, SortAsc) {
		p.SortOrder = SortAsc
	} else {
		p.SortOrder = SortDesc
	}
	if _, ok := sortColumns[p.SortProperty]; !ok {
		p.SortProperty = "createdTime"
	}
	return p
}

func (p PageLink) offset() int { return p.Page * p.PageSize }

// sortColumns whitelists sortable properties.
var sortColumns = map[string]string{
	"createdTime": "created_time",
	"name":        "name",
	"type":        "type",
}

func (p PageLink) orderBy() string {
	return sortColumns[p.SortProperty] + " " + p.SortOrder + ", id " + p.SortOrder
}

func newPage(data []domain.Definition, total int, p PageLink) PageData {
	pages := 0
	if total > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	if data == nil {
		data = []domain.Definition{}
	}
	return PageData{
		Data:          data,
		TotalPages:    pages,
		TotalElements: total,
		HasNext:       p.offset()+len(data) < total,
	}
}

// prepareSave assigns identity to a new definition.
func prepareSave(d *domain.Definition, now time.Time) {
	if d.IsNew() {
		d.ID = uuid.New()
	}
	if d.CreatedTime.IsZero() {
		d.CreatedTime = now.UTC().Truncate(time.Millisecond)
	}
}
