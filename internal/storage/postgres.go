package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evsched/internal/domain"
	logx "evsched/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

// NewPool opens a pgx pool for dsn and pings it.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// OpenPostgres connects to cfg.DSN and applies the schema.
func OpenPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, string(b)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	log.Info("postgres store opened")
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) FindAllEnabled(ctx context.Context) ([]domain.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM scheduler_event WHERE enabled ORDER BY created_time, id`)
	if err != nil {
		return nil, fmt.Errorf("find enabled: %w", err)
	}
	return scanPgRows(rows)
}

func (s *postgresStore) FindByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM scheduler_event WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("find %s: %w", id, err)
	}
	defs, err := scanPgRows(rows)
	if err != nil {
		return domain.Definition{}, err
	}
	if len(defs) == 0 {
		return domain.Definition{}, ErrNotFound
	}
	return defs[0], nil
}

func (s *postgresStore) Save(ctx context.Context, d *domain.Definition) error {
	prepareSave(d, time.Now())
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_event (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    user_id = EXCLUDED.user_id, name = EXCLUDED.name, type = EXCLUDED.type,
		    enabled = EXCLUDED.enabled, configuration = EXCLUDED.configuration,
		    schedule = EXCLUDED.schedule
		WHERE scheduler_event.tenant_id = EXCLUDED.tenant_id
	`,
		d.ID, d.TenantID, pgUUID(d.UserID), d.Name, d.Type, d.Enabled,
		nullJSON(d.Configuration), nullJSON(d.Schedule), d.CreatedTime.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save %s: %w", d.ID, ErrForeignID)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduler_event WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduler_event WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, page PageLink) (PageData, error) {
	return s.list(ctx, "tenant_id = $1", []any{tenantID}, page)
}

func (s *postgresStore) ListByUser(ctx context.Context, tenantID, userID uuid.UUID, page PageLink) (PageData, error) {
	return s.list(ctx, "tenant_id = $1 AND user_id = $2", []any{tenantID, userID}, page)
}

func (s *postgresStore) list(ctx context.Context, where string, args []any, page PageLink) (PageData, error) {
	p := page.normalized()
	if p.TextSearch != "" {
		args = append(args, "%"+escapeLike(p.TextSearch)+"%")
		where += ` AND lower(name) LIKE $` + strconv.Itoa(len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scheduler_event WHERE `+where, args...).Scan(&total); err != nil {
		return PageData{}, fmt.Errorf("count: %w", err)
	}
	n := len(args)
	query := `SELECT ` + eventColumns + ` FROM scheduler_event WHERE ` + where +
		` ORDER BY ` + p.orderBy() +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := s.pool.Query(ctx, query, append(args, p.PageSize, p.offset())...)
	if err != nil {
		return PageData{}, fmt.Errorf("list: %w", err)
	}
	defs, err := scanPgRows(rows)
	if err != nil {
		return PageData{}, err
	}
	return newPage(defs, total, p), nil
}

func scanPgRows(rows pgx.Rows) ([]domain.Definition, error) {
	defer rows.Close()
	var out []domain.Definition
	for rows.Next() {
		var (
			d             domain.Definition
			config, sched []byte
			createdMillis int64
		)
		if err := rows.Scan(&d.ID, &d.TenantID, &d.UserID, &d.Name, &d.Type, &d.Enabled, &config, &sched, &createdMillis); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if len(config) > 0 {
			d.Configuration = json.RawMessage(config)
		}
		if len(sched) > 0 {
			d.Schedule = json.RawMessage(sched)
		}
		d.CreatedTime = time.UnixMilli(createdMillis).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func pgUUID(u *uuid.UUID) any {
	if u == nil || *u == uuid.Nil {
		return nil
	}
	return *u
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
