package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"evsched/internal/domain"
	logx "evsched/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

const eventColumns = `id, tenant_id, user_id, name, type, enabled, configuration, schedule, created_time`

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FindAllEnabled(ctx context.Context) ([]domain.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM scheduler_event WHERE enabled = 1 ORDER BY created_time, id`)
	if err != nil {
		return nil, fmt.Errorf("find enabled: %w", err)
	}
	return scanSQLiteRows(rows)
}

func (s *sqliteStore) FindByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM scheduler_event WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())
	if err != nil {
		return domain.Definition{}, fmt.Errorf("find %s: %w", id, err)
	}
	defs, err := scanSQLiteRows(rows)
	if err != nil {
		return domain.Definition{}, err
	}
	if len(defs) == 0 {
		return domain.Definition{}, ErrNotFound
	}
	return defs[0], nil
}

func (s *sqliteStore) Save(ctx context.Context, d *domain.Definition) error {
	prepareSave(d, time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_event(`+eventColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, name=excluded.name, type=excluded.type,
		   enabled=excluded.enabled, configuration=excluded.configuration,
		   schedule=excluded.schedule
		 WHERE scheduler_event.tenant_id = excluded.tenant_id`,
		d.ID.String(), d.TenantID.String(), nullUUID(d.UserID), d.Name, d.Type,
		boolInt(d.Enabled), nullJSON(d.Configuration), nullJSON(d.Schedule), d.CreatedTime.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", d.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save %s: %w", d.ID, ErrForeignID)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduler_event WHERE tenant_id = ? AND id = ?`, tenantID.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_event WHERE tenant_id = ?`, tenantID.String())
	if err != nil {
		return 0, fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, page PageLink) (PageData, error) {
	return s.list(ctx, "tenant_id = ?", []any{tenantID.String()}, page)
}

func (s *sqliteStore) ListByUser(ctx context.Context, tenantID, userID uuid.UUID, page PageLink) (PageData, error) {
	return s.list(ctx, "tenant_id = ? AND user_id = ?", []any{tenantID.String(), userID.String()}, page)
}

func (s *sqliteStore) list(ctx context.Context, where string, args []any, page PageLink) (PageData, error) {
	p := page.normalized()
	if p.TextSearch != "" {
		where += ` AND instr(lower(name), ?) > 0`
		args = append(args, p.TextSearch)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scheduler_event WHERE `+where, args...).Scan(&total); err != nil {
		return PageData{}, fmt.Errorf("count: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM scheduler_event WHERE `+where+` ORDER BY `+p.orderBy()+` LIMIT ? OFFSET ?`,
		append(args, p.PageSize, p.offset())...)
	if err != nil {
		return PageData{}, fmt.Errorf("list: %w", err)
	}
	defs, err := scanSQLiteRows(rows)
	if err != nil {
		return PageData{}, err
	}
	return newPage(defs, total, p), nil
}

func scanSQLiteRows(rows *sql.Rows) ([]domain.Definition, error) {
	defer rows.Close()
	var out []domain.Definition
	for rows.Next() {
		var (
			id, tenant    string
			user          sql.NullString
			enabled       int
			config, sched sql.NullString
			createdMillis int64
			d             domain.Definition
		)
		if err := rows.Scan(&id, &tenant, &user, &d.Name, &d.Type, &enabled, &config, &sched, &createdMillis); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var err error
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		if d.TenantID, err = uuid.Parse(tenant); err != nil {
			return nil, fmt.Errorf("scan tenant_id: %w", err)
		}
		if user.Valid && user.String != "" {
			u, err := uuid.Parse(user.String)
			if err != nil {
				return nil, fmt.Errorf("scan user_id: %w", err)
			}
			d.UserID = &u
		}
		d.Enabled = enabled != 0
		if config.Valid {
			d.Configuration = json.RawMessage(config.String)
		}
		if sched.Valid {
			d.Schedule = json.RawMessage(sched.String)
		}
		d.CreatedTime = time.UnixMilli(createdMillis).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullUUID(u *uuid.UUID) any {
	if u == nil || *u == uuid.Nil {
		return nil
	}
	return u.String()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
