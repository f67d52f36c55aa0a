package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"punchbot/internal/intent"
	"punchbot/internal/journal"
	"punchbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
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

func (s *sqliteStore) GetSchedule(ctx context.Context, name string) (ScheduleState, bool, error) {
	if s == nil || s.db == nil {
		return ScheduleState{}, false, ErrDisabled
	}
	var st ScheduleState
	var enabled int
	var next sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT name, enabled, time_of_day, next_fire_at FROM schedules WHERE name = ?`, name,
	).Scan(&st.Name, &enabled, &st.TimeOfDay, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleState{}, false, nil
	}
	if err != nil {
		return ScheduleState{}, false, err
	}
	st.Enabled = enabled != 0
	if next.Valid && next.String != "" {
		t, perr := time.Parse(time.RFC3339Nano, next.String)
		if perr != nil {
			return ScheduleState{}, false, fmt.Errorf("bad next_fire_at for %s: %w", name, perr)
		}
		st.NextFireAt = t
	}
	return st, true, nil
}

func (s *sqliteStore) PutSchedule(ctx context.Context, st ScheduleState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	next := ""
	if !st.NextFireAt.IsZero() {
		next = st.NextFireAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(name, enabled, time_of_day, next_fire_at) VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   enabled=excluded.enabled, time_of_day=excluded.time_of_day, next_fire_at=excluded.next_fire_at`,
		st.Name, boolInt(st.Enabled), st.TimeOfDay, nullStr(next),
	)
	return err
}

func (s *sqliteStore) AppendOutcome(ctx context.Context, e journal.Entry, capacity int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes(at, intent, kind, detail) VALUES(?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), string(e.Intent), string(e.Kind), nullStr(e.Detail),
	)
	if err != nil {
		return err
	}
	if capacity > 0 {
		// FIFO eviction: keep only the newest rows.
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM outcomes WHERE id NOT IN (SELECT id FROM outcomes ORDER BY id DESC LIMIT ?)`,
			capacity,
		)
	}
	return err
}

func (s *sqliteStore) RecentOutcomes(ctx context.Context, n int) ([]journal.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, intent, kind, detail FROM outcomes ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var at string
		var in, kind string
		var detail sql.NullString
		if err := rows.Scan(&at, &in, &kind, &detail); err != nil {
			return nil, err
		}
		t, perr := time.Parse(time.RFC3339Nano, at)
		if perr != nil {
			return nil, perr
		}
		out = append(out, journal.Entry{
			At:     t,
			Intent: intent.Intent(in),
			Kind:   journal.Kind(kind),
			Detail: detail.String,
		})
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
