package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS reminders (
  name       TEXT PRIMARY KEY,
  chat_id    INTEGER NOT NULL,
  thread_id  INTEGER NOT NULL DEFAULT 0,
  kind       TEXT NOT NULL,
  spec       TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dedup (
  key   TEXT PRIMARY KEY,
  until INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_until ON dedup(until);
`

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	ops        atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log, pruneEvery: 200}, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutReminder(ctx context.Context, r ReminderRecord) error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("reminder name is empty")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	spec, err := json.Marshal(r.Spec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(name, chat_id, thread_id, kind, spec, updated_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET chat_id=excluded.chat_id, thread_id=excluded.thread_id,
		   kind=excluded.kind, spec=excluded.spec, updated_at=excluded.updated_at`,
		r.Name, r.Target.ChatID, r.Target.ThreadID, string(r.Spec.Kind), string(spec), r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE name = ?`, name)
	return err
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]ReminderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, chat_id, thread_id, spec, updated_at FROM reminders ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReminderRecord
	for rows.Next() {
		var (
			r       ReminderRecord
			spec    string
			updated int64
		)
		if err := rows.Scan(&r.Name, &r.Target.ChatID, &r.Target.ThreadID, &spec, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(spec), &r.Spec); err != nil {
			s.log.Warn("skipping unreadable reminder row", logx.String("name", r.Name), logx.Err(err))
			continue
		}
		r.UpdatedAt = time.UnixMilli(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.ops.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
