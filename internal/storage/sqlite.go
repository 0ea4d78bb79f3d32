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

	"joanabot/internal/conversation/history"
	logx "joanabot/pkg/logx"
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
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
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

func (s *sqliteStore) LoadHistory(ctx context.Context, sender string) (*history.History, bool, error) {
	var (
		name    sql.NullString
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, updated_at FROM chat_history WHERE sender = ?`, sender,
	).Scan(&name, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	h := history.New(sender)
	h.DisplayName = name.String
	h.UpdatedAt = parseTime(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, at FROM chat_turns WHERE sender = ? ORDER BY seq`, sender)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var role, text, at string
		if err := rows.Scan(&role, &text, &at); err != nil {
			return nil, false, err
		}
		h.Turns = append(h.Turns, history.Turn{Role: history.Role(role), Text: text, At: parseTime(at)})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// SaveHistory upserts the header and appends turns beyond those already
// stored. A history shorter than what is stored replaces all turns.
func (s *sqliteStore) SaveHistory(ctx context.Context, h *history.History) error {
	if h == nil || strings.TrimSpace(h.Sender) == "" {
		return errors.New("history without sender")
	}
	updated := h.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_history(sender, display_name, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(sender) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`,
		h.Sender, nullStr(h.DisplayName), now, formatTime(updated),
	); err != nil {
		return err
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_turns WHERE sender = ?`, h.Sender).Scan(&stored); err != nil {
		return err
	}
	if stored > len(h.Turns) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_turns WHERE sender = ?`, h.Sender); err != nil {
			return err
		}
		stored = 0
	}
	if stored < len(h.Turns) {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_turns(sender, seq, role, text, at) VALUES(?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := stored; i < len(h.Turns); i++ {
			t := h.Turns[i]
			if _, err := stmt.ExecContext(ctx, h.Sender, i, string(t.Role), t.Text, formatTime(t.At)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ListSenders returns senders in first-contact order.
func (s *sqliteStore) ListSenders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender FROM chat_history WHERE TRIM(sender) <> '' ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		out = append(out, sender)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
