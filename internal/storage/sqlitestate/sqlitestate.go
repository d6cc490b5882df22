// Package sqlitestate persists chat states in a local SQLite file.
package sqlitestate

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Storage struct {
	db *sql.DB
}

func New(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create state dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		_, _ = db.Exec(pragma)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "ping sqlite")
}

func (s *Storage) Get(ctx context.Context, id models.ChatID) (*models.ChatState, bool, error) {
	st := &models.ChatState{ChatID: id}
	err := s.db.QueryRowContext(ctx, `SELECT interval_minutes FROM chat_states WHERE chat_id = ?`, int64(id)).
		Scan(&st.IntervalMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select chat state")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT tracking_code, alias, last_ts
FROM subscriptions
WHERE chat_id = ?
ORDER BY position`, int64(id))
	if err != nil {
		return nil, false, errors.Wrap(err, "select subscriptions")
	}
	defer rows.Close()

	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.TrackingCode, &sub.Alias, &sub.LastNotifiedTS); err != nil {
			return nil, false, errors.Wrap(err, "scan subscription")
		}
		st.Subscriptions = append(st.Subscriptions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "rows")
	}
	return st, true, nil
}

// Put replaces the whole chat state in one transaction.
func (s *Storage) Put(ctx context.Context, st *models.ChatState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO chat_states (chat_id, interval_minutes, updated_at) VALUES (?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET interval_minutes = excluded.interval_minutes, updated_at = excluded.updated_at`,
		int64(st.ChatID), st.IntervalMinutes, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return errors.Wrap(err, "upsert chat state")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, int64(st.ChatID)); err != nil {
		return errors.Wrap(err, "clear subscriptions")
	}
	for i, sub := range st.Subscriptions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO subscriptions (chat_id, position, tracking_code, alias, last_ts) VALUES (?, ?, ?, ?, ?)`,
			int64(st.ChatID), i, sub.TrackingCode, sub.Alias, sub.LastNotifiedTS); err != nil {
			return errors.Wrap(err, "insert subscription")
		}
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func (s *Storage) Delete(ctx context.Context, id models.ChatID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, int64(id)); err != nil {
		return errors.Wrap(err, "delete subscriptions")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_states WHERE chat_id = ?`, int64(id)); err != nil {
		return errors.Wrap(err, "delete chat state")
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func (s *Storage) ListChatIDs(ctx context.Context) ([]models.ChatID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chat_states ORDER BY chat_id`)
	if err != nil {
		return nil, errors.Wrap(err, "select chat ids")
	}
	defer rows.Close()

	var ids []models.ChatID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan chat id")
		}
		ids = append(ids, models.ChatID(id))
	}
	return ids, errors.Wrap(rows.Err(), "rows")
}
