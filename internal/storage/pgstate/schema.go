package pgstate

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS chat_states (
  chat_id BIGINT PRIMARY KEY,
  interval_minutes INT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS subscriptions (
  chat_id BIGINT NOT NULL REFERENCES chat_states(chat_id) ON DELETE CASCADE,
  position INT NOT NULL,
  tracking_code TEXT NOT NULL,
  alias TEXT NOT NULL DEFAULT '',
  last_ts BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (chat_id, tracking_code)
)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_chat_position ON subscriptions(chat_id, position)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
