package pgstate

import (
	"context"
	"time"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) Get(ctx context.Context, id models.ChatID) (*models.ChatState, bool, error) {
	st := &models.ChatState{ChatID: id}
	err := s.db.QueryRow(ctx, `SELECT interval_minutes FROM chat_states WHERE chat_id = $1`, int64(id)).
		Scan(&st.IntervalMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select chat state")
	}

	rows, err := s.db.Query(ctx, `
SELECT tracking_code, alias, last_ts
FROM subscriptions
WHERE chat_id = $1
ORDER BY position
`, int64(id))
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

// Put replaces the chat state and its subscriptions in one transaction.
func (s *Storage) Put(ctx context.Context, st *models.ChatState) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO chat_states (chat_id, interval_minutes, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (chat_id)
DO UPDATE SET interval_minutes = EXCLUDED.interval_minutes, updated_at = EXCLUDED.updated_at
`, int64(st.ChatID), st.IntervalMinutes, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "upsert chat state")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE chat_id = $1`, int64(st.ChatID)); err != nil {
		return errors.Wrap(err, "clear subscriptions")
	}

	if len(st.Subscriptions) > 0 {
		batch := &pgx.Batch{}
		for i, sub := range st.Subscriptions {
			batch.Queue(`
INSERT INTO subscriptions (chat_id, position, tracking_code, alias, last_ts)
VALUES ($1, $2, $3, $4, $5)
`, int64(st.ChatID), i, sub.TrackingCode, sub.Alias, sub.LastNotifiedTS)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert subscriptions")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id models.ChatID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chat_states WHERE chat_id = $1`, int64(id)); err != nil {
		return errors.Wrap(err, "delete chat state")
	}
	return nil
}

func (s *Storage) ListChatIDs(ctx context.Context) ([]models.ChatID, error) {
	rows, err := s.db.Query(ctx, `SELECT chat_id FROM chat_states ORDER BY chat_id`)
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
