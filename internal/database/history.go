package database

import (
	"context"
	"time"

	"crypto-tracker/internal/types"
)

func scanSnapshot(row rowScanner) (types.HistorySnapshot, error) {
	var (
		h  types.HistorySnapshot
		ts string
	)
	if err := row.Scan(&h.ID, &h.TotalValueUSD, &ts); err != nil {
		return types.HistorySnapshot{}, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return types.HistorySnapshot{}, err
	}
	h.Timestamp = t
	return h, nil
}

// CreateSnapshot appends a portfolio value to the history.
func (s *Store) CreateSnapshot(ctx context.Context, totalValueUSD float64) (types.HistorySnapshot, error) {
	at := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_history (total_value_usd, timestamp) VALUES (?, ?);`, totalValueUSD, formatTime(at))
	if err != nil {
		return types.HistorySnapshot{}, storeErr("insert snapshot", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.HistorySnapshot{}, storeErr("snapshot last insert id", err)
	}
	return types.HistorySnapshot{ID: id, TotalValueUSD: totalValueUSD, Timestamp: at}, nil
}

// ListSnapshotsSince returns snapshots at or after since, oldest first.
func (s *Store) ListSnapshotsSince(ctx context.Context, since time.Time) ([]types.HistorySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total_value_usd, timestamp
		FROM portfolio_history
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC;`, formatTime(since))
	if err != nil {
		return nil, storeErr("query history", err)
	}
	defer rows.Close()

	history := make([]types.HistorySnapshot, 0)
	for rows.Next() {
		h, err := scanSnapshot(rows)
		if err != nil {
			return nil, storeErr("scan snapshot", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate history", err)
	}
	return history, nil
}

// PurgeSnapshotsBefore deletes snapshots older than cutoff and returns how many went.
func (s *Store) PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM portfolio_history WHERE timestamp < ?;`, formatTime(cutoff))
	if err != nil {
		return 0, storeErr("purge history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("purge history rows affected", err)
	}
	return n, nil
}
