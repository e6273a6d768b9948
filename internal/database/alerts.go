package database

import (
	"context"
	"database/sql"
	"time"

	"crypto-tracker/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const alertColumns = `id, symbol, target_price, condition, status, created_at, triggered_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (types.PriceAlert, error) {
	var (
		a           types.PriceAlert
		createdAt   string
		triggeredAt sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Symbol, &a.TargetPrice, &a.Condition, &a.Status, &createdAt, &triggeredAt); err != nil {
		return types.PriceAlert{}, err
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return types.PriceAlert{}, err
	}
	a.CreatedAt = t

	if triggeredAt.Valid {
		t, err := parseTime(triggeredAt.String)
		if err != nil {
			return types.PriceAlert{}, err
		}
		a.TriggeredAt = &t
	}
	return a, nil
}

// CreateAlert saves a new active alert.
func (s *Store) CreateAlert(ctx context.Context, alert types.PriceAlert) (types.PriceAlert, error) {
	symbol := types.NormalizeSymbol(alert.Symbol)
	createdAt := formatTime(s.now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_alerts (symbol, target_price, condition, status, created_at)
		VALUES (?, ?, ?, ?, ?);`, symbol, alert.TargetPrice, alert.Condition, types.StatusActive, createdAt)
	if err != nil {
		return types.PriceAlert{}, storeErr("insert alert", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return types.PriceAlert{}, storeErr("alert last insert id", err)
	}

	log.WithFields(log.Fields{"id": id, "symbol": symbol, "target": alert.TargetPrice, "condition": alert.Condition}).
		Debug("Alert inserted")
	return s.GetAlert(ctx, id)
}

func (s *Store) GetAlert(ctx context.Context, id int64) (types.PriceAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM price_alerts WHERE id = ?;`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PriceAlert{}, ErrNotFound
	}
	if err != nil {
		return types.PriceAlert{}, storeErr("get alert", err)
	}
	return alert, nil
}

// ListAlerts returns alerts newest first, optionally filtered by status.
func (s *Store) ListAlerts(ctx context.Context, status types.AlertStatus) ([]types.PriceAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM price_alerts`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query alerts", err)
	}
	defer rows.Close()

	alerts := make([]types.PriceAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, storeErr("scan alert", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate alerts", err)
	}
	return alerts, nil
}

func (s *Store) ListActiveAlerts(ctx context.Context) ([]types.PriceAlert, error) {
	return s.ListAlerts(ctx, types.StatusActive)
}

// TransitionAlertStatus moves an alert from expected to next only if it is still in expected.
// It reports false when another caller changed the status first.
func (s *Store) TransitionAlertStatus(ctx context.Context, id int64, expected, next types.AlertStatus, at time.Time) (bool, error) {
	var triggeredAt interface{}
	if next == types.StatusTriggered {
		triggeredAt = formatTime(at)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE price_alerts
		SET status = ?, triggered_at = ?
		WHERE id = ? AND status = ?;`, next, triggeredAt, id, expected)
	if err != nil {
		return false, storeErr("transition alert", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("transition alert rows affected", err)
	}
	return rows == 1, nil
}

// CancelAlert moves an active alert to cancelled.
func (s *Store) CancelAlert(ctx context.Context, id int64) (types.PriceAlert, error) {
	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return types.PriceAlert{}, err
	}

	ok, err := s.TransitionAlertStatus(ctx, id, types.StatusActive, types.StatusCancelled, s.now())
	if err != nil {
		return types.PriceAlert{}, err
	}
	if !ok {
		return alert, ErrNotActive
	}
	return s.GetAlert(ctx, id)
}

// ErrNotActive is returned when an alert already left the active state.
var ErrNotActive = errors.New("alert is not active")

// DeleteAlert removes an alert in any state.
func (s *Store) DeleteAlert(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_alerts WHERE id = ?;`, id)
	if err != nil {
		return storeErr("delete alert", err)
	}
	return affectedOne(res, "delete alert")
}
