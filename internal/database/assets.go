package database

import (
	"context"
	"database/sql"

	"crypto-tracker/internal/types"

	"github.com/pkg/errors"
)

const assetColumns = `id, symbol, amount, created_at, updated_at`

func scanAsset(row rowScanner) (types.Asset, error) {
	var (
		a                    types.Asset
		createdAt, updatedAt string
		err                  error
	)
	if err := row.Scan(&a.ID, &a.Symbol, &a.Amount, &createdAt, &updatedAt); err != nil {
		return types.Asset{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Asset{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.Asset{}, err
	}
	return a, nil
}

func (s *Store) CreateAsset(ctx context.Context, asset types.Asset) (types.Asset, error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (symbol, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?);`, types.NormalizeSymbol(asset.Symbol), asset.Amount, now, now)
	if err != nil {
		return types.Asset{}, storeErr("insert asset", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return types.Asset{}, storeErr("asset last insert id", err)
	}
	return s.GetAsset(ctx, id)
}

func (s *Store) GetAsset(ctx context.Context, id int64) (types.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?;`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Asset{}, ErrNotFound
	}
	if err != nil {
		return types.Asset{}, storeErr("get asset", err)
	}
	return asset, nil
}

func (s *Store) ListAssets(ctx context.Context) ([]types.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id ASC;`)
	if err != nil {
		return nil, storeErr("query assets", err)
	}
	defer rows.Close()

	assets := make([]types.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, storeErr("scan asset", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate assets", err)
	}
	return assets, nil
}

// UpdateAssetAmount is the only way an asset's amount changes.
func (s *Store) UpdateAssetAmount(ctx context.Context, id int64, amount float64) (types.Asset, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assets SET amount = ?, updated_at = ? WHERE id = ?;`, amount, formatTime(s.now()), id)
	if err != nil {
		return types.Asset{}, storeErr("update asset", err)
	}
	if err := affectedOne(res, "update asset"); err != nil {
		return types.Asset{}, err
	}
	return s.GetAsset(ctx, id)
}

func (s *Store) DeleteAsset(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?;`, id)
	if err != nil {
		return storeErr("delete asset", err)
	}
	return affectedOne(res, "delete asset")
}
