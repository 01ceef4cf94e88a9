package journal

import (
	"context"
	"database/sql"
	"time"
)

// Asset is a file staged during a run.
type Asset struct {
	RunID  string
	Name   string
	Bytes  int
	Digest string
	Error  *string
}

// InsertAsset saves a staged asset, replacing an earlier record of the same
// name for the run.
func InsertAsset(ctx context.Context, db *sql.DB, asset *Asset) error {
	query := `
		INSERT OR REPLACE INTO assets (run_id, name, bytes, digest, error)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query, asset.RunID, asset.Name, asset.Bytes, asset.Digest, asset.Error)
	return err
}

// ListAssetsByRunID returns the assets of a run in staging order.
func ListAssetsByRunID(ctx context.Context, db *sql.DB, runID string) ([]*Asset, error) {
	query := `SELECT run_id, name, bytes, digest, error FROM assets WHERE run_id = ? ORDER BY rowid`
	rows, err := db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var errText sql.NullString
		asset := &Asset{}
		if err := rows.Scan(&asset.RunID, &asset.Name, &asset.Bytes, &asset.Digest, &errText); err != nil {
			return nil, err
		}
		if errText.Valid {
			asset.Error = &errText.String
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}

// PruneRuns deletes runs started before cutoff along with their assets.
func PruneRuns(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
