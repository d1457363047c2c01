package repository

import (
	"context"
	"database/sql"
)

// ResolutionRepo persists settled conflict pairs.
type ResolutionRepo struct{ db *sql.DB }

func NewResolutionRepo(db *sql.DB) *ResolutionRepo { return &ResolutionRepo{db: db} }

func (r *ResolutionRepo) Insert(ctx context.Context, res Resolution) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO resolutions(id, pair_id, manual_id, imported_id, action, score, resolved_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, res.ID, res.PairID, res.ManualID, res.ImportedID, res.Action, res.Score)
	return err
}

func (r *ResolutionRepo) List(ctx context.Context) ([]Resolution, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, pair_id, manual_id, imported_id, action, score, resolved_at FROM resolutions ORDER BY resolved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Resolution
	for rows.Next() {
		var res Resolution
		if err := rows.Scan(&res.ID, &res.PairID, &res.ManualID, &res.ImportedID, &res.Action, &res.Score, &res.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
