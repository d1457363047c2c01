package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/bankmatch/internal/database"
)

// LocalResolver settles conflicts directly in the local ledger, for setups
// with no remote engine configured. Resolving clears the conflict badge on
// the transaction; the batch variant does so for all ids in one database
// transaction.
type LocalResolver struct {
	DB *sql.DB
}

func (r *LocalResolver) ResolveConflict(ctx context.Context, txID, resolution string) error {
	return r.clear(ctx, r.DB, txID)
}

func (r *LocalResolver) ResolveConflictsBatch(ctx context.Context, txIDs []string, resolution string) error {
	return database.WithTx(r.DB, func(tx *sql.Tx) error {
		for _, id := range txIDs {
			if err := r.clear(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *LocalResolver) clear(ctx context.Context, db execer, txID string) error {
	res, err := db.ExecContext(ctx, `UPDATE transactions SET has_conflict = 0, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, txID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("engine: unknown transaction %s", txID)
	}
	return nil
}
