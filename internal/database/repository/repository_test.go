package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/bankmatch/internal/database"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedTx(t *testing.T, txs *TransactionRepo, id, accountID, origin string) {
	t.Helper()
	require.NoError(t, txs.Insert(context.Background(), Transaction{
		ID:          id,
		AccountID:   accountID,
		Date:        time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		AmountCents: -7525,
		Payee:       "Grocery Store",
		Origin:      origin,
	}))
}

func TestSetConflictFlagRoundTrip(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	accts := NewAccountRepo(db)
	txs := NewTransactionRepo(db)
	require.NoError(t, accts.Upsert(ctx, Account{ID: "acct-1", Name: "Everyday"}))
	seedTx(t, txs, "tx-1", "acct-1", OriginManual)
	seedTx(t, txs, "tx-2", "acct-1", OriginBank)

	require.NoError(t, txs.SetConflictFlag(ctx, "tx-1", true))

	got, err := txs.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.True(t, got.HasConflict)

	flagged := true
	listed, err := txs.List(ctx, TransactionFilters{Conflict: &flagged})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "tx-1", listed[0].ID)

	require.NoError(t, txs.SetConflictFlag(ctx, "tx-1", false))
	listed, err = txs.List(ctx, TransactionFilters{Conflict: &flagged})
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestAccountListOrdersByName(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	accts := NewAccountRepo(db)
	require.NoError(t, accts.Upsert(ctx, Account{ID: "acct-s", Name: "Savings"}))
	require.NoError(t, accts.Upsert(ctx, Account{ID: "acct-e", Name: "Everyday"}))

	listed, err := accts.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "Everyday", listed[0].Name)
	require.Equal(t, "Savings", listed[1].Name)
}

func TestResolutionInsertAndList(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	accts := NewAccountRepo(db)
	txs := NewTransactionRepo(db)
	res := NewResolutionRepo(db)
	require.NoError(t, accts.Upsert(ctx, Account{ID: "acct-1", Name: "Everyday"}))
	seedTx(t, txs, "m1", "acct-1", OriginManual)
	seedTx(t, txs, "b1", "acct-1", OriginBank)

	require.NoError(t, res.Insert(ctx, Resolution{
		ID:         "res-1",
		PairID:     "pair-1",
		ManualID:   "m1",
		ImportedID: "b1",
		Action:     "keep-manual",
		Score:      100,
	}))

	listed, err := res.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "m1", listed[0].ManualID)
	require.Equal(t, "b1", listed[0].ImportedID)
	require.Equal(t, "keep-manual", listed[0].Action)
	require.Equal(t, 100.0, listed[0].Score)
	require.False(t, listed[0].ResolvedAt.IsZero())
}
