package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/bankmatch/internal/database"
	"github.com/jask/bankmatch/internal/database/repository"
)

func TestLocalResolverClearsConflictFlags(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	acctRepo := repository.NewAccountRepo(db)
	txRepo := repository.NewTransactionRepo(db)
	require.NoError(t, acctRepo.Upsert(ctx, repository.Account{ID: "acct-1", Name: "Everyday"}))

	mk := func(id string) {
		require.NoError(t, txRepo.Insert(ctx, repository.Transaction{
			ID:          id,
			AccountID:   "acct-1",
			Date:        time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			AmountCents: -7525,
			Payee:       "Grocery Store",
			Origin:      repository.OriginManual,
			HasConflict: true,
		}))
	}
	mk("tx-1")
	mk("tx-2")

	r := &LocalResolver{DB: db}
	require.NoError(t, r.ResolveConflict(ctx, "tx-1", "keep-manual"))

	got, err := txRepo.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.HasConflict)

	still, err := txRepo.Get(ctx, "tx-2")
	require.NoError(t, err)
	require.True(t, still.HasConflict)

	require.Error(t, r.ResolveConflict(ctx, "tx-missing", "keep-manual"))
}

func TestLocalResolverBatchIsAtomic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	acctRepo := repository.NewAccountRepo(db)
	txRepo := repository.NewTransactionRepo(db)
	require.NoError(t, acctRepo.Upsert(ctx, repository.Account{ID: "acct-1", Name: "Everyday"}))
	require.NoError(t, txRepo.Insert(ctx, repository.Transaction{
		ID:          "tx-1",
		AccountID:   "acct-1",
		Date:        time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		AmountCents: -7525,
		Payee:       "Grocery Store",
		Origin:      repository.OriginManual,
		HasConflict: true,
	}))

	r := &LocalResolver{DB: db}
	err = r.ResolveConflictsBatch(ctx, []string{"tx-1", "tx-missing"}, "keep-both")
	require.Error(t, err)

	// the whole batch rolled back with the failing member
	got, err := txRepo.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.True(t, got.HasConflict)

	require.NoError(t, r.ResolveConflictsBatch(ctx, []string{"tx-1"}, "keep-both"))
	got, err = txRepo.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.False(t, got.HasConflict)
}
