package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID string
	Origin    string
	Month     time.Time // use first day of month; zero time = no month filter
	Search    string
	Conflict  *bool
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, account_id, external_id, date, amount, payee, category_id, note,
	 origin, has_conflict, source_hash, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.AccountID, t.ExternalID, t.Date, t.AmountCents, t.Payee,
		t.CategoryID, t.Note, t.Origin, t.HasConflict, t.SourceHash)
	return err
}

// SetConflictFlag marks or clears the conflict badge on a transaction.
func (r *TransactionRepo) SetConflictFlag(ctx context.Context, id string, flagged bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET has_conflict = ?, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, flagged, id)
	return err
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Origin != "" {
		where = append(where, "origin = ?")
		args = append(args, f.Origin)
	}
	if !f.Month.IsZero() {
		start := time.Date(f.Month.Year(), f.Month.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		where = append(where, "date >= ? AND date < ?")
		args = append(args, start, end)
	}
	if f.Search != "" {
		where = append(where, "payee LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.Conflict != nil {
		where = append(where, "has_conflict = ?")
		args = append(args, *f.Conflict)
	}

	query := "SELECT " + txColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByAccount returns every transaction grouped by account id, the shape
// the conflict watcher consumes.
func (r *TransactionRepo) ListByAccount(ctx context.Context) (map[string][]Transaction, error) {
	txs, err := r.List(ctx, TransactionFilters{})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Transaction)
	for _, t := range txs {
		out[t.AccountID] = append(out[t.AccountID], t)
	}
	return out, nil
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

const txColumns = "id, account_id, external_id, date, amount, payee, category_id, note, origin, has_conflict, source_hash, created_at, updated_at"

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var external, category, note, source sql.NullString
	if err := row.Scan(&t.ID, &t.AccountID, &external, &t.Date, &t.AmountCents,
		&t.Payee, &category, &note, &t.Origin, &t.HasConflict, &source,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if external.Valid {
		t.ExternalID = &external.String
	}
	if category.Valid {
		t.CategoryID = &category.String
	}
	if note.Valid {
		t.Note = &note.String
	}
	if source.Valid {
		t.SourceHash = &source.String
	}
	return t, nil
}
