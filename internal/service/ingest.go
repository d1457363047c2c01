// Package service holds the application services that sit between the CLI
// and the repositories.
package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/bankmatch/internal/database/repository"
)

// IngestService imports bank-feed exports into the ledger with origin
// "bank". Manual entries go through AddManual.
type IngestService struct {
	Transactions *repository.TransactionRepo
	Accounts     *repository.AccountRepo

	accountCache map[string]repository.Account
}

type IngestResult struct {
	Imported int
	Skipped  int
	Errors   []error
}

// feedRow is the headered bank-feed format:
// date,payee,amount,external_id,account. Amount is in major units with an
// optional sign and decimal point.
type feedRow struct {
	Date       string `csv:"date"`
	Payee      string `csv:"payee"`
	Amount     string `csv:"amount"`
	ExternalID string `csv:"external_id"`
	Account    string `csv:"account"`
}

// ImportFeedCSV ingests the headered feed format. Rows that fail to parse
// are collected as errors; rows already present (same external id or source
// hash) are skipped.
func (s *IngestService) ImportFeedCSV(ctx context.Context, r io.Reader, tz *time.Location) (IngestResult, error) {
	res := IngestResult{}
	var rows []feedRow
	if err := gocsv.Unmarshal(bufio.NewReader(r), &rows); err != nil {
		return res, fmt.Errorf("parse feed: %w", err)
	}
	for i, row := range rows {
		line := i + 2 // header is line 1
		date, err := parseLocalDate(row.Date, tz)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		amountCents, err := majorToCents(row.Amount)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		acct, err := s.accountForName(ctx, row.Account)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d account: %w", line, err))
			continue
		}
		payee := strings.TrimSpace(row.Payee)
		t := repository.Transaction{
			ID:          uuid.NewString(),
			AccountID:   acct.ID,
			ExternalID:  nullableStr(row.ExternalID),
			Date:        date,
			AmountCents: amountCents,
			Payee:       payee,
			Origin:      repository.OriginBank,
			SourceHash:  hashSource(acct.ID, date.Format(time.DateOnly), fmt.Sprintf("%d", amountCents), payee),
		}
		s.insert(ctx, t, line, &res)
	}
	return res, nil
}

// ImportSimpleCSV ingests a headerless date,amount,payee export, the format
// most banks fall back to.
func (s *IngestService) ImportSimpleCSV(ctx context.Context, r io.Reader, accountName string, tz *time.Location) (IngestResult, error) {
	if tz == nil {
		tz = time.Local
	}
	res := IngestResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	acct, err := s.accountForName(ctx, accountName)
	if err != nil {
		return res, err
	}

	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) < 3 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected 3 columns (date, amount, payee)", line))
			continue
		}
		date, err := parseLocalDate(rec[0], tz)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		amountCents, err := majorToCents(rec[1])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		payee := strings.TrimSpace(rec[2])
		t := repository.Transaction{
			ID:          uuid.NewString(),
			AccountID:   acct.ID,
			Date:        date,
			AmountCents: amountCents,
			Payee:       payee,
			Origin:      repository.OriginBank,
			SourceHash:  hashSource(acct.ID, date.Format(time.DateOnly), fmt.Sprintf("%d", amountCents), payee),
		}
		s.insert(ctx, t, line, &res)
	}
	return res, nil
}

// AddManual records a user-entered transaction.
func (s *IngestService) AddManual(ctx context.Context, accountName string, date time.Time, amountCents int64, payee string) (repository.Transaction, error) {
	acct, err := s.accountForName(ctx, accountName)
	if err != nil {
		return repository.Transaction{}, err
	}
	t := repository.Transaction{
		ID:          uuid.NewString(),
		AccountID:   acct.ID,
		Date:        date.UTC(),
		AmountCents: amountCents,
		Payee:       strings.TrimSpace(payee),
		Origin:      repository.OriginManual,
	}
	if err := s.Transactions.Insert(ctx, t); err != nil {
		return repository.Transaction{}, err
	}
	return t, nil
}

func (s *IngestService) insert(ctx context.Context, t repository.Transaction, line int, res *IngestResult) {
	if err := s.Transactions.Insert(ctx, t); err != nil {
		// skip duplicates on unique constraint
		if strings.Contains(err.Error(), "UNIQUE") {
			res.Skipped++
			return
		}
		res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
		return
	}
	res.Imported++
}

// majorToCents converts a major-unit amount string to integer minor units.
// Exact decimal arithmetic; anything finer than cents is rejected rather
// than rounded.
func majorToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-cent precision", s)
	}
	return cents.IntPart(), nil
}

func nullableStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func hashSource(parts ...string) *string {
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	h := fmt.Sprintf("%x", sum[:])
	return &h
}

func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	layout := "2006-01-02"
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *IngestService) accountForName(ctx context.Context, name string) (repository.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.Account{}, errors.New("account name required")
	}
	if s.accountCache == nil {
		s.accountCache = make(map[string]repository.Account)
	}
	if acct, ok := s.accountCache[name]; ok {
		return acct, nil
	}
	id := deterministicAccountID(name)
	acct := repository.Account{ID: id, Name: name, Institution: name, AccountType: "checking"}
	if err := s.Accounts.Upsert(ctx, acct); err != nil {
		return repository.Account{}, err
	}
	s.accountCache[name] = acct
	return acct, nil
}

func deterministicAccountID(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
