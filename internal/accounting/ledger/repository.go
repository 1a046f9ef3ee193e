package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Snapshot reads ledger state from one consistent view.
type Snapshot interface {
	Companies(ctx context.Context) ([]int64, error)
	Account(ctx context.Context, id int64) (accounts.Account, error)
	Accounts(ctx context.Context, companyID int64) ([]accounts.Account, error)
	// SumsBefore totals movements dated strictly before the date, by account.
	SumsBefore(ctx context.Context, companyID int64, before time.Time) (map[int64]Sums, error)
	// SumsBetween totals movements dated inside [from, to], by account.
	SumsBetween(ctx context.Context, companyID int64, from, to time.Time) (map[int64]Sums, error)
	AccountSumsBefore(ctx context.Context, accountID int64, before time.Time) (Sums, error)
	Movements(ctx context.Context, accountID int64, from, to time.Time) ([]Movement, error)
	UnbalancedVouchers(ctx context.Context, companyID int64) ([]UnbalancedVoucher, error)
	PostedWithoutMovements(ctx context.Context, companyID int64) ([]int64, error)
	Totals(ctx context.Context, companyID int64) (Sums, error)
}

// Store opens snapshots.
type Store interface {
	ReadSnapshot(ctx context.Context, fn func(Snapshot) error) error
}

// DBTX is satisfied by pgx pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGStore reads the ledger from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ReadSnapshot runs fn inside a read-only RepeatableRead transaction.
func (s *PGStore) ReadSnapshot(ctx context.Context, fn func(Snapshot) error) error {
	return db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(NewSnapshot(tx))
	})
}

type snapshot struct {
	q DBTX
}

// NewSnapshot reads through q without opening a transaction of its own.
func NewSnapshot(q DBTX) Snapshot {
	return &snapshot{q: q}
}

const movementColumns = `account_id, voucher_id, line_no, company_id, branch_id, voucher_no, movement_date, debit, credit, posted_at`

// InsertMovements writes movements in one batch.
func InsertMovements(ctx context.Context, q DBTX, movements []Movement) error {
	if len(movements) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO ledger_movements (`+movementColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			m.AccountID, m.VoucherID, m.LineNo, m.CompanyID, m.BranchID, m.VoucherNo, m.Date, m.Debit, m.Credit, m.PostedAt)
	}
	results := q.SendBatch(ctx, batch)
	defer results.Close()
	for range movements {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("ledger: insert movement: %w", err)
		}
	}
	return nil
}

func (s *snapshot) Companies(ctx context.Context) ([]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT company_id FROM accounts ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *snapshot) Account(ctx context.Context, id int64) (accounts.Account, error) {
	a, err := accounts.ScanAccount(s.q.QueryRow(ctx, `SELECT `+accounts.AccountColumns()+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, shared.NotFound("account", id)
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (s *snapshot) Accounts(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	rows, err := s.q.Query(ctx, `SELECT `+accounts.AccountColumns()+` FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounts.Account
	for rows.Next() {
		a, err := accounts.ScanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *snapshot) SumsBefore(ctx context.Context, companyID int64, before time.Time) (map[int64]Sums, error) {
	return s.sums(ctx, `SELECT account_id, SUM(debit), SUM(credit) FROM ledger_movements
WHERE company_id=$1 AND movement_date < $2 GROUP BY account_id`, companyID, before)
}

func (s *snapshot) SumsBetween(ctx context.Context, companyID int64, from, to time.Time) (map[int64]Sums, error) {
	return s.sums(ctx, `SELECT account_id, SUM(debit), SUM(credit) FROM ledger_movements
WHERE company_id=$1 AND movement_date BETWEEN $2 AND $3 GROUP BY account_id`, companyID, from, to)
}

func (s *snapshot) sums(ctx context.Context, sql string, args ...any) (map[int64]Sums, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Sums)
	for rows.Next() {
		var id int64
		var sum Sums
		if err := rows.Scan(&id, &sum.Debit, &sum.Credit); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func (s *snapshot) AccountSumsBefore(ctx context.Context, accountID int64, before time.Time) (Sums, error) {
	var sum Sums
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(debit),0), COALESCE(SUM(credit),0) FROM ledger_movements
WHERE account_id=$1 AND movement_date < $2`, accountID, before).Scan(&sum.Debit, &sum.Credit)
	return sum, err
}

func (s *snapshot) Movements(ctx context.Context, accountID int64, from, to time.Time) ([]Movement, error) {
	rows, err := s.q.Query(ctx, `SELECT `+movementColumns+` FROM ledger_movements
WHERE account_id=$1 AND movement_date BETWEEN $2 AND $3
ORDER BY `+MovementOrder, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.AccountID, &m.VoucherID, &m.LineNo, &m.CompanyID, &m.BranchID, &m.VoucherNo, &m.Date, &m.Debit, &m.Credit, &m.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *snapshot) UnbalancedVouchers(ctx context.Context, companyID int64) ([]UnbalancedVoucher, error) {
	rows, err := s.q.Query(ctx, `SELECT m.voucher_id, m.voucher_no, SUM(m.debit), SUM(m.credit)
FROM ledger_movements m
WHERE m.company_id=$1
GROUP BY m.voucher_id, m.voucher_no
HAVING SUM(m.debit) <> SUM(m.credit)
ORDER BY m.voucher_id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedVoucher
	for rows.Next() {
		var u UnbalancedVoucher
		if err := rows.Scan(&u.VoucherID, &u.Number, &u.Debit, &u.Credit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *snapshot) PostedWithoutMovements(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT v.id FROM vouchers v
WHERE v.company_id=$1 AND v.status IN ('POSTED','REVERSED')
  AND NOT EXISTS (SELECT 1 FROM ledger_movements m WHERE m.voucher_id = v.id)
ORDER BY v.id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *snapshot) Totals(ctx context.Context, companyID int64) (Sums, error) {
	var sum Sums
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(debit),0), COALESCE(SUM(credit),0) FROM ledger_movements WHERE company_id=$1`, companyID).
		Scan(&sum.Debit, &sum.Credit)
	return sum, err
}
