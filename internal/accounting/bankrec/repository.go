package bankrec

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists reconciliations.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateHeader(ctx context.Context, h Header) (Header, error)
	GetHeader(ctx context.Context, id int64) (Header, error)
	ListHeaders(ctx context.Context, bankAccountID int64) ([]Header, error)
	Lines(ctx context.Context, headerID int64) ([]Line, error)
	// BookBalance returns the account's debit-minus-credit net through asOf.
	BookBalance(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error)
	// UnmatchedMovements lists the header period's bank movements whose
	// voucher no line references.
	UnmatchedMovements(ctx context.Context, h Header) ([]ledger.Movement, error)
}

// TxRepository is used while the header row is locked.
type TxRepository interface {
	LockHeader(ctx context.Context, id int64) (Header, error)
	InsertLine(ctx context.Context, l Line) (Line, error)
	GetLine(ctx context.Context, headerID, lineID int64) (Line, error)
	UpdateLine(ctx context.Context, l Line) error
	DeleteLine(ctx context.Context, headerID, lineID int64) error
	Fingerprints(ctx context.Context, headerID int64) (map[string]bool, error)
	VoucherTouchesAccount(ctx context.Context, voucherID, accountID int64) (bool, error)
	CompleteHeader(ctx context.Context, id, actorID int64, at time.Time) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const (
	headerColumns = `id, company_id, bank_account_id, statement_from, statement_to, ending_balance, status, completed_by, completed_at, created_by, created_at, updated_at`
	lineColumns   = `id, header_id, line_date, amount, cleared, voucher_id, COALESCE(description,''), COALESCE(reference,''), fingerprint, created_at`
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	err := row.Scan(&h.ID, &h.CompanyID, &h.BankAccountID, &h.StatementFrom, &h.StatementTo, &h.EndingBalance,
		&h.Status, &h.CompletedBy, &h.CompletedAt, &h.CreatedBy, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.HeaderID, &l.Date, &l.Amount, &l.Cleared, &l.VoucherID, &l.Description, &l.Reference, &l.Fingerprint, &l.CreatedAt)
	return l, err
}

func getHeader(ctx context.Context, q querier, id int64, forUpdate bool) (Header, error) {
	sql := `SELECT ` + headerColumns + ` FROM bank_reconciliations WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	h, err := scanHeader(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Header{}, shared.NotFound("bank reconciliation", id)
		}
		return Header{}, err
	}
	return h, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) CreateHeader(ctx context.Context, h Header) (Header, error) {
	return scanHeader(r.pool.QueryRow(ctx, `INSERT INTO bank_reconciliations
  (company_id, bank_account_id, statement_from, statement_to, ending_balance, status, created_by)
VALUES ($1,$2,$3,$4,$5,'DRAFT',$6) RETURNING `+headerColumns,
		h.CompanyID, h.BankAccountID, h.StatementFrom, h.StatementTo, h.EndingBalance, h.CreatedBy))
}

func (r *repository) GetHeader(ctx context.Context, id int64) (Header, error) {
	return getHeader(ctx, r.pool, id, false)
}

func (r *repository) ListHeaders(ctx context.Context, bankAccountID int64) ([]Header, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+headerColumns+` FROM bank_reconciliations WHERE bank_account_id=$1 ORDER BY statement_from DESC`, bankAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repository) Lines(ctx context.Context, headerID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM bank_reconciliation_lines WHERE header_id=$1 ORDER BY line_date, id`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repository) BookBalance(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, error) {
	var net decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(debit - credit), 0) FROM ledger_movements
WHERE account_id=$1 AND movement_date <= $2`, accountID, asOf).Scan(&net)
	return net, err
}

func (r *repository) UnmatchedMovements(ctx context.Context, h Header) ([]ledger.Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.account_id, m.voucher_id, m.line_no, m.company_id, m.branch_id, m.voucher_no, m.movement_date, m.debit, m.credit, m.posted_at
FROM ledger_movements m
WHERE m.account_id=$1 AND m.movement_date BETWEEN $2 AND $3
  AND NOT EXISTS (SELECT 1 FROM bank_reconciliation_lines l WHERE l.header_id=$4 AND l.voucher_id = m.voucher_id)
ORDER BY `+ledger.MovementOrder, h.BankAccountID, h.StatementFrom, h.StatementTo, h.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Movement
	for rows.Next() {
		var m ledger.Movement
		if err := rows.Scan(&m.AccountID, &m.VoucherID, &m.LineNo, &m.CompanyID, &m.BranchID, &m.VoucherNo, &m.Date, &m.Debit, &m.Credit, &m.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) LockHeader(ctx context.Context, id int64) (Header, error) {
	return getHeader(ctx, r.tx, id, true)
}

func (r *txRepository) InsertLine(ctx context.Context, l Line) (Line, error) {
	return scanLine(r.tx.QueryRow(ctx, `INSERT INTO bank_reconciliation_lines
  (header_id, line_date, amount, cleared, voucher_id, description, reference, fingerprint)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8) RETURNING `+lineColumns,
		l.HeaderID, l.Date, l.Amount, l.Cleared, l.VoucherID, l.Description, l.Reference, l.Fingerprint))
}

func (r *txRepository) GetLine(ctx context.Context, headerID, lineID int64) (Line, error) {
	l, err := scanLine(r.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM bank_reconciliation_lines WHERE header_id=$1 AND id=$2`, headerID, lineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, shared.NotFound("bank reconciliation line", lineID)
		}
		return Line{}, err
	}
	return l, nil
}

func (r *txRepository) UpdateLine(ctx context.Context, l Line) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bank_reconciliation_lines
SET line_date=$3, amount=$4, cleared=$5, voucher_id=$6, description=NULLIF($7,''), reference=NULLIF($8,''), fingerprint=$9
WHERE header_id=$1 AND id=$2`,
		l.HeaderID, l.ID, l.Date, l.Amount, l.Cleared, l.VoucherID, l.Description, l.Reference, l.Fingerprint)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("bank reconciliation line", l.ID)
	}
	return nil
}

func (r *txRepository) DeleteLine(ctx context.Context, headerID, lineID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM bank_reconciliation_lines WHERE header_id=$1 AND id=$2`, headerID, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("bank reconciliation line", lineID)
	}
	return nil
}

func (r *txRepository) Fingerprints(ctx context.Context, headerID int64) (map[string]bool, error) {
	rows, err := r.tx.Query(ctx, `SELECT fingerprint FROM bank_reconciliation_lines WHERE header_id=$1`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out[fp] = true
	}
	return out, rows.Err()
}

func (r *txRepository) VoucherTouchesAccount(ctx context.Context, voucherID, accountID int64) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM voucher_lines WHERE voucher_id=$1 AND account_id=$2)`, voucherID, accountID).Scan(&ok)
	return ok, err
}

func (r *txRepository) CompleteHeader(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bank_reconciliations
SET status='COMPLETED', completed_by=$2, completed_at=$3, updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`, id, nullActor(actorID), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConflictError{Entity: "bank reconciliation", ID: id, Reason: "already completed"}
	}
	return nil
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
