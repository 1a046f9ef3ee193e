package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// DBTX is satisfied by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists vouchers.
type Repository interface {
	Create(ctx context.Context, v Voucher, periodCode string) (Voucher, error)
	Get(ctx context.Context, id int64) (Voucher, error)
	List(ctx context.Context, f ListFilter) ([]Voucher, int, error)
	UpdateHeader(ctx context.Context, v Voucher) error
	AddLine(ctx context.Context, voucherID int64, line Line) (Line, error)
	RemoveLine(ctx context.Context, voucherID int64, lineNo int) error
	// Transition locks the voucher and its lines, hands the locked state to
	// decide and applies the returned update in the same transaction.
	Transition(ctx context.Context, id int64, decide func(Voucher) (StatusUpdate, error)) (Voucher, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const voucherColumns = `id, ref, company_id, branch_id, period_id, number, voucher_type, voucher_date, narration, status,
total_debit, total_credit, reversal_of, reversed_by, created_by, submitted_by, approved_by, posted_by, posted_at,
COALESCE(rejection_reason,''), created_at, updated_at`

const lineColumns = `voucher_id, line_no, account_id, debit, credit, COALESCE(description,''), COALESCE(currency,''), rate, foreign_amount`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.Ref, &v.CompanyID, &v.BranchID, &v.PeriodID, &v.Number, &v.Type, &v.Date, &v.Narration, &v.Status,
		&v.TotalDebit, &v.TotalCredit, &v.ReversalOf, &v.ReversedBy, &v.CreatedBy, &v.SubmittedBy, &v.ApprovedBy, &v.PostedBy, &v.PostedAt,
		&v.RejectionReason, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (r *repository) Create(ctx context.Context, v Voucher, periodCode string) (Voucher, error) {
	var out Voucher
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		out, err = InsertVoucher(ctx, tx, v, periodCode)
		return err
	})
	return out, err
}

// InsertVoucher numbers v within its period and stores it with its lines.
func InsertVoucher(ctx context.Context, q DBTX, v Voucher, periodCode string) (Voucher, error) {
	seq, err := NextSequence(ctx, q, SequenceKey{CompanyID: v.CompanyID, BranchID: v.BranchID, PeriodID: v.PeriodID, Type: v.Type})
	if err != nil {
		return Voucher{}, err
	}
	if v.Ref == uuid.Nil {
		v.Ref = uuid.New()
	}
	if v.Status == "" {
		v.Status = StatusDraft
	}
	v.Number = FormatNumber(v.Type, periodCode, seq)
	b := CheckBalance(v.Lines)
	out, err := scanVoucher(q.QueryRow(ctx, `INSERT INTO vouchers
  (ref, company_id, branch_id, period_id, number, voucher_type, voucher_date, narration, status, total_debit, total_credit, reversal_of, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING `+voucherColumns,
		v.Ref, v.CompanyID, v.BranchID, v.PeriodID, v.Number, string(v.Type), v.Date, v.Narration, string(v.Status),
		b.DebitTotal, b.CreditTotal, v.ReversalOf, v.CreatedBy))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Voucher{}, &shared.ConflictError{Entity: "voucher", Reason: "number " + v.Number + " already used"}
		}
		return Voucher{}, err
	}
	for i := range v.Lines {
		v.Lines[i].VoucherID = out.ID
		v.Lines[i].LineNo = i + 1
	}
	if err := InsertLines(ctx, q, v.Lines); err != nil {
		return Voucher{}, err
	}
	out.Lines = v.Lines
	return out, nil
}

// InsertLines stores lines whose VoucherID and LineNo are already set.
func InsertLines(ctx context.Context, q DBTX, lines []Line) error {
	for _, l := range lines {
		if _, err := q.Exec(ctx, `INSERT INTO voucher_lines
  (voucher_id, line_no, account_id, debit, credit, description, currency, rate, foreign_amount)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9)`,
			l.VoucherID, l.LineNo, l.AccountID, l.Debit, l.Credit, l.Description, l.Currency, l.Rate, l.ForeignAmount); err != nil {
			return fmt.Errorf("vouchers: insert line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

// LoadVoucher reads a voucher and its lines, optionally locking the header row.
func LoadVoucher(ctx context.Context, q DBTX, id int64, forUpdate bool) (Voucher, error) {
	sql := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	v, err := scanVoucher(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, shared.NotFound("voucher", id)
		}
		return Voucher{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM voucher_lines WHERE voucher_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Voucher{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.VoucherID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Description, &l.Currency, &l.Rate, &l.ForeignAmount); err != nil {
			return Voucher{}, err
		}
		v.Lines = append(v.Lines, l)
	}
	return v, rows.Err()
}

// ApplyStatus performs a compare-and-set status change.
func ApplyStatus(ctx context.Context, q DBTX, u StatusUpdate) error {
	tag, err := q.Exec(ctx, `UPDATE vouchers SET status=$3,
  submitted_by = CASE WHEN $3 = 'SUBMITTED' THEN $4 ELSE submitted_by END,
  approved_by  = CASE WHEN $3 = 'APPROVED' THEN $4 ELSE approved_by END,
  posted_by    = CASE WHEN $3 = 'POSTED' THEN $4 ELSE posted_by END,
  posted_at    = CASE WHEN $3 = 'POSTED' THEN $5 ELSE posted_at END,
  rejection_reason = CASE WHEN $3 IN ('REJECTED','CANCELLED') THEN NULLIF($6,'') ELSE rejection_reason END,
  updated_at = NOW()
WHERE id=$1 AND status=$2`, u.ID, string(u.From), string(u.To), nullActor(u.ActorID), u.At, u.Reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.InvalidState("voucher", u.ID, string(u.From), Action(u.To))
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (Voucher, error) {
	return LoadVoucher(ctx, r.pool, id, false)
}

func (r *repository) List(ctx context.Context, f ListFilter) ([]Voucher, int, error) {
	where := []string{"company_id=$1"}
	args := []any{f.CompanyID}
	add := func(cond string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Type != "" {
		add("voucher_type=$%d", string(f.Type))
	}
	if f.From != nil {
		add("voucher_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("voucher_date <= $%d", *f.To)
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM vouchers WHERE %s ORDER BY voucher_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		voucherColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *repository) UpdateHeader(ctx context.Context, v Voucher) error {
	tag, err := r.pool.Exec(ctx, `UPDATE vouchers SET voucher_date=$2, narration=$3, updated_at=NOW() WHERE id=$1 AND status='DRAFT'`,
		v.ID, v.Date, v.Narration)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return linesLocked(v.ID, v.Status)
	}
	return nil
}

func (r *repository) AddLine(ctx context.Context, voucherID int64, line Line) (Line, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockDraft(ctx, tx, voucherID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(line_no),0)+1 FROM voucher_lines WHERE voucher_id=$1`, voucherID).Scan(&line.LineNo); err != nil {
			return err
		}
		line.VoucherID = voucherID
		if err := InsertLines(ctx, tx, []Line{line}); err != nil {
			return err
		}
		return refreshTotals(ctx, tx, voucherID)
	})
	return line, err
}

func (r *repository) RemoveLine(ctx context.Context, voucherID int64, lineNo int) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockDraft(ctx, tx, voucherID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM voucher_lines WHERE voucher_id=$1 AND line_no=$2`, voucherID, lineNo)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFound("voucher line", int64(lineNo))
		}
		return refreshTotals(ctx, tx, voucherID)
	})
}

func (r *repository) Transition(ctx context.Context, id int64, decide func(Voucher) (StatusUpdate, error)) (Voucher, error) {
	var locked Voucher
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		v, err := LoadVoucher(ctx, tx, id, true)
		if err != nil {
			return err
		}
		u, err := decide(v)
		if err != nil {
			return err
		}
		if err := ApplyStatus(ctx, tx, u); err != nil {
			return err
		}
		locked = v
		return nil
	})
	return locked, err
}

func lockDraft(ctx context.Context, tx pgx.Tx, voucherID int64) error {
	var status Status
	if err := tx.QueryRow(ctx, `SELECT status FROM vouchers WHERE id=$1 FOR UPDATE`, voucherID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFound("voucher", voucherID)
		}
		return err
	}
	if !status.Editable() {
		return linesLocked(voucherID, status)
	}
	return nil
}

func refreshTotals(ctx context.Context, tx pgx.Tx, voucherID int64) error {
	_, err := tx.Exec(ctx, `UPDATE vouchers SET
  total_debit = COALESCE((SELECT SUM(debit) FROM voucher_lines WHERE voucher_id=$1), 0),
  total_credit = COALESCE((SELECT SUM(credit) FROM voucher_lines WHERE voucher_id=$1), 0),
  updated_at = NOW()
WHERE id=$1`, voucherID)
	return err
}

func linesLocked(id int64, status Status) error {
	return shared.Invalid("status", "draft", "voucher %d is %s; it can only change while DRAFT", id, status)
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
