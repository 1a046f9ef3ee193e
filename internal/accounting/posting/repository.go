package posting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/vouchers"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations posting runs inside one transaction.
type TxRepository interface {
	GetVoucherForUpdate(ctx context.Context, id int64) (vouchers.Voucher, error)
	GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error)
	FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
	GetNextOpenPeriodAfter(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
	GetAccounts(ctx context.Context, ids []int64) (map[int64]accounts.Account, error)
	InsertReversal(ctx context.Context, v vouchers.Voucher, periodCode string) (vouchers.Voucher, error)
	InsertMovements(ctx context.Context, movements []ledger.Movement) error
	UpdateStatus(ctx context.Context, u vouchers.StatusUpdate) error
	LinkReversal(ctx context.Context, originalID, reversalID int64) error
}

// Repository is the Postgres implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, id int64) (vouchers.Voucher, error) {
	return vouchers.LoadVoucher(ctx, r.tx, id, true)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error) {
	p, err := periods.ScanPeriod(r.tx.QueryRow(ctx, `SELECT `+periods.Columns()+` FROM periods WHERE id=$1 FOR UPDATE`, periodID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, shared.NotFound("period", periodID)
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	p, err := periods.ScanPeriod(r.tx.QueryRow(ctx, `SELECT `+periods.Columns()+` FROM periods
WHERE company_id=$1 AND status='OPEN' AND $2 BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1 FOR UPDATE`, companyID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, periods.ErrNoOpenPeriod(date)
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetNextOpenPeriodAfter(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	p, err := periods.ScanPeriod(r.tx.QueryRow(ctx, `SELECT `+periods.Columns()+` FROM periods
WHERE company_id=$1 AND status='OPEN' AND start_date >= $2
ORDER BY start_date LIMIT 1 FOR UPDATE`, companyID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, periods.ErrNoOpenPeriod(date)
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetAccounts(ctx context.Context, ids []int64) (map[int64]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accounts.AccountColumns()+` FROM accounts WHERE id = ANY($1) FOR SHARE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]accounts.Account, len(ids))
	for rows.Next() {
		a, err := accounts.ScanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) InsertReversal(ctx context.Context, v vouchers.Voucher, periodCode string) (vouchers.Voucher, error) {
	return vouchers.InsertVoucher(ctx, r.tx, v, periodCode)
}

func (r *txRepository) InsertMovements(ctx context.Context, movements []ledger.Movement) error {
	return ledger.InsertMovements(ctx, r.tx, movements)
}

func (r *txRepository) UpdateStatus(ctx context.Context, u vouchers.StatusUpdate) error {
	return vouchers.ApplyStatus(ctx, r.tx, u)
}

func (r *txRepository) LinkReversal(ctx context.Context, originalID, reversalID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE vouchers SET reversed_by=$2, updated_at=NOW() WHERE id=$1`, originalID, reversalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("voucher", originalID)
	}
	return nil
}
