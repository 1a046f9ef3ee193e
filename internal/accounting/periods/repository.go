package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists fiscal periods.
type Repository interface {
	Create(ctx context.Context, in CreateInput) (Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context, companyID int64) ([]Period, error)
	FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
	Overlaps(ctx context.Context, companyID int64, start, end time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status PeriodStatus, actorID int64) (Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, company_id, code, start_date, end_date, status, closed_at, locked_by, created_at, updated_at`

// Scanner is satisfied by pgx.Row and pgx.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanPeriod reads periodColumns into a Period.
func ScanPeriod(row Scanner) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.LockedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Columns exposes the column list used by ScanPeriod.
func Columns() string {
	return periodColumns
}

func (r *repository) Create(ctx context.Context, in CreateInput) (Period, error) {
	p, err := ScanPeriod(r.db.QueryRow(ctx, `INSERT INTO periods (company_id, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,'OPEN') RETURNING `+periodColumns, in.CompanyID, in.Code, in.StartDate, in.EndDate))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Period{}, shared.Invalid("code", "unique", "period %s already exists", in.Code)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	p, err := ScanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.NotFound("period", id)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM periods WHERE company_id=$1 ORDER BY start_date`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := ScanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindOpenPeriodByDate returns the open period covering the supplied date.
func (r *repository) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	p, err := ScanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM periods WHERE company_id=$1 AND status='OPEN' AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, companyID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoOpenPeriod(date)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) Overlaps(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM periods WHERE company_id=$1 AND start_date <= $3 AND end_date >= $2)`, companyID, start, end).Scan(&exists)
	return exists, err
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status PeriodStatus, actorID int64) (Period, error) {
	p, err := ScanPeriod(r.db.QueryRow(ctx, `UPDATE periods SET status=$2,
  closed_at = CASE WHEN $2 = 'OPEN' THEN NULL WHEN closed_at IS NULL THEN NOW() ELSE closed_at END,
  locked_by = CASE WHEN $2 = 'LOCKED' THEN $3 ELSE NULL END,
  updated_at = NOW()
WHERE id=$1 RETURNING `+periodColumns, id, status, nullActor(actorID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.NotFound("period", id)
		}
		return Period{}, err
	}
	return p, nil
}

// ErrNoOpenPeriod reports that no OPEN period covers date.
func ErrNoOpenPeriod(date time.Time) error {
	return shared.Invalid("date", "open_period", "no open period covers %s", date.Format(shared.DateLayout))
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
