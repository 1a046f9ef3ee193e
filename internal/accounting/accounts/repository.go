package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists groups and accounts.
type Repository interface {
	CreateGroup(ctx context.Context, g Group) (Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListGroups(ctx context.Context, companyID int64) ([]Group, error)
	UpdateGroupParent(ctx context.Context, id int64, parentID *int64) error
	SetGroupActive(ctx context.Context, id int64, active bool) error

	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	UpdateAccountGroup(ctx context.Context, id, groupID int64, nature shared.Nature) error
	SetAccountActive(ctx context.Context, id int64, active bool) error
	DeleteAccount(ctx context.Context, id int64) error
	Usage(ctx context.Context, id int64) (Usage, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const (
	groupColumns   = `id, company_id, code, name, nature, parent_id, is_active, created_at, updated_at`
	accountColumns = `id, company_id, code, name, group_id, nature, COALESCE(currency,''), is_postable, is_control, is_active, created_at, updated_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.CompanyID, &g.Code, &g.Name, &g.Nature, &g.ParentID, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// ScanAccount reads AccountColumns into an Account.
func ScanAccount(row scanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.GroupID, &a.Nature, &a.Currency, &a.IsPostable, &a.IsControl, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// AccountColumns exposes the column list read by ScanAccount.
func AccountColumns() string {
	return accountColumns
}

func (r *repository) CreateGroup(ctx context.Context, g Group) (Group, error) {
	out, err := scanGroup(r.db.QueryRow(ctx, `INSERT INTO account_groups (company_id, code, name, nature, parent_id, is_active)
VALUES ($1,$2,$3,$4,$5,TRUE) RETURNING `+groupColumns, g.CompanyID, g.Code, g.Name, g.Nature, g.ParentID))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Group{}, shared.Invalid("code", "unique", "group code %s already exists", g.Code)
		}
		return Group{}, err
	}
	return out, nil
}

func (r *repository) GetGroup(ctx context.Context, id int64) (Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM account_groups WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, shared.NotFound("account group", id)
		}
		return Group{}, err
	}
	return g, nil
}

func (r *repository) ListGroups(ctx context.Context, companyID int64) ([]Group, error) {
	rows, err := r.db.Query(ctx, `SELECT `+groupColumns+` FROM account_groups WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *repository) UpdateGroupParent(ctx context.Context, id int64, parentID *int64) error {
	return r.execOne(ctx, "account group", id, `UPDATE account_groups SET parent_id=$2, updated_at=NOW() WHERE id=$1`, id, parentID)
}

func (r *repository) SetGroupActive(ctx context.Context, id int64, active bool) error {
	return r.execOne(ctx, "account group", id, `UPDATE account_groups SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
}

func (r *repository) CreateAccount(ctx context.Context, a Account) (Account, error) {
	out, err := ScanAccount(r.db.QueryRow(ctx, `INSERT INTO accounts (company_id, code, name, group_id, nature, currency, is_postable, is_control, is_active)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,TRUE) RETURNING `+accountColumns,
		a.CompanyID, a.Code, a.Name, a.GroupID, a.Nature, a.Currency, a.IsPostable, a.IsControl))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Account{}, shared.Invalid("code", "unique", "account code %s already exists", a.Code)
		}
		return Account{}, err
	}
	return out, nil
}

func (r *repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := ScanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFound("account", id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := ScanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) UpdateAccountGroup(ctx context.Context, id, groupID int64, nature shared.Nature) error {
	return r.execOne(ctx, "account", id, `UPDATE accounts SET group_id=$2, nature=$3, updated_at=NOW() WHERE id=$1`, id, groupID, nature)
}

func (r *repository) SetAccountActive(ctx context.Context, id int64, active bool) error {
	return r.execOne(ctx, "account", id, `UPDATE accounts SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
}

func (r *repository) DeleteAccount(ctx context.Context, id int64) error {
	return r.execOne(ctx, "account", id, `DELETE FROM accounts WHERE id=$1`, id)
}

func (r *repository) Usage(ctx context.Context, id int64) (Usage, error) {
	var u Usage
	err := r.db.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM ledger_movements WHERE account_id=$1),
  (SELECT COUNT(*) FROM voucher_lines WHERE account_id=$1),
  COALESCE((SELECT SUM(debit) FROM ledger_movements WHERE account_id=$1), 0),
  COALESCE((SELECT SUM(credit) FROM ledger_movements WHERE account_id=$1), 0)`, id).
		Scan(&u.Movements, &u.Lines, &u.Debit, &u.Credit)
	return u, err
}

func (r *repository) execOne(ctx context.Context, entity string, id int64, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(entity, id)
	}
	return nil
}
