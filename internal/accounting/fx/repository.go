package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// RateInput is a single quote to be stored.
type RateInput struct {
	From string
	To   string
	Date time.Time
	Rate decimal.Decimal
}

// Repository reads and writes exchange_rates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres rate store.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Rate returns the latest quote on or before date.
func (r *Repository) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r == nil || r.pool == nil {
		return decimal.Zero, errors.New("fx: repository not initialised")
	}
	day := shared.DateOnly(date)
	rate, err := r.lookup(ctx, from, to, day)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, err
	}
	inverse, err := r.lookup(ctx, to, from, day)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, &MissingRateError{From: from, To: to, Date: day}
		}
		return decimal.Zero, err
	}
	return decimal.NewFromInt(1).DivRound(inverse, 10), nil
}

func (r *Repository) lookup(ctx context.Context, from, to string, day time.Time) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rate FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND rate_date <= $3
ORDER BY rate_date DESC LIMIT 1`, from, to, day).Scan(&rate)
	if err == nil && !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("fx: non-positive rate %s/%s", from, to)
	}
	return rate, err
}

// UpsertRates stores quotes, replacing rows for the same pair and day.
func (r *Repository) UpsertRates(ctx context.Context, rows []RateInput) error {
	if r == nil || r.pool == nil {
		return errors.New("fx: repository not initialised")
	}
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
INSERT INTO exchange_rates (from_currency, to_currency, rate_date, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (from_currency, to_currency, rate_date)
DO UPDATE SET rate = EXCLUDED.rate`
	for _, row := range rows {
		from, to := Normalize(row.From), Normalize(row.To)
		if len(from) != 3 || len(to) != 3 {
			return shared.Invalid("pair", "len", "currency codes must have 3 letters")
		}
		if row.Date.IsZero() {
			return shared.Invalid("date", "required", "rate date required for %s/%s", from, to)
		}
		if !row.Rate.IsPositive() {
			return shared.Invalid("rate", "gt", "rate must be positive for %s/%s", from, to)
		}
		batch.Queue(query, from, to, shared.DateOnly(row.Date), row.Rate)
	}
	results := r.pool.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
