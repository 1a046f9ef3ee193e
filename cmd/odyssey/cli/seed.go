package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// Seeder applies chart of accounts templates.
type Seeder interface {
	Seed(ctx context.Context, companyID, actorID int64, tpl accounts.Template) (accounts.SeedResult, error)
}

// SeedOptions configures the seed-coa command.
type SeedOptions struct {
	CompanyID int64
	ActorID   int64
	Source    string
	Stdout    io.Writer
	Stderr    io.Writer
}

// SeedCOACommand loads a YAML template and seeds it for a company.
func SeedCOACommand(ctx context.Context, seeder Seeder, opts SeedOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if seeder == nil {
		fmt.Fprintln(opts.Stderr, "seed-coa: seeder not configured")
		return 1
	}
	if opts.CompanyID <= 0 {
		fmt.Fprintln(opts.Stderr, "seed-coa: --company is required and must be positive")
		return 1
	}
	f, err := os.Open(opts.Source)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "seed-coa: %v\n", err)
		return 1
	}
	defer f.Close()
	tpl, err := accounts.LoadTemplate(f)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "seed-coa: %v\n", err)
		return 1
	}
	result, err := seeder.Seed(ctx, opts.CompanyID, opts.ActorID, tpl)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "seed-coa: %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	fmt.Fprintf(opts.Stdout, "seeded company %d: %d groups, %d accounts created, %d skipped\n",
		opts.CompanyID, result.GroupsCreated, result.AccountsCreated, result.Skipped)
	return 0
}
