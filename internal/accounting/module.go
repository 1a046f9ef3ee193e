// Package accounting assembles the ledger engine: chart of accounts,
// periods, vouchers, posting, ledger queries, bank reconciliation
// and the audit trail.
package accounting

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bankrec"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/vouchers"
	auditTrail "github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Deps carries the infrastructure the module runs on. Redis and Registerer
// are optional.
type Deps struct {
	Pool         *pgxpool.Pool
	Redis        redis.UniversalClient
	Registerer   prometheus.Registerer
	Logger       *slog.Logger
	BaseCurrency string
	PostLockTTL  time.Duration
}

// Module exposes the wired services.
type Module struct {
	Accounts *accounts.Service
	Periods  *periods.Service
	Vouchers *vouchers.Service
	Posting  *posting.Engine
	Ledger   *ledger.Service
	BankRec  *bankrec.Service
	Rates    *fx.Repository
	Audit    *auditTrail.Service
	Handler  *Handler
}

// NewModule builds every service against Postgres.
func NewModule(deps Deps) *Module {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := internalShared.NewAuditLogger(deps.Pool)
	approvals := internalShared.NewApprovalRecorder(deps.Pool, logger)
	idempotency := internalShared.NewIdempotencyStore(deps.Pool)
	locker := cache.NewLocker(deps.Redis, deps.PostLockTTL)

	accountService := accounts.NewService(accounts.NewRepository(deps.Pool), audit, logger)
	periodService := periods.NewService(periods.NewRepository(deps.Pool), audit)
	rates := fx.NewRepository(deps.Pool)

	engine := posting.NewEngine(posting.Config{
		Repo:    posting.NewRepository(deps.Pool),
		Locker:  locker,
		Audit:   audit,
		Metrics: posting.NewMetrics(deps.Registerer),
		Logger:  logger,
	})
	voucherService := vouchers.NewService(vouchers.Config{
		Repo:         vouchers.NewRepository(deps.Pool),
		Periods:      periodService,
		Accounts:     accountService,
		Rates:        rates,
		Approvals:    approvals,
		Audit:        audit,
		Poster:       engine,
		BaseCurrency: deps.BaseCurrency,
		Logger:       logger,
	})
	ledgerService := ledger.NewService(ledger.NewStore(deps.Pool), logger)
	bankrecService := bankrec.NewService(bankrec.NewRepository(deps.Pool), accountService, locker, audit, logger)
	auditService := auditTrail.NewService(auditTrail.NewRepository(deps.Pool), approvals)

	return &Module{
		Accounts: accountService,
		Periods:  periodService,
		Vouchers: voucherService,
		Posting:  engine,
		Ledger:   ledgerService,
		BankRec:  bankrecService,
		Rates:    rates,
		Audit:    auditService,
		Handler: &Handler{
			Periods:  periods.NewHandler(logger, periodService),
			Accounts: accounts.NewHandler(logger, accountService),
			Vouchers: vouchers.NewHandler(logger, voucherService),
			Ledger:   ledger.NewHandler(logger, ledgerService),
			BankRec:  bankrec.NewHandler(logger, bankrecService, idempotency),
			Audit:    auditTrail.NewHandler(logger, auditService),
		},
	}
}
