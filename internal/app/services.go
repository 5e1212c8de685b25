package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/consumption"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/invoicing"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/observability"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/pettycash"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/cache"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/procurement"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Services is the assembled domain layer shared by the API and the worker.
type Services struct {
	Accounting  *accounting.Service
	Invoicing   *invoicing.Service
	Inventory   *inventory.Service
	Consumption *consumption.Service
	PettyCash   *pettycash.Service
	Procurement *procurement.Service

	Idempotency *shared.IdempotencyStore
	Cache       *cache.Versioned
}

// NewServices wires repositories, stores and services. redisClient may be nil,
// in which case balances are always computed from the ledger.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := cfg.ApprovalTiers()
	if err != nil {
		return nil, err
	}
	iso := cfg.Isolation()

	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger).WithAmbientTx(db.TxFromContext)
	idem := shared.NewIdempotencyStore(pool)

	var versioned *cache.Versioned
	if redisClient != nil {
		versioned = cache.NewVersioned(redisClient, "diagnostics", cfg.BalanceCacheTTL)
	}

	ledger := accounting.NewService(
		accounting.NewRepository(pool).WithIsolation(iso),
		auditLogger,
		accounting.NewBalanceCache(versioned),
		logger.With(slog.String("module", "accounting")),
	)
	ledger.WithMetrics(metrics)

	invoices := invoicing.NewService(
		invoicing.NewRepository(pool).WithIsolation(iso),
		ledger,
		invoicing.Config{
			Accounts: invoicing.PostingAccounts{
				CashAccountCode:       cfg.LedgerCashAccount,
				ReceivableAccountCode: cfg.LedgerReceivableAccount,
				RevenueAccountCode:    cfg.LedgerRevenueAccount,
				DiscountAccountCode:   cfg.LedgerDiscountAccount,
			},
			Currency: cfg.Currency,
		},
		auditLogger,
		logger.With(slog.String("module", "invoicing")),
	)
	invoices.WithMetrics(metrics)

	stock := inventory.NewService(
		inventory.NewRepository(pool).WithIsolation(iso),
		auditLogger,
		idem,
		logger.With(slog.String("module", "inventory")),
	)
	stock.WithObserver(metrics)

	consume := consumption.NewService(
		consumption.NewRepository(pool),
		stock,
		idem,
		auditLogger,
		logger.With(slog.String("module", "consumption")),
	).WithMetrics(metrics).WithRetry(cfg.RetryPolicy())

	petty := pettycash.NewService(
		pettycash.NewRepository(pool).WithIsolation(iso),
		auditLogger,
		logger.With(slog.String("module", "pettycash")),
	)
	petty.WithMetrics(metrics)

	orders := procurement.NewService(
		procurement.NewRepository(pool).WithIsolation(iso),
		policy,
		approvals,
		auditLogger,
		logger.With(slog.String("module", "procurement")),
	)
	orders.WithObserver(metrics)

	return &Services{
		Accounting:  ledger,
		Invoicing:   invoices,
		Inventory:   stock,
		Consumption: consume,
		PettyCash:   petty,
		Procurement: orders,
		Idempotency: idem,
		Cache:       versioned,
	}, nil
}
