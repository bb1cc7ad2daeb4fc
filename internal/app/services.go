package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/accountingtest"
	"github.com/odyssey-erp/ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/budget"
	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/observability"
	"github.com/odyssey-erp/ledger/internal/platform/cache"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/shared"
	"github.com/odyssey-erp/ledger/internal/subledger"
)

// Stores groups the persistence adapters behind every service.
type Stores struct {
	Accounting accounting.RepositoryPort
	Mappings   mappings.Repository
	Subledger  subledger.Repository
	FX         fx.Repository
	Budgets    budget.Repository
	Audit      *shared.AuditLogger
}

// PostgresStores builds the SQL adapters over one pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Accounting: accounting.NewRepository(pool),
		Mappings:   mappings.NewRepository(pool),
		Subledger:  subledger.NewPGRepository(pool),
		FX:         fx.NewPGRepository(pool),
		Budgets:    budget.NewPGRepository(pool),
		Audit:      shared.NewAuditLogger(pool),
	}
}

// MemoryStores builds process-local adapters. State is lost on exit.
func MemoryStores() Stores {
	store := accountingtest.NewStore()
	return Stores{
		Accounting: store,
		Mappings:   store.Mappings(),
		Subledger:  subledger.NewMemoryRepository(),
		FX:         fx.NewMemoryRepository(),
		Budgets:    budget.NewMemoryRepository(),
	}
}

// Deps collects what NewServices needs besides the stores.
type Deps struct {
	Config  *Config
	Logger  *slog.Logger
	Stores  Stores
	Cache   *cache.Reports
	Events  shared.EventPublisher
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Services is the fully wired ledger.
type Services struct {
	Registry  *accounting.Registry
	Periods   *accounting.PeriodManager
	Ledger    *accounting.Ledger
	Mappings  mappings.Repository
	Subledger *subledger.Service
	FX        *fx.Service
	Budgets   *budget.Engine
	Gateway   *posting.Gateway
	Reports   *reports.Service
}

// NewServices wires the domain services over deps.
func NewServices(d Deps) *Services {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := d.Config
	if cfg == nil {
		cfg = &Config{}
	}
	opts := accounting.Options{
		Logger:            logger,
		Events:            d.Events,
		Cache:             d.Cache,
		Now:               d.Now,
		Epsilon:           cfg.BalanceEpsilon,
		ResultAccountCode: cfg.ResultAccount,
	}
	if d.Stores.Audit != nil {
		opts.Audit = d.Stores.Audit
	}
	if d.Metrics != nil {
		opts.Metrics = d.Metrics
	}

	registry := accounting.NewRegistry(d.Stores.Accounting, opts)
	periods := accounting.NewPeriodManager(d.Stores.Accounting, opts)
	ledger := accounting.NewLedger(d.Stores.Accounting, opts)

	itemOpts := []subledger.Option{subledger.WithCache(d.Cache)}
	if d.Stores.Audit != nil {
		itemOpts = append(itemOpts, subledger.WithAudit(d.Stores.Audit))
	}
	if d.Now != nil {
		itemOpts = append(itemOpts, subledger.WithClock(d.Now))
	}
	items := subledger.NewService(d.Stores.Subledger, logger, itemOpts...)
	rates := fx.NewService(d.Stores.FX, cfg.RateSide(), logger)
	budgets := budget.NewEngine(d.Stores.Budgets, registry, ledger, registry, d.Cache, logger)

	gatewayOpts := []posting.Option{posting.WithSubledger(items)}
	if cfg.FunctionalCurrency != "" {
		gatewayOpts = append(gatewayOpts, posting.WithFunctionalCurrency(cfg.FunctionalCurrency))
	}
	if d.Metrics != nil {
		gatewayOpts = append(gatewayOpts, posting.WithMetrics(d.Metrics))
	}
	gateway := posting.NewGateway(ledger, periods, d.Stores.Mappings, rates, logger, gatewayOpts...)

	return &Services{
		Registry:  registry,
		Periods:   periods,
		Ledger:    ledger,
		Mappings:  d.Stores.Mappings,
		Subledger: items,
		FX:        rates,
		Budgets:   budgets,
		Gateway:   gateway,
		Reports:   reports.NewService(periods, ledger, d.Cache, logger),
	}
}
