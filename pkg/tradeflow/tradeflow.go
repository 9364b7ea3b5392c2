// Package tradeflow provides the public API for embedding the trade
// reconciliation engine. This is the stable API for external consumers.
package tradeflow

import (
	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/runtime"
	"github.com/tjfontaine/tradeflow/internal/totals"
)

// Engine is the main entry point for running the reconciliation service.
// See internal/runtime.Engine for full documentation.
type Engine = runtime.Engine

// Option is a functional option for configuring an Engine.
type Option = runtime.Option

// New creates a new Engine with the given options.
// Example:
//
//	e, err := tradeflow.New(
//	    tradeflow.WithFileConfig("config.yaml"),
//	    tradeflow.WithSQLite("./data/tradeflow.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig

	// Authentication
	WithAPIKeyAuth = runtime.WithAPIKeyAuth

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithPostgres      = runtime.WithPostgres
	WithMemoryStorage = runtime.WithMemoryStorage

	// Events
	WithDirectEvents = runtime.WithDirectEvents

	// Advanced options
	WithLogger           = runtime.WithLogger
	WithConfigProvider   = runtime.WithConfigProvider
	WithIdentityResolver = runtime.WithIdentityResolver
	WithStorageProvider  = runtime.WithStorageProvider
	WithEventPublisher   = runtime.WithEventPublisher
	WithSourceFetchers   = runtime.WithSourceFetchers
)

// Domain types shared with embedders.
type (
	TradeRecord   = domain.TradeRecord
	StatementItem = domain.StatementItem
	Fees          = domain.Fees
	Totals        = domain.Totals
	Status        = domain.Status
	Action        = domain.Action
	TradeError    = domain.TradeError
)

// ComputeTotals prices items at taxRate, adding fees. It is pure and needs
// no running engine.
func ComputeTotals(items []StatementItem, taxRate decimal.Decimal, fees *Fees) (Totals, error) {
	return totals.Compute(items, taxRate, fees)
}
