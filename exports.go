package retainer

import (
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/types"
)

// Re-export common types for convenience so users don't have to import the
// subpackages for everyday use.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Contract is re-exported from the contract package.
type Contract = contract.Contract

// BaseItem is re-exported from the contract package.
type BaseItem = contract.BaseItem

// Draft is re-exported from the invoice package.
type Draft = invoice.Draft

// Frequencies re-exported from the contract package.
const (
	Weekly    = contract.Weekly
	Monthly   = contract.Monthly
	Quarterly = contract.Quarterly
	Yearly    = contract.Yearly
)

// Re-export Money constructors
var (
	USD       = types.USD
	EUR       = types.EUR
	GBP       = types.GBP
	CHF       = types.CHF
	JPY       = types.JPY
	Zero      = types.Zero
	Sum       = types.Sum
	MustMoney = types.MustParse
)

// Re-export Entity constructor
var NewEntity = types.NewEntity

// Labor tax policies re-exported from the invoice package.
var (
	SharedBaseRate = invoice.SharedBaseRate
	TierRateOrBase = invoice.TierRateOrBase
)
