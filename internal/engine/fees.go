package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// TaxDefaults are the unskilled sales tax and broker fee, as fractions.
type TaxDefaults struct {
	SalesTaxRate  float64 `json:"sales_tax_rate"`
	BrokerFeeRate float64 `json:"broker_fee_rate"`
}

// TaxSkills are the character inputs that lower trade fees.
type TaxSkills struct {
	Accounting      int     `json:"accounting"`       // 0-5, lowers sales tax
	BrokerRelations int     `json:"broker_relations"` // 0-5, lowers broker fee
	FactionStanding float64 `json:"faction_standing"` // -10..10
	CorpStanding    float64 `json:"corp_standing"`    // -10..10
}

// TaxCalculation holds the effective fee rates for one character.
type TaxCalculation struct {
	SalesTaxRate  float64 `json:"sales_tax_rate"`
	BrokerFeeRate float64 `json:"broker_fee_rate"`
}

const (
	skillReductionPerLevel = 0.10
	// Standings lower the broker fee by these many percentage points per standing point.
	factionStandingFeePoints = 0.0003
	corpStandingFeePoints    = 0.0002
)

// CalculateTaxes applies skills and standings to the base rates. Each skill level
// removes 10 % of the base rate; standings subtract a small absolute term from
// the broker fee. Neither rate goes below zero.
func CalculateTaxes(skills TaxSkills, base TaxDefaults) TaxCalculation {
	acc := clampLevel(skills.Accounting)
	br := clampLevel(skills.BrokerRelations)

	sales := base.SalesTaxRate * (1 - skillReductionPerLevel*float64(acc))
	broker := base.BrokerFeeRate*(1-skillReductionPerLevel*float64(br)) -
		factionStandingFeePoints*skills.FactionStanding -
		corpStandingFeePoints*skills.CorpStanding

	return TaxCalculation{
		SalesTaxRate:  math.Max(0, sales),
		BrokerFeeRate: math.Max(0, broker),
	}
}

func clampLevel(l int) int {
	if l < 0 {
		return 0
	}
	if l > 5 {
		return 5
	}
	return l
}

// tradeFees is the precise fee breakdown of one buy-here/sell-there trade.
type tradeFees struct {
	BuyBrokerFee  decimal.Decimal
	SellBrokerFee decimal.Decimal
	SalesTax      decimal.Decimal
}

func (f tradeFees) total() decimal.Decimal {
	return f.BuyBrokerFee.Add(f.SellBrokerFee).Add(f.SalesTax)
}

// applyFees prices a trade: broker fee on both legs, sales tax on the sale.
func applyFees(totalCost, grossRevenue decimal.Decimal, taxes TaxCalculation) tradeFees {
	broker := decimal.NewFromFloat(taxes.BrokerFeeRate)
	sales := decimal.NewFromFloat(taxes.SalesTaxRate)
	return tradeFees{
		BuyBrokerFee:  totalCost.Mul(broker),
		SellBrokerFee: grossRevenue.Mul(broker),
		SalesTax:      grossRevenue.Mul(sales),
	}
}
