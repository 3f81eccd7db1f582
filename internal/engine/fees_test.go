package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateTaxes(t *testing.T) {
	base := TaxDefaults{SalesTaxRate: DefaultSalesTaxRate, BrokerFeeRate: DefaultBrokerFeeRate}

	tests := []struct {
		name       string
		skills     TaxSkills
		base       TaxDefaults
		wantSales  float64
		wantBroker float64
	}{
		{"unskilled", TaxSkills{}, base, 0.0225, 0.0225},
		{"accounting V", TaxSkills{Accounting: 5}, base, 0.01125, 0.0225},
		{"broker relations III", TaxSkills{BrokerRelations: 3}, base, 0.0225, 0.01575},
		{"standings", TaxSkills{BrokerRelations: 5, FactionStanding: 10, CorpStanding: 10}, base, 0.0225, 0.00625},
		{"negative standings raise the fee", TaxSkills{FactionStanding: -5}, base, 0.0225, 0.024},
		{"levels are clamped", TaxSkills{Accounting: 9, BrokerRelations: -2}, base, 0.01125, 0.0225},
		{"never below zero", TaxSkills{BrokerRelations: 5, FactionStanding: 10, CorpStanding: 10},
			TaxDefaults{SalesTaxRate: 0.01, BrokerFeeRate: 0.005}, 0.01, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTaxes(tt.skills, tt.base)
			assert.InDelta(t, tt.wantSales, got.SalesTaxRate, 1e-12)
			assert.InDelta(t, tt.wantBroker, got.BrokerFeeRate, 1e-12)
		})
	}
}

func TestApplyFees(t *testing.T) {
	fees := applyFees(dec("3000"), dec("4500"), TaxCalculation{SalesTaxRate: 0.0225, BrokerFeeRate: 0.0225})

	assertDecimal(t, "67.5", fees.BuyBrokerFee)
	assertDecimal(t, "101.25", fees.SellBrokerFee)
	assertDecimal(t, "101.25", fees.SalesTax)
	assertDecimal(t, "270", fees.total())
}
