package strategy

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Rates are annualized with simple (non-compounding) scaling of the venue's native
// per-period rate so estimates stay comparable across polls.

const HoursPerYear = 8760

var (
	rayScale = decimal.New(1, 27)
	bpsScale = decimal.New(1, 4)
)

func AnnualizeSimple(periodRate decimal.Decimal, periodsPerYear int64) decimal.Decimal {
	return periodRate.Mul(decimal.NewFromInt(periodsPerYear))
}

// FundingAPY converts an hourly funding rate into an annual rate.
func FundingAPY(hourly decimal.Decimal) decimal.Decimal {
	return AnnualizeSimple(hourly, HoursPerYear)
}

// RayToDecimal converts a 1e27-scaled on-chain rate to a fraction.
func RayToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(rayScale)
}

// BpsToDecimal converts basis points (1e4 = 100%) to a fraction.
func BpsToDecimal(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(bpsScale)
}

// TokenAmount scales a raw integer token amount by its decimals.
func TokenAmount(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// TokenUnits converts a token amount to its raw integer form, truncating extra precision.
func TokenUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
