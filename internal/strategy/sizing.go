package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const usdcDecimals = 6

var ErrNoBorrowCapacity = errors.New("no borrow capacity under liquidation threshold")

type SizingParams struct {
	TargetCollateralETH decimal.Decimal
	TargetLTV           decimal.Decimal
	SafetyMargin        decimal.Decimal
	HedgeRatio          decimal.Decimal
}

// EffectiveLTV keeps the borrow under the protocol's limits:
// min(target, liquidationThreshold - margin, maxLTV).
func EffectiveLTV(lending LendingMarket, params SizingParams) decimal.Decimal {
	ltv := params.TargetLTV
	ceiling := lending.LiquidationThreshold.Sub(params.SafetyMargin)
	if ceiling.LessThan(ltv) {
		ltv = ceiling
	}
	if lending.MaxLTV.IsPositive() && lending.MaxLTV.LessThan(ltv) {
		ltv = lending.MaxLTV
	}
	return ltv
}

// SizeEntry computes the three leg targets for a fresh entry. The short is sized
// ETH-for-ETH against collateral times the hedge ratio, rounded down to the venue's lot.
func SizeEntry(snap MarketSnapshot, params SizingParams) (Sizing, error) {
	if !params.TargetCollateralETH.IsPositive() {
		return Sizing{}, errors.New("target collateral must be > 0")
	}
	if !snap.Lending.CollateralPriceUSD.IsPositive() {
		return Sizing{}, fmt.Errorf("collateral price: %w", ErrMissingData)
	}
	ltv := EffectiveLTV(snap.Lending, params)
	if !ltv.IsPositive() {
		return Sizing{}, ErrNoBorrowCapacity
	}
	hedge := params.HedgeRatio
	if !hedge.IsPositive() {
		hedge = decimal.NewFromInt(1)
	}
	collateralUSD := params.TargetCollateralETH.Mul(snap.Lending.CollateralPriceUSD)
	debt := collateralUSD.Mul(ltv).Div(debtPrice(snap.Lending)).RoundDown(usdcDecimals)
	short := params.TargetCollateralETH.Mul(hedge).RoundDown(int32(snap.Perp.SzDecimals))
	if !short.IsPositive() {
		return Sizing{}, fmt.Errorf("short size rounds to zero at %d decimals", snap.Perp.SzDecimals)
	}
	return Sizing{
		CollateralETH: params.TargetCollateralETH,
		DebtUSDC:      debt,
		ShortETH:      short,
		LTV:           ltv,
	}, nil
}
