package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RiskLimits struct {
	MinLiquidationBuffer decimal.Decimal
	HedgeRatio           decimal.Decimal
	DeltaTolerance       decimal.Decimal
	// MinPerpMarginBuffer is the least headroom of perp account value over the
	// maintenance requirement, as a fraction of that requirement. Zero disables the check.
	MinPerpMarginBuffer decimal.Decimal
}

// AssessRisk derives the liquidation buffer from live holdings. Buffer is the distance in
// LTV points between the current loan-to-value and the liquidation threshold.
func AssessRisk(h Holdings, lending LendingMarket, limits RiskLimits) (RiskAssessment, error) {
	if !lending.CollateralPriceUSD.IsPositive() {
		return RiskAssessment{}, fmt.Errorf("collateral price: %w", ErrMissingData)
	}
	if !lending.LiquidationThreshold.IsPositive() {
		return RiskAssessment{}, fmt.Errorf("liquidation threshold: %w", ErrMissingData)
	}
	collateralUSD := h.CollateralETH.Mul(lending.CollateralPriceUSD)
	debtUSD := h.DebtUSDC.Mul(debtPrice(lending))
	out := RiskAssessment{
		CollateralUSD:  collateralUSD,
		DebtUSD:        debtUSD,
		LiquidationLTV: lending.LiquidationThreshold,
	}
	switch {
	case collateralUSD.IsPositive():
		out.LTV = debtUSD.Div(collateralUSD)
		out.Buffer = lending.LiquidationThreshold.Sub(out.LTV)
		out.LiquidationPrice = debtUSD.Div(h.CollateralETH.Mul(lending.LiquidationThreshold))
		out.Breach = out.Buffer.LessThan(limits.MinLiquidationBuffer)
	case debtUSD.IsPositive():
		// Debt with no collateral left: already past liquidation.
		out.Breach = true
	default:
		out.Buffer = lending.LiquidationThreshold
	}
	out.DeltaDrift = DeltaDrift(h, limits.HedgeRatio)
	if limits.DeltaTolerance.IsPositive() {
		out.DeltaBreach = out.DeltaDrift.GreaterThan(limits.DeltaTolerance)
	}
	assessPerpMargin(&out, h.Perp, limits)
	return out, nil
}

// assessPerpMargin fills the perp side. Maintenance margin is half the initial margin
// at the asset's maximum leverage; without a position or a leverage cap nothing is set.
func assessPerpMargin(out *RiskAssessment, m PerpMargin, limits RiskLimits) {
	out.PerpLiquidationPrice = m.LiquidationPrice
	if !m.PositionUSD.IsPositive() || m.MaxLeverage <= 0 {
		return
	}
	rate := decimal.NewFromFloat(0.5).Div(decimal.NewFromInt(int64(m.MaxLeverage)))
	out.PerpMaintenanceUSD = m.PositionUSD.Mul(rate)
	out.PerpMarginBuffer = m.AccountValueUSD.Sub(out.PerpMaintenanceUSD).Div(out.PerpMaintenanceUSD)
	if limits.MinPerpMarginBuffer.IsPositive() {
		out.PerpMarginBreach = out.PerpMarginBuffer.LessThan(limits.MinPerpMarginBuffer)
	}
}

// DeltaDrift is the hedge mismatch as a fraction of collateral.
func DeltaDrift(h Holdings, hedgeRatio decimal.Decimal) decimal.Decimal {
	if !h.CollateralETH.IsPositive() {
		if h.ShortETH.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1)
	}
	if !hedgeRatio.IsPositive() {
		hedgeRatio = decimal.NewFromInt(1)
	}
	target := h.CollateralETH.Mul(hedgeRatio)
	return h.ShortETH.Sub(target).Abs().Div(h.CollateralETH)
}
