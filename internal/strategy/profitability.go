package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingData = errors.New("market data missing")
	ErrStaleData   = errors.New("market data stale")
)

const (
	year           = 365 * 24 * time.Hour
	defaultTxCount = 6
)

// CostModel describes one-time entry and exit costs. Fee and slippage apply to the
// perp notional on both entry and exit; gas applies per lending transaction.
type CostModel struct {
	PerpFeeBps     decimal.Decimal
	SlippageBps    decimal.Decimal
	GasUSDPerTx    decimal.Decimal
	TxCount        int
	HoldingHorizon time.Duration
}

func (c CostModel) OneTimeCostUSD(shortNotionalUSD decimal.Decimal) decimal.Decimal {
	bps := c.PerpFeeBps.Add(c.SlippageBps).Div(bpsScale)
	tradeCost := shortNotionalUSD.Mul(bps).Mul(decimal.NewFromInt(2))
	txCount := c.TxCount
	if txCount <= 0 {
		txCount = defaultTxCount
	}
	return tradeCost.Add(c.GasUSDPerTx.Mul(decimal.NewFromInt(int64(txCount))))
}

func (c CostModel) horizonYears() decimal.Decimal {
	if c.HoldingHorizon <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(c.HoldingHorizon)).Div(decimal.NewFromInt(int64(year)))
}

// EstimateProfitability turns one snapshot and a sizing into an annualized yield on
// collateral value. It returns ErrMissingData or ErrStaleData (wrapped) instead of a
// number whenever the snapshot cannot support a decision.
func EstimateProfitability(snap MarketSnapshot, sizing Sizing, costs CostModel, now time.Time, maxAge time.Duration) (ProfitabilityEstimate, error) {
	if err := CheckSnapshot(snap, now, maxAge); err != nil {
		return ProfitabilityEstimate{}, err
	}
	if !sizing.CollateralETH.IsPositive() {
		return ProfitabilityEstimate{}, fmt.Errorf("collateral size: %w", ErrMissingData)
	}
	price := snap.Lending.CollateralPriceUSD
	collateralUSD := sizing.CollateralETH.Mul(price)
	debtUSD := sizing.DebtUSDC.Mul(debtPrice(snap.Lending))
	shortUSD := sizing.ShortETH.Abs().Mul(perpPrice(snap.Perp))

	supplyUSD := snap.Lending.SupplyAPR.Mul(collateralUSD)
	borrowUSD := snap.Lending.BorrowAPR.Mul(debtUSD)
	fundingUSD := FundingAPY(snap.Perp.FundingRateHourly).Mul(shortUSD)
	oneTime := costs.OneTimeCostUSD(shortUSD)
	annualCost := oneTime.Div(costs.horizonYears())

	est := ProfitabilityEstimate{
		SupplyAPY:        supplyUSD.Div(collateralUSD),
		BorrowCostAPY:    borrowUSD.Div(collateralUSD),
		FundingAPY:       fundingUSD.Div(collateralUSD),
		AmortizedCostAPY: annualCost.Div(collateralUSD),
		CollateralUSD:    collateralUSD,
		DebtUSD:          debtUSD,
		ShortNotionalUSD: shortUSD,
		OneTimeCostUSD:   oneTime,
		SnapshotAt:       snap.Timestamp,
	}
	est.NetAPY = est.SupplyAPY.Sub(est.BorrowCostAPY).Add(est.FundingAPY).Sub(est.AmortizedCostAPY)
	if equity := collateralUSD.Sub(debtUSD); equity.IsPositive() {
		est.EquityAPY = supplyUSD.Sub(borrowUSD).Add(fundingUSD).Sub(annualCost).Div(equity)
	}
	return est, nil
}

// CheckSnapshot validates that every field a decision needs is present and fresh.
func CheckSnapshot(snap MarketSnapshot, now time.Time, maxAge time.Duration) error {
	switch {
	case snap.Lending.ReadAt.IsZero():
		return fmt.Errorf("lending read: %w", ErrMissingData)
	case snap.Perp.ReadAt.IsZero():
		return fmt.Errorf("perp read: %w", ErrMissingData)
	case !snap.Lending.CollateralPriceUSD.IsPositive():
		return fmt.Errorf("collateral price: %w", ErrMissingData)
	case !snap.Lending.LiquidationThreshold.IsPositive():
		return fmt.Errorf("liquidation threshold: %w", ErrMissingData)
	case !perpPrice(snap.Perp).IsPositive():
		return fmt.Errorf("perp mark price: %w", ErrMissingData)
	}
	if maxAge > 0 {
		oldest := snap.Lending.ReadAt
		if snap.Perp.ReadAt.Before(oldest) {
			oldest = snap.Perp.ReadAt
		}
		if age := now.Sub(oldest); age > maxAge {
			return fmt.Errorf("snapshot age %s exceeds %s: %w", age, maxAge, ErrStaleData)
		}
	}
	return nil
}

func IsDataError(err error) bool {
	return errors.Is(err, ErrMissingData) || errors.Is(err, ErrStaleData)
}

func perpPrice(p PerpMarket) decimal.Decimal {
	if p.MarkPrice.IsPositive() {
		return p.MarkPrice
	}
	return p.OraclePrice
}

func debtPrice(l LendingMarket) decimal.Decimal {
	if l.DebtPriceUSD.IsPositive() {
		return l.DebtPriceUSD
	}
	return decimal.NewFromInt(1)
}
