package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type Lifecycle string

const (
	StateIdle       Lifecycle = "IDLE"
	StateEvaluating Lifecycle = "EVALUATING"
	StateEntering   Lifecycle = "ENTERING"
	StateActive     Lifecycle = "ACTIVE"
	StateMonitoring Lifecycle = "MONITORING"
	StateExiting    Lifecycle = "EXITING"
	StateDegraded   Lifecycle = "DEGRADED"
)

// LendingMarket is one read of the lending venue. Rates are annual, ratios are fractions.
type LendingMarket struct {
	SupplyAPR            decimal.Decimal
	BorrowAPR            decimal.Decimal
	MaxLTV               decimal.Decimal
	LiquidationThreshold decimal.Decimal
	CollateralPriceUSD   decimal.Decimal
	DebtPriceUSD         decimal.Decimal
	ReadAt               time.Time
}

// PerpMarket is one read of the perpetual venue. FundingRateHourly is the venue's native rate.
type PerpMarket struct {
	FundingRateHourly decimal.Decimal
	MarkPrice         decimal.Decimal
	OraclePrice       decimal.Decimal
	SzDecimals        int
	ReadAt            time.Time
}

// MarketSnapshot is captured once per decision and never mutated.
type MarketSnapshot struct {
	Lending   LendingMarket
	Perp      PerpMarket
	Timestamp time.Time
}

func NewSnapshot(lending LendingMarket, perp PerpMarket) MarketSnapshot {
	ts := lending.ReadAt
	if perp.ReadAt.After(ts) {
		ts = perp.ReadAt
	}
	return MarketSnapshot{Lending: lending, Perp: perp, Timestamp: ts}
}

func (s MarketSnapshot) Age(now time.Time) time.Duration {
	if s.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(s.Timestamp)
}

type Sizing struct {
	CollateralETH decimal.Decimal
	DebtUSDC      decimal.Decimal
	ShortETH      decimal.Decimal
	LTV           decimal.Decimal
}

// LegSet records which legs of the two-venue trade are known to be in place.
type LegSet struct {
	Supplied bool `json:"supplied"`
	Borrowed bool `json:"borrowed"`
	Shorted  bool `json:"shorted"`
}

func (l LegSet) All() bool {
	return l.Supplied && l.Borrowed && l.Shorted
}

type Position struct {
	CollateralETH decimal.Decimal `json:"collateral_eth"`
	DebtUSDC      decimal.Decimal `json:"debt_usdc"`
	ShortETH      decimal.Decimal `json:"short_eth"`
	// MarginUSDC is the perp account value backing the short.
	MarginUSDC     decimal.Decimal `json:"margin_usdc"`
	EntryTimestamp time.Time       `json:"entry_timestamp"`
	Status         Lifecycle       `json:"status"`
	Legs           LegSet          `json:"legs"`
}

// Holdings is a live read of both venues. ShortETH is positive for a short.
type Holdings struct {
	CollateralETH decimal.Decimal
	DebtUSDC      decimal.Decimal
	ShortETH      decimal.Decimal
	Perp          PerpMargin
	ReadAt        time.Time
}

// PerpMargin is the perp account's margin state as the venue reports it.
type PerpMargin struct {
	AccountValueUSD  decimal.Decimal
	PositionUSD      decimal.Decimal
	LiquidationPrice decimal.Decimal
	MaxLeverage      int
}

// Flat reports no exposure on either venue beyond dust.
func (h Holdings) Flat(dustETH, dustUSDC decimal.Decimal) bool {
	return h.CollateralETH.Abs().LessThanOrEqual(dustETH) &&
		h.ShortETH.Abs().LessThanOrEqual(dustETH) &&
		h.DebtUSDC.Abs().LessThanOrEqual(dustUSDC)
}

type ProfitabilityEstimate struct {
	SupplyAPY        decimal.Decimal
	BorrowCostAPY    decimal.Decimal
	FundingAPY       decimal.Decimal
	AmortizedCostAPY decimal.Decimal
	NetAPY           decimal.Decimal
	EquityAPY        decimal.Decimal
	CollateralUSD    decimal.Decimal
	DebtUSD          decimal.Decimal
	ShortNotionalUSD decimal.Decimal
	OneTimeCostUSD   decimal.Decimal
	SnapshotAt       time.Time
}

type RiskAssessment struct {
	CollateralUSD    decimal.Decimal
	DebtUSD          decimal.Decimal
	LTV              decimal.Decimal
	LiquidationLTV   decimal.Decimal
	Buffer           decimal.Decimal
	LiquidationPrice decimal.Decimal
	DeltaDrift       decimal.Decimal
	Breach           bool
	DeltaBreach      bool
	// Perp margin: maintenance requirement, the account value's headroom above it as a
	// fraction of it, and the venue's liquidation price for the short.
	PerpMaintenanceUSD   decimal.Decimal
	PerpMarginBuffer     decimal.Decimal
	PerpLiquidationPrice decimal.Decimal
	PerpMarginBreach     bool
}
