package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func approx(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	diff := got.InexactFloat64() - want
	if diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("%s: expected %.10f, got %s", name, want, got.String())
	}
}

// scenarioSnapshot: 10 ETH at $3000 supplied at 3%, half borrowed at 10% (5% on
// collateral), 10 ETH short earning 4% a year in funding.
func scenarioSnapshot() (MarketSnapshot, Sizing) {
	lending := LendingMarket{
		SupplyAPR:            d("0.03"),
		BorrowAPR:            d("0.10"),
		MaxLTV:               d("0.80"),
		LiquidationThreshold: d("0.83"),
		CollateralPriceUSD:   d("3000"),
		DebtPriceUSD:         d("1"),
		ReadAt:               testNow.Add(-2 * time.Second),
	}
	perp := PerpMarket{
		FundingRateHourly: d("0.04").Div(decimal.NewFromInt(HoursPerYear)),
		MarkPrice:         d("3000"),
		OraclePrice:       d("3000"),
		SzDecimals:        4,
		ReadAt:            testNow.Add(-time.Second),
	}
	sizing := Sizing{CollateralETH: d("10"), DebtUSDC: d("15000"), ShortETH: d("10"), LTV: d("0.5")}
	return NewSnapshot(lending, perp), sizing
}

func scenarioCosts() CostModel {
	// 6 txs * $25 = $150 one-time on $30000 over one year = 0.5%.
	return CostModel{GasUSDPerTx: d("25"), TxCount: 6, HoldingHorizon: year}
}

func TestEstimateProfitabilityScenario(t *testing.T) {
	snap, sizing := scenarioSnapshot()
	est, err := EstimateProfitability(snap, sizing, scenarioCosts(), testNow, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approx(t, "supply", est.SupplyAPY, 0.03)
	approx(t, "borrow", est.BorrowCostAPY, 0.05)
	approx(t, "funding", est.FundingAPY, 0.04)
	approx(t, "amortized", est.AmortizedCostAPY, 0.005)
	approx(t, "net", est.NetAPY, 0.015)
	if !est.NetAPY.LessThan(d("0.02")) {
		t.Fatalf("expected net below 2%% threshold, got %s", est.NetAPY)
	}
	if !est.SnapshotAt.Equal(testNow.Add(-time.Second)) {
		t.Fatalf("expected snapshot at latest read, got %s", est.SnapshotAt)
	}
	// (900 - 1500 + 1200 - 150) / 15000
	approx(t, "equity", est.EquityAPY, 0.03)
}

func TestEstimateProfitabilityNegativeWhenBorrowDominates(t *testing.T) {
	snap, sizing := scenarioSnapshot()
	snap.Lending.BorrowAPR = d("0.30")
	est, err := EstimateProfitability(snap, sizing, scenarioCosts(), testNow, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !est.NetAPY.IsNegative() {
		t.Fatalf("expected negative estimate, got %s", est.NetAPY)
	}
}

func TestEstimateProfitabilityIsPure(t *testing.T) {
	snap, sizing := scenarioSnapshot()
	first, err := EstimateProfitability(snap, sizing, scenarioCosts(), testNow, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := EstimateProfitability(snap, sizing, scenarioCosts(), testNow, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.NetAPY.Equal(second.NetAPY) || !first.EquityAPY.Equal(second.EquityAPY) ||
		!first.OneTimeCostUSD.Equal(second.OneTimeCostUSD) {
		t.Fatalf("expected identical estimates, got %+v and %+v", first, second)
	}
}

func TestEstimateProfitabilityStale(t *testing.T) {
	snap, sizing := scenarioSnapshot()
	_, err := EstimateProfitability(snap, sizing, scenarioCosts(), testNow.Add(5*time.Minute), time.Minute)
	if !errors.Is(err, ErrStaleData) {
		t.Fatalf("expected stale data error, got %v", err)
	}
	if !IsDataError(err) {
		t.Fatalf("expected data error classification")
	}
}

func TestEstimateProfitabilityMissingFields(t *testing.T) {
	cases := map[string]func(*MarketSnapshot){
		"lending read": func(s *MarketSnapshot) { s.Lending.ReadAt = time.Time{} },
		"perp read":    func(s *MarketSnapshot) { s.Perp.ReadAt = time.Time{} },
		"price":        func(s *MarketSnapshot) { s.Lending.CollateralPriceUSD = decimal.Zero },
		"threshold":    func(s *MarketSnapshot) { s.Lending.LiquidationThreshold = decimal.Zero },
		"mark": func(s *MarketSnapshot) {
			s.Perp.MarkPrice = decimal.Zero
			s.Perp.OraclePrice = decimal.Zero
		},
	}
	for name, mutate := range cases {
		snap, sizing := scenarioSnapshot()
		mutate(&snap)
		if _, err := EstimateProfitability(snap, sizing, scenarioCosts(), testNow, time.Minute); !errors.Is(err, ErrMissingData) {
			t.Fatalf("%s: expected missing data error, got %v", name, err)
		}
	}
}

func TestOneTimeCostIncludesFeesAndSlippage(t *testing.T) {
	costs := CostModel{PerpFeeBps: d("4.5"), SlippageBps: d("10"), GasUSDPerTx: d("0.5")}
	// 30000 * 0.00145 * 2 + 6 * 0.5
	approx(t, "cost", costs.OneTimeCostUSD(d("30000")), 90)
}

func TestFundingAPY(t *testing.T) {
	approx(t, "funding", FundingAPY(d("0.0000125")), 0.1095)
}
