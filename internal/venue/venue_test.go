package venue

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"dn-carry-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")
	transient := fmt.Errorf("call: %w", &TransientVenueError{Venue: "aave", Op: "borrow", Err: base})
	rejected := &RejectedActionError{Venue: "aave", Op: "borrow", Reason: "reverted"}
	ambiguous := &AmbiguousOutcomeError{Venue: "hyperliquid", Op: "open_short", TxRef: "0xabc", Err: base}
	partial := &PartialEntryOrExitError{Phase: strategy.StateEntering, Step: "borrow", Err: rejected}

	assert.True(t, IsTransient(transient))
	assert.ErrorIs(t, transient, base)
	assert.True(t, IsRejected(rejected))
	assert.False(t, IsRejected(transient))
	assert.True(t, IsAmbiguous(ambiguous))
	assert.Contains(t, ambiguous.Error(), "0xabc")
	assert.True(t, IsRejected(partial), "partial error should unwrap to its cause")
}

func TestConnectivityTagsTransportFailures(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	tagged := Connectivity(refused)
	assert.ErrorIs(t, tagged, ErrConnectivity)
	assert.ErrorIs(t, tagged, syscall.ECONNREFUSED)
	assert.Same(t, tagged, Connectivity(tagged), "already tagged errors pass through")

	dns := fmt.Errorf("post: %w", &net.DNSError{Err: "no such host", Name: "api.hyperliquid.xyz"})
	assert.True(t, IsConnectivity(dns))

	other := errors.New("execution reverted")
	assert.Same(t, other, Connectivity(other))
	assert.False(t, IsConnectivity(other))
	assert.NoError(t, Connectivity(nil))
}

func TestStaleOrMissingIncludesCalculatorErrors(t *testing.T) {
	err := fmt.Errorf("estimate: %w", strategy.ErrStaleData)
	assert.True(t, IsStaleOrMissing(err))
	assert.True(t, IsStaleOrMissing(&StaleOrMissingDataError{Source: "perp", Err: errors.New("timeout")}))
	assert.False(t, IsStaleOrMissing(errors.New("other")))
}

func TestMergeUsesLatestRead(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := Merge(
		Observed{CollateralETH: decimal.NewFromInt(2), DebtUSDC: decimal.NewFromInt(4000), ReadAt: t0},
		Observed{ShortETH: decimal.NewFromInt(2), MarginUSDC: decimal.NewFromInt(4000), ShortNotionalUSD: decimal.NewFromInt(5000),
			LiquidationPrice: decimal.NewFromInt(4400), MaxLeverage: 25, ReadAt: t0.Add(time.Second)},
	)
	require.True(t, h.ReadAt.Equal(t0.Add(time.Second)))
	assert.True(t, h.Perp.AccountValueUSD.Equal(decimal.NewFromInt(4000)))
	assert.True(t, h.Perp.PositionUSD.Equal(decimal.NewFromInt(5000)))
	assert.True(t, h.Perp.LiquidationPrice.Equal(decimal.NewFromInt(4400)))
	assert.Equal(t, 25, h.Perp.MaxLeverage)
	assert.True(t, h.ShortETH.Equal(decimal.NewFromInt(2)))
	assert.True(t, h.DebtUSDC.Equal(decimal.NewFromInt(4000)))
}
