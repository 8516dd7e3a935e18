// Package venue defines the contracts between the lifecycle controller and the
// lending and perpetual venues.
package venue

import (
	"context"
	"time"

	"dn-carry-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

type ActionKind string

const (
	ActionSupply      ActionKind = "supply"
	ActionBorrow      ActionKind = "borrow"
	ActionRepay       ActionKind = "repay"
	ActionWithdraw    ActionKind = "withdraw"
	ActionOpenShort   ActionKind = "open_short"
	ActionCloseShort  ActionKind = "close_short"
	ActionResizeShort ActionKind = "resize_short"
	// Margin moves between the lending wallet and the perp account.
	ActionDepositMargin  ActionKind = "deposit_margin"
	ActionWithdrawMargin ActionKind = "withdraw_margin"
)

// Action is one venue-local mutation. Full asks the venue to repay, withdraw or close
// everything outstanding regardless of Amount.
type Action struct {
	Kind   ActionKind
	Amount decimal.Decimal
	Full   bool
	// Ref is an idempotency reference chosen by the caller (client order id, journal id).
	Ref string
}

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusUnknown   Status = "unknown"
	StatusTransient Status = "transient"
)

// Result is the typed outcome of one Execute call.
type Result struct {
	Status   Status
	Observed decimal.Decimal
	Reason   string
	TxRef    string
	Err      error
}

func Confirmed(observed decimal.Decimal, txRef string) Result {
	return Result{Status: StatusConfirmed, Observed: observed, TxRef: txRef}
}

func Rejected(reason string, err error) Result {
	return Result{Status: StatusRejected, Reason: reason, Err: err}
}

func Unknown(txRef string, err error) Result {
	return Result{Status: StatusUnknown, TxRef: txRef, Err: err}
}

func Transient(err error) Result {
	return Result{Status: StatusTransient, Err: err}
}

// Observed is a fresh authoritative read of one venue. A lending venue fills
// CollateralETH, DebtUSDC and WalletUSDC; a perp venue fills ShortETH and the margin
// account fields.
type Observed struct {
	CollateralETH decimal.Decimal
	DebtUSDC      decimal.Decimal
	ShortETH      decimal.Decimal
	// WalletUSDC is the lending wallet's spendable USDC.
	WalletUSDC decimal.Decimal
	// MarginUSDC is the perp account value; WithdrawableUSDC the part free to leave.
	MarginUSDC       decimal.Decimal
	WithdrawableUSDC decimal.Decimal
	ShortNotionalUSD decimal.Decimal
	// LiquidationPrice is zero when the venue reports none.
	LiquidationPrice decimal.Decimal
	MaxLeverage      int
	ReadAt           time.Time
}

type ActionAdapter interface {
	Name() string
	Execute(ctx context.Context, action Action) Result
	ReadState(ctx context.Context) (Observed, error)
}

type LendingMarketReader interface {
	LendingMarket(ctx context.Context) (strategy.LendingMarket, error)
}

type PerpMarketReader interface {
	PerpMarket(ctx context.Context) (strategy.PerpMarket, error)
}

type LendingAdapter interface {
	ActionAdapter
	LendingMarketReader
}

type PerpAdapter interface {
	ActionAdapter
	PerpMarketReader
}

// Merge folds a lending read and a perp read into one holdings view.
func Merge(lending, perp Observed) strategy.Holdings {
	readAt := lending.ReadAt
	if perp.ReadAt.After(readAt) {
		readAt = perp.ReadAt
	}
	return strategy.Holdings{
		CollateralETH: lending.CollateralETH,
		DebtUSDC:      lending.DebtUSDC,
		ShortETH:      perp.ShortETH,
		Perp: strategy.PerpMargin{
			AccountValueUSD:  perp.MarginUSDC,
			PositionUSD:      perp.ShortNotionalUSD,
			LiquidationPrice: perp.LiquidationPrice,
			MaxLeverage:      perp.MaxLeverage,
		},
		ReadAt: readAt,
	}
}
