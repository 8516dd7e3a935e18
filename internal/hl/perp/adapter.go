// Package perp adapts Hyperliquid to the controller's perp venue contract: market
// context reads, short position reads and IOC order execution.
package perp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dn-carry-bot/internal/hl/exchange"
	"dn-carry-bot/internal/hl/rest"
	"dn-carry-bot/internal/market"
	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const Name = "hyperliquid"

type OrderClient interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (exchange.OrderStatus, error)
	CancelByCloid(ctx context.Context, asset int, cloid string) error
	UpdateLeverage(ctx context.Context, asset, leverage int, cross bool) error
	Withdraw(ctx context.Context, destination string, amount decimal.Decimal) error
}

type ContextSource interface {
	Fresh(ctx context.Context, asset string) (market.PerpContext, error)
}

type Config struct {
	Asset          string
	AccountAddress string
	// MaxSlippageBps bounds the IOC limit price away from mark.
	MaxSlippageBps float64
	Leverage       int
	// WithdrawDestination receives margin withdrawals on Arbitrum.
	WithdrawDestination string
	// WithdrawFeeUSDC is what the bridge keeps from each withdrawal.
	WithdrawFeeUSDC decimal.Decimal
}

type Adapter struct {
	cfg      Config
	contexts ContextSource
	info     market.InfoClient
	orders   OrderClient
	log      *zap.Logger
	now      func() time.Time
	newCloid func() string

	leverageOnce sync.Once
}

func New(cfg Config, contexts ContextSource, info market.InfoClient, orders OrderClient, log *zap.Logger) (*Adapter, error) {
	if cfg.Asset == "" {
		return nil, errors.New("perp asset is required")
	}
	if cfg.AccountAddress == "" {
		return nil, errors.New("perp account address is required")
	}
	if cfg.MaxSlippageBps <= 0 {
		cfg.MaxSlippageBps = 50
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		cfg:      cfg,
		contexts: contexts,
		info:     info,
		orders:   orders,
		log:      log.With(zap.String("venue", Name)),
		now:      func() time.Time { return time.Now().UTC() },
		newCloid: NewCloid,
	}, nil
}

// NewCloid returns a random 128-bit client order id in the exchange's hex form.
func NewCloid() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) PerpMarket(ctx context.Context) (strategy.PerpMarket, error) {
	pc, err := a.contexts.Fresh(ctx, a.cfg.Asset)
	if err != nil {
		return strategy.PerpMarket{}, err
	}
	return strategy.PerpMarket{
		FundingRateHourly: pc.FundingRate,
		MarkPrice:         pc.MarkPrice,
		OraclePrice:       pc.OraclePrice,
		SzDecimals:        int(pc.SzDecimals),
		ReadAt:            pc.ReadAt,
	}, nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin          string              `json:"coin"`
			Szi           decimal.Decimal     `json:"szi"`
			EntryPx       json.RawMessage     `json:"entryPx"`
			PositionValue decimal.Decimal     `json:"positionValue"`
			LiquidationPx decimal.NullDecimal `json:"liquidationPx"`
			MaxLeverage   int                 `json:"maxLeverage"`
		} `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue decimal.Decimal `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable decimal.Decimal `json:"withdrawable"`
}

// ReadState reports the open short in ETH, positive for a short, with the account's
// margin. No position is zero.
func (a *Adapter) ReadState(ctx context.Context) (venue.Observed, error) {
	var st clearinghouseState
	if err := a.info.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: a.cfg.AccountAddress}, &st); err != nil {
		return venue.Observed{}, err
	}
	obs := venue.Observed{
		MarginUSDC:       st.MarginSummary.AccountValue,
		WithdrawableUSDC: st.Withdrawable,
		ReadAt:           a.now(),
	}
	for _, ap := range st.AssetPositions {
		if ap.Position.Coin != a.cfg.Asset {
			continue
		}
		obs.ShortETH = ap.Position.Szi.Neg()
		obs.ShortNotionalUSD = ap.Position.PositionValue.Abs()
		if ap.Position.LiquidationPx.Valid {
			obs.LiquidationPrice = ap.Position.LiquidationPx.Decimal
		}
		obs.MaxLeverage = ap.Position.MaxLeverage
		break
	}
	return obs, nil
}

func (a *Adapter) Execute(ctx context.Context, action venue.Action) venue.Result {
	if action.Kind == venue.ActionWithdrawMargin {
		return a.withdraw(ctx, action)
	}
	pc, err := a.contexts.Fresh(ctx, a.cfg.Asset)
	if err != nil {
		return classify(err, "")
	}
	var (
		size       decimal.Decimal
		isBuy      bool
		reduceOnly bool
	)
	switch action.Kind {
	case venue.ActionOpenShort:
		size = action.Amount
		a.ensureLeverage(ctx, pc.Index)
	case venue.ActionCloseShort:
		isBuy, reduceOnly = true, true
		size = action.Amount
		if action.Full {
			obs, err := a.ReadState(ctx)
			if err != nil {
				return classify(err, "")
			}
			size = obs.ShortETH
		}
	case venue.ActionResizeShort:
		// Positive grows the short, negative shrinks it.
		size = action.Amount.Abs()
		if action.Amount.Sign() < 0 {
			isBuy, reduceOnly = true, true
		}
	default:
		return venue.Rejected("unsupported_action", fmt.Errorf("perp venue cannot %s", action.Kind))
	}
	size = exchange.RoundSize(size, pc.SzDecimals)
	if size.Sign() <= 0 {
		return venue.Rejected("size_below_lot", fmt.Errorf("size %s rounds to zero at %d decimals", action.Amount, pc.SzDecimals))
	}
	ref := pc.MarkPrice
	if ref.Sign() <= 0 {
		ref = pc.OraclePrice
	}
	if ref.Sign() <= 0 {
		return venue.Transient(errors.New("no reference price for order"))
	}
	limit := exchange.RoundPrice(slippedPrice(ref, a.cfg.MaxSlippageBps, isBuy), pc.SzDecimals)
	cloid := a.newCloid()
	order, err := exchange.LimitOrderWire(pc.Index, isBuy, size, limit, reduceOnly, exchange.TifIoc, cloid)
	if err != nil {
		return venue.Rejected("invalid_order", err)
	}
	a.log.Info("placing order", zap.String("action", string(action.Kind)), zap.String("size", size.String()),
		zap.String("limit", limit.String()), zap.Bool("buy", isBuy), zap.String("cloid", cloid))

	st, err := a.orders.PlaceOrder(ctx, order)
	if err != nil {
		return classify(err, cloid)
	}
	switch {
	case st.Error != "":
		return venue.Rejected(st.Error, &exchange.ActionError{Message: st.Error})
	case st.Filled:
		return venue.Confirmed(st.FilledSize, fmt.Sprintf("%s/%d", cloid, st.Oid))
	case st.Resting:
		// IOC should never rest; pull it and let the executor settle from a read.
		if cerr := a.orders.CancelByCloid(context.WithoutCancel(ctx), pc.Index, cloid); cerr != nil {
			a.log.Warn("cancel resting ioc failed", zap.String("cloid", cloid), zap.Error(cerr))
		}
		return venue.Unknown(fmt.Sprintf("%s/%d", cloid, st.Oid), errors.New("ioc order rested"))
	default:
		return venue.Unknown(cloid, errors.New("order status missing"))
	}
}

// withdraw sends margin to the withdraw destination. Full takes everything withdrawable;
// an amount the bridge fee would swallow is a confirmed no-op.
func (a *Adapter) withdraw(ctx context.Context, action venue.Action) venue.Result {
	if a.cfg.WithdrawDestination == "" {
		return venue.Rejected("no_withdraw_destination", errors.New("perp venue has no withdraw destination"))
	}
	amount := action.Amount
	if action.Full {
		obs, err := a.ReadState(ctx)
		if err != nil {
			return classify(err, "")
		}
		amount = obs.WithdrawableUSDC
	}
	// USDC has six decimals on the bridge.
	amount = amount.Truncate(6)
	if amount.LessThanOrEqual(a.cfg.WithdrawFeeUSDC) {
		a.log.Info("nothing to withdraw", zap.String("amount", amount.String()))
		return venue.Confirmed(decimal.Zero, "")
	}
	a.log.Info("withdrawing margin", zap.String("amount", amount.String()), zap.String("destination", a.cfg.WithdrawDestination))
	if err := a.orders.Withdraw(ctx, a.cfg.WithdrawDestination, amount); err != nil {
		return classify(err, action.Ref)
	}
	return venue.Confirmed(amount, action.Ref)
}

func (a *Adapter) ensureLeverage(ctx context.Context, asset int) {
	if a.cfg.Leverage <= 0 {
		return
	}
	a.leverageOnce.Do(func() {
		if err := a.orders.UpdateLeverage(ctx, asset, a.cfg.Leverage, true); err != nil {
			a.log.Warn("leverage update failed", zap.Int("leverage", a.cfg.Leverage), zap.Error(err))
		}
	})
}

func slippedPrice(ref decimal.Decimal, bps float64, isBuy bool) decimal.Decimal {
	adj := decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10_000))
	if isBuy {
		return ref.Mul(decimal.NewFromInt(1).Add(adj))
	}
	return ref.Mul(decimal.NewFromInt(1).Sub(adj))
}

// classify maps a failed call to a result. Only failures that provably never reached
// the exchange are transient; anything that may have been processed is unknown.
func classify(err error, ref string) venue.Result {
	var statusErr *exchange.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.RateLimited():
			return venue.Transient(err)
		case statusErr.ServerSide():
			return venue.Unknown(ref, err)
		default:
			return venue.Rejected(fmt.Sprintf("http_%d", statusErr.Code), err)
		}
	}
	var httpErr *rest.HTTPError
	if errors.As(err, &httpErr) {
		return venue.Transient(err)
	}
	if exchange.IsActionError(err) {
		return venue.Rejected(strings.TrimPrefix(err.Error(), "exchange rejected action: "), err)
	}
	if venue.IsConnectivity(err) {
		return venue.Transient(venue.Connectivity(err))
	}
	if ref == "" {
		// Nothing was submitted yet.
		return venue.Transient(err)
	}
	return venue.Unknown(ref, err)
}
