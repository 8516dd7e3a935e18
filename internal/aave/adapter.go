// Package aave adapts an Aave v3 market to the controller's lending venue contract:
// ETH collateral supplied through the WETH gateway and variable-rate USDC debt.
package aave

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/venue"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Name = "aave"

	variableRateMode = 2
)

// MinBridgeDeposit is the smallest USDC transfer the Hyperliquid bridge credits;
// anything less is lost.
var MinBridgeDeposit = decimal.NewFromInt(5)

type Config struct {
	Pool         common.Address
	DataProvider common.Address
	WETHGateway  common.Address
	WETH         common.Address
	AWETH        common.Address
	USDC         common.Address
	EthUsdFeed   common.Address
	// Bridge is the Hyperliquid bridge contract margin deposits are sent to.
	Bridge common.Address
}

type Adapter struct {
	cfg    Config
	caller ethereum.ContractCaller
	sender TxSender
	abis   abis
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	decimals map[common.Address]int32
}

func New(cfg Config, caller ethereum.ContractCaller, sender TxSender, log *zap.Logger) (*Adapter, error) {
	if caller == nil || sender == nil {
		return nil, errors.New("aave adapter needs a contract caller and a tx sender")
	}
	parsed, err := loadABIs()
	if err != nil {
		return nil, fmt.Errorf("parse abis: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		cfg:      cfg,
		caller:   caller,
		sender:   sender,
		abis:     parsed,
		log:      log.With(zap.String("venue", Name)),
		now:      func() time.Time { return time.Now().UTC() },
		decimals: make(map[common.Address]int32),
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Account() common.Address { return a.sender.From() }

func (a *Adapter) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

type reserveConfig struct {
	decimals             int32
	ltvBps               int64
	liquidationThreshold int64
}

func (a *Adapter) reserveConfig(ctx context.Context, asset common.Address) (reserveConfig, error) {
	vals, err := a.call(ctx, a.abis.dataProvider, a.cfg.DataProvider, "getReserveConfigurationData", asset)
	if err != nil {
		return reserveConfig{}, err
	}
	cfg := reserveConfig{
		decimals:             int32(vals[0].(*big.Int).Int64()),
		ltvBps:               vals[1].(*big.Int).Int64(),
		liquidationThreshold: vals[2].(*big.Int).Int64(),
	}
	a.mu.Lock()
	a.decimals[asset] = cfg.decimals
	a.mu.Unlock()
	return cfg, nil
}

func (a *Adapter) tokenDecimals(ctx context.Context, asset common.Address) (int32, error) {
	a.mu.Lock()
	d, ok := a.decimals[asset]
	a.mu.Unlock()
	if ok {
		return d, nil
	}
	cfg, err := a.reserveConfig(ctx, asset)
	if err != nil {
		return 0, err
	}
	return cfg.decimals, nil
}

// LendingMarket reads supply and borrow rates, collateral parameters and the ETH price.
func (a *Adapter) LendingMarket(ctx context.Context) (strategy.LendingMarket, error) {
	wethCfg, err := a.reserveConfig(ctx, a.cfg.WETH)
	if err != nil {
		return strategy.LendingMarket{}, err
	}
	wethReserve, err := a.call(ctx, a.abis.dataProvider, a.cfg.DataProvider, "getReserveData", a.cfg.WETH)
	if err != nil {
		return strategy.LendingMarket{}, err
	}
	usdcReserve, err := a.call(ctx, a.abis.dataProvider, a.cfg.DataProvider, "getReserveData", a.cfg.USDC)
	if err != nil {
		return strategy.LendingMarket{}, err
	}
	price, err := a.ethPrice(ctx)
	if err != nil {
		return strategy.LendingMarket{}, err
	}
	return strategy.LendingMarket{
		SupplyAPR:            strategy.RayToDecimal(wethReserve[5].(*big.Int)),
		BorrowAPR:            strategy.RayToDecimal(usdcReserve[6].(*big.Int)),
		MaxLTV:               strategy.BpsToDecimal(wethCfg.ltvBps),
		LiquidationThreshold: strategy.BpsToDecimal(wethCfg.liquidationThreshold),
		CollateralPriceUSD:   price,
		DebtPriceUSD:         decimal.NewFromInt(1),
		ReadAt:               a.now(),
	}, nil
}

func (a *Adapter) ethPrice(ctx context.Context) (decimal.Decimal, error) {
	dec, err := a.call(ctx, a.abis.aggregator, a.cfg.EthUsdFeed, "decimals")
	if err != nil {
		return decimal.Zero, err
	}
	round, err := a.call(ctx, a.abis.aggregator, a.cfg.EthUsdFeed, "latestRoundData")
	if err != nil {
		return decimal.Zero, err
	}
	answer := round[1].(*big.Int)
	if answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("eth/usd feed answered %s", answer)
	}
	return strategy.TokenAmount(answer, int32(dec[0].(uint8))), nil
}

// ReadState reports supplied ETH (aWETH balance), outstanding variable USDC debt and
// the wallet's USDC balance.
func (a *Adapter) ReadState(ctx context.Context) (venue.Observed, error) {
	user := a.sender.From()
	wethDec, err := a.tokenDecimals(ctx, a.cfg.WETH)
	if err != nil {
		return venue.Observed{}, err
	}
	usdcDec, err := a.tokenDecimals(ctx, a.cfg.USDC)
	if err != nil {
		return venue.Observed{}, err
	}
	weth, err := a.call(ctx, a.abis.dataProvider, a.cfg.DataProvider, "getUserReserveData", a.cfg.WETH, user)
	if err != nil {
		return venue.Observed{}, err
	}
	usdc, err := a.call(ctx, a.abis.dataProvider, a.cfg.DataProvider, "getUserReserveData", a.cfg.USDC, user)
	if err != nil {
		return venue.Observed{}, err
	}
	wallet, err := a.call(ctx, a.abis.erc20, a.cfg.USDC, "balanceOf", user)
	if err != nil {
		return venue.Observed{}, err
	}
	return venue.Observed{
		CollateralETH: strategy.TokenAmount(weth[0].(*big.Int), wethDec),
		DebtUSDC:      strategy.TokenAmount(usdc[2].(*big.Int), usdcDec),
		WalletUSDC:    strategy.TokenAmount(wallet[0].(*big.Int), usdcDec),
		ReadAt:        a.now(),
	}, nil
}

func (a *Adapter) Execute(ctx context.Context, action venue.Action) venue.Result {
	switch action.Kind {
	case venue.ActionSupply:
		return a.supply(ctx, action)
	case venue.ActionBorrow:
		return a.borrow(ctx, action)
	case venue.ActionRepay:
		return a.repay(ctx, action)
	case venue.ActionWithdraw:
		return a.withdraw(ctx, action)
	case venue.ActionDepositMargin:
		return a.depositMargin(ctx, action)
	default:
		return venue.Rejected("unsupported_action", fmt.Errorf("lending venue cannot %s", action.Kind))
	}
}

func (a *Adapter) supply(ctx context.Context, action venue.Action) venue.Result {
	if action.Amount.Sign() <= 0 {
		return venue.Rejected("non_positive_amount", errors.New("supply amount must be > 0"))
	}
	wei := strategy.TokenUnits(action.Amount, 18)
	data, err := a.abis.gateway.Pack("depositETH", a.cfg.Pool, a.sender.From(), uint16(0))
	if err != nil {
		return venue.Rejected("invalid_call", err)
	}
	return a.submit(ctx, "depositETH", a.cfg.WETHGateway, wei, data, action.Amount)
}

func (a *Adapter) borrow(ctx context.Context, action venue.Action) venue.Result {
	if action.Amount.Sign() <= 0 {
		return venue.Rejected("non_positive_amount", errors.New("borrow amount must be > 0"))
	}
	dec, err := a.tokenDecimals(ctx, a.cfg.USDC)
	if err != nil {
		return venue.Transient(err)
	}
	data, err := a.abis.pool.Pack("borrow", a.cfg.USDC, strategy.TokenUnits(action.Amount, dec),
		big.NewInt(variableRateMode), uint16(0), a.sender.From())
	if err != nil {
		return venue.Rejected("invalid_call", err)
	}
	return a.submit(ctx, "borrow", a.cfg.Pool, nil, data, action.Amount)
}

func (a *Adapter) repay(ctx context.Context, action venue.Action) venue.Result {
	amount := math.MaxBig256
	if !action.Full {
		dec, err := a.tokenDecimals(ctx, a.cfg.USDC)
		if err != nil {
			return venue.Transient(err)
		}
		amount = strategy.TokenUnits(action.Amount, dec)
	}
	if res, ok := a.ensureAllowance(ctx, a.cfg.USDC, a.cfg.Pool, amount); !ok {
		return res
	}
	data, err := a.abis.pool.Pack("repay", a.cfg.USDC, amount, big.NewInt(variableRateMode), a.sender.From())
	if err != nil {
		return venue.Rejected("invalid_call", err)
	}
	return a.submit(ctx, "repay", a.cfg.Pool, nil, data, action.Amount)
}

func (a *Adapter) withdraw(ctx context.Context, action venue.Action) venue.Result {
	amount := math.MaxBig256
	if !action.Full {
		amount = strategy.TokenUnits(action.Amount, 18)
	}
	// The gateway pulls aWETH from the caller before unwrapping.
	if res, ok := a.ensureAllowance(ctx, a.cfg.AWETH, a.cfg.WETHGateway, amount); !ok {
		return res
	}
	data, err := a.abis.gateway.Pack("withdrawETH", a.cfg.Pool, amount, a.sender.From())
	if err != nil {
		return venue.Rejected("invalid_call", err)
	}
	return a.submit(ctx, "withdrawETH", a.cfg.WETHGateway, nil, data, action.Amount)
}

// depositMargin transfers USDC to the Hyperliquid bridge, which credits the sending
// address's perp account.
func (a *Adapter) depositMargin(ctx context.Context, action venue.Action) venue.Result {
	if a.cfg.Bridge == (common.Address{}) {
		return venue.Rejected("bridge_unset", errors.New("no bridge address configured"))
	}
	if action.Amount.LessThan(MinBridgeDeposit) {
		return venue.Rejected("below_bridge_minimum", fmt.Errorf("deposit %s USDC is below the bridge minimum %s", action.Amount, MinBridgeDeposit))
	}
	dec, err := a.tokenDecimals(ctx, a.cfg.USDC)
	if err != nil {
		return venue.Transient(err)
	}
	data, err := a.abis.erc20.Pack("transfer", a.cfg.Bridge, strategy.TokenUnits(action.Amount, dec))
	if err != nil {
		return venue.Rejected("invalid_call", err)
	}
	return a.submit(ctx, "bridgeDeposit", a.cfg.USDC, nil, data, action.Amount)
}

// ensureAllowance approves spender for the max amount when the current allowance is
// short. ok is false when the approval itself did not go through.
func (a *Adapter) ensureAllowance(ctx context.Context, token, spender common.Address, need *big.Int) (venue.Result, bool) {
	vals, err := a.call(ctx, a.abis.erc20, token, "allowance", a.sender.From(), spender)
	if err != nil {
		return venue.Transient(err), false
	}
	if vals[0].(*big.Int).Cmp(need) >= 0 {
		return venue.Result{}, true
	}
	data, err := a.abis.erc20.Pack("approve", spender, math.MaxBig256)
	if err != nil {
		return venue.Rejected("invalid_call", err), false
	}
	res := a.submit(ctx, "approve", token, nil, data, decimal.Zero)
	if res.Status != venue.StatusConfirmed {
		if res.Status == venue.StatusUnknown {
			// A pending approval leaves the real call unsent.
			return venue.Transient(fmt.Errorf("approval %s unresolved: %w", res.TxRef, res.Err)), false
		}
		return res, false
	}
	return venue.Result{}, true
}

func (a *Adapter) submit(ctx context.Context, op string, to common.Address, value *big.Int, data []byte, amount decimal.Decimal) venue.Result {
	hash, err := a.sender.Send(ctx, to, value, data)
	if err != nil {
		a.log.Warn("tx send failed", zap.String("op", op), zap.String("tx", hash.Hex()), zap.Error(err))
		return classifySend(err, hash)
	}
	a.log.Info("tx sent", zap.String("op", op), zap.String("tx", hash.Hex()))
	receipt, err := a.sender.WaitMined(ctx, hash)
	if err != nil {
		return venue.Unknown(hash.Hex(), fmt.Errorf("wait for %s: %w", op, err))
	}
	if receipt.Status == 0 {
		return venue.Rejected(op+"_reverted", fmt.Errorf("tx %s reverted in block %s", hash.Hex(), receipt.BlockNumber))
	}
	return venue.Confirmed(amount, hash.Hex())
}
