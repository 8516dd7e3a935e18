package app

import (
	"errors"
	"fmt"
	"strings"

	"dn-carry-bot/internal/aave"
	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/hl/exchange"
	"dn-carry-bot/internal/hl/perp"
	"dn-carry-bot/internal/hl/rest"
	"dn-carry-bot/internal/hl/ws"
	"dn-carry-bot/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Venues holds both venue adapters and the clients behind them.
type Venues struct {
	Lending  *aave.Adapter
	Perp     *perp.Adapter
	Market   *market.MarketData
	Exchange *exchange.Client
	eth      *ethclient.Client
}

// OpenVenues dials the chain RPC and builds the Hyperliquid clients. Nothing is
// submitted until the controller runs a step.
func OpenVenues(cfg *config.Config, log *zap.Logger) (*Venues, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := &Venues{}
	if err := v.openLending(cfg.Aave, cfg.Hyperliquid.BridgeAddress, log); err != nil {
		v.Close()
		return nil, err
	}
	if err := v.openPerp(cfg.Hyperliquid, v.Lending.Account(), log); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *Venues) openLending(cfg config.AaveConfig, bridge string, log *zap.Logger) error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return errors.New("aave rpc url is required (DN_RPC_URL)")
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return errors.New("DN_PRIVATE_KEY is required")
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	v.eth = client
	sender, err := aave.NewEthSender(client, cfg.PrivateKey, cfg.ChainID, cfg.GasLimitMultiplier, cfg.ReceiptPollInterval)
	if err != nil {
		return err
	}
	adapter, err := aave.New(aave.Config{
		Pool:         common.HexToAddress(cfg.Pool),
		DataProvider: common.HexToAddress(cfg.DataProvider),
		WETHGateway:  common.HexToAddress(cfg.WETHGateway),
		WETH:         common.HexToAddress(cfg.WETH),
		AWETH:        common.HexToAddress(cfg.AWETH),
		USDC:         common.HexToAddress(cfg.USDC),
		EthUsdFeed:   common.HexToAddress(cfg.EthUsdFeed),
		Bridge:       common.HexToAddress(bridge),
	}, client, sender, log.Named("aave"))
	if err != nil {
		return err
	}
	v.Lending = adapter
	log.Info("lending venue ready", zap.String("account", adapter.Account().Hex()), zap.Int64("chain_id", cfg.ChainID))
	return nil
}

func (v *Venues) openPerp(cfg config.HyperliquidConfig, wallet common.Address, log *zap.Logger) error {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return errors.New("hyperliquid private key is required (DN_HL_PRIVATE_KEY or DN_PRIVATE_KEY)")
	}
	restClient := rest.New(cfg.BaseURL, cfg.Timeout, log.Named("rest"))
	wsClient := ws.New(cfg.WSURL, cfg.ReconnectDelay, cfg.PingInterval, log.Named("ws"))
	v.Market = market.New(restClient, wsClient, cfg.ContextRefresh, log.Named("market"))
	v.Market.Track(cfg.Asset)

	signer, err := exchange.NewSigner(cfg.PrivateKey, cfg.IsMainnet())
	if err != nil {
		return err
	}
	exClient, err := exchange.NewClient(cfg.BaseURL, cfg.Timeout, signer, cfg.VaultAddress)
	if err != nil {
		return err
	}
	exClient.SetLogger(log.Named("exchange"))
	v.Exchange = exClient

	account := accountFor(cfg, signer)
	if cfg.FundMargin {
		if err := checkMarginRoute(wallet, account, signer.Address()); err != nil {
			return err
		}
	}
	adapter, err := perp.New(perp.Config{
		Asset:               cfg.Asset,
		AccountAddress:      account,
		MaxSlippageBps:      cfg.MaxSlippageBps,
		Leverage:            cfg.Leverage,
		WithdrawDestination: wallet.Hex(),
		WithdrawFeeUSDC:     decimal.NewFromFloat(cfg.WithdrawFeeUSDC),
	}, v.Market, restClient, exClient, log.Named("perp"))
	if err != nil {
		return err
	}
	v.Perp = adapter
	log.Info("perp venue ready", zap.String("account", account), zap.String("asset", cfg.Asset), zap.Bool("mainnet", cfg.IsMainnet()))
	return nil
}

// PerpAccount is the Hyperliquid account whose positions the bot trades: the configured
// account, else the signer's own address.
func PerpAccount(cfg config.HyperliquidConfig) (string, error) {
	if account := strings.TrimSpace(cfg.AccountAddress); account != "" {
		return account, nil
	}
	signer, err := exchange.NewSigner(cfg.PrivateKey, cfg.IsMainnet())
	if err != nil {
		return "", err
	}
	return signer.Address().Hex(), nil
}

// checkMarginRoute holds when bridged USDC credits the traded account and withdrawals
// can be signed: the bridge credits the sending wallet, and only the account's own key
// may withdraw.
func checkMarginRoute(wallet common.Address, account string, signer common.Address) error {
	if !common.IsHexAddress(account) {
		return fmt.Errorf("perp account %q is not an address", account)
	}
	if common.HexToAddress(account) != wallet {
		return fmt.Errorf("fund_margin needs the perp account %s to be the lending wallet %s", account, wallet.Hex())
	}
	if signer != wallet {
		return fmt.Errorf("fund_margin needs the perp key to sign as %s, not agent %s", wallet.Hex(), signer.Hex())
	}
	return nil
}

func accountFor(cfg config.HyperliquidConfig, signer *exchange.Signer) string {
	if account := strings.TrimSpace(cfg.AccountAddress); account != "" {
		return account
	}
	return signer.Address().Hex()
}

func (v *Venues) Close() {
	if v.eth != nil {
		v.eth.Close()
		v.eth = nil
	}
}
