package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig     `yaml:"log"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Controller  ControllerConfig  `yaml:"controller"`
	Aave        AaveConfig        `yaml:"aave"`
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	State       StateConfig       `yaml:"state"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Timescale   TimescaleConfig   `yaml:"timescale"`
	NATS        NATSConfig        `yaml:"nats"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type StrategyConfig struct {
	MinGlobalProfitability float64       `yaml:"min_global_profitability"`
	TargetCollateralETH    float64       `yaml:"target_collateral_eth"`
	TargetLTV              float64       `yaml:"target_ltv"`
	LTVSafetyMargin        float64       `yaml:"ltv_safety_margin"`
	HedgeRatio             float64       `yaml:"hedge_ratio"`
	HoldingHorizon         time.Duration `yaml:"holding_horizon"`
	PerpFeeBps             float64       `yaml:"perp_fee_bps"`
	SlippageBps            float64       `yaml:"slippage_bps"`
	GasUSDPerTx            float64       `yaml:"gas_usd_per_tx"`
	LendingTxCount         int           `yaml:"lending_tx_count"`
}

type RiskConfig struct {
	MinLiquidationBuffer float64       `yaml:"min_liquidation_buffer"`
	MinPerpMarginBuffer  float64       `yaml:"min_perp_margin_buffer"`
	DeltaTolerance       float64       `yaml:"delta_tolerance"`
	MaxSnapshotAge       time.Duration `yaml:"max_snapshot_age"`
	ConfirmTolerance     float64       `yaml:"confirm_tolerance"`
	DustETH              float64       `yaml:"dust_eth"`
	DustUSDC             float64       `yaml:"dust_usdc"`
}

type RetryConfig struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type ControllerConfig struct {
	IdlePollInterval    time.Duration `yaml:"idle_poll_interval"`
	MonitorPollInterval time.Duration `yaml:"monitor_poll_interval"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`
	Retry               RetryConfig   `yaml:"retry"`
	StartPaused         bool          `yaml:"start_paused"`
}

type AaveConfig struct {
	RPCURL              string        `yaml:"rpc_url"`
	ChainID             int64         `yaml:"chain_id"`
	Pool                string        `yaml:"pool"`
	DataProvider        string        `yaml:"data_provider"`
	WETHGateway         string        `yaml:"weth_gateway"`
	WETH                string        `yaml:"weth"`
	AWETH               string        `yaml:"aweth"`
	USDC                string        `yaml:"usdc"`
	EthUsdFeed          string        `yaml:"eth_usd_feed"`
	PrivateKey          string        `yaml:"-"`
	GasLimitMultiplier  float64       `yaml:"gas_limit_multiplier"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
}

type HyperliquidConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Asset          string        `yaml:"asset"`
	Mainnet        *bool         `yaml:"mainnet"`
	AccountAddress string        `yaml:"account_address"`
	VaultAddress   string        `yaml:"vault_address"`
	PrivateKey     string        `yaml:"-"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ContextRefresh time.Duration `yaml:"context_refresh"`
	Leverage       int           `yaml:"leverage"`
	MaxSlippageBps float64       `yaml:"max_slippage_bps"`
	// FundMargin bridges the borrowed USDC into the perp account on entry and
	// withdraws it again on exit.
	FundMargin           bool          `yaml:"fund_margin"`
	BridgeAddress        string        `yaml:"bridge_address"`
	WithdrawFeeUSDC      float64       `yaml:"withdraw_fee_usdc"`
	BridgeConfirmTimeout time.Duration `yaml:"bridge_confirm_timeout"`
}

func (h HyperliquidConfig) IsMainnet() bool {
	return h.Mainnet == nil || *h.Mainnet
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	BadgerDir  string `yaml:"badger_dir"`
}

type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Token        string        `yaml:"token"`
	ChatID       string        `yaml:"chat_id"`
	OperatorPoll time.Duration `yaml:"operator_poll"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled == nil || *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type NATSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	TickSubject  string `yaml:"tick_subject"`
	AlertSubject string `yaml:"alert_subject"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}

	s := &cfg.Strategy
	if s.MinGlobalProfitability == 0 {
		s.MinGlobalProfitability = 0.02
	}
	if s.TargetCollateralETH == 0 {
		s.TargetCollateralETH = 1
	}
	if s.TargetLTV == 0 {
		s.TargetLTV = 0.70
	}
	if s.LTVSafetyMargin == 0 {
		s.LTVSafetyMargin = 0.05
	}
	if s.HedgeRatio == 0 {
		s.HedgeRatio = 1
	}
	if s.HoldingHorizon == 0 {
		s.HoldingHorizon = 30 * 24 * time.Hour
	}
	if s.PerpFeeBps == 0 {
		s.PerpFeeBps = 4.5
	}
	if s.SlippageBps == 0 {
		s.SlippageBps = 10
	}
	if s.GasUSDPerTx == 0 {
		s.GasUSDPerTx = 0.5
	}
	if s.LendingTxCount == 0 {
		s.LendingTxCount = 6
	}

	r := &cfg.Risk
	if r.MinLiquidationBuffer == 0 {
		r.MinLiquidationBuffer = 0.10
	}
	if r.MinPerpMarginBuffer == 0 {
		r.MinPerpMarginBuffer = 0.10
	}
	if r.DeltaTolerance == 0 {
		r.DeltaTolerance = 0.02
	}
	if r.MaxSnapshotAge == 0 {
		r.MaxSnapshotAge = 2 * time.Minute
	}
	if r.ConfirmTolerance == 0 {
		r.ConfirmTolerance = 0.005
	}
	if r.DustETH == 0 {
		r.DustETH = 0.0001
	}
	if r.DustUSDC == 0 {
		r.DustUSDC = 0.01
	}

	c := &cfg.Controller
	if c.IdlePollInterval == 0 {
		c.IdlePollInterval = time.Minute
	}
	if c.MonitorPollInterval == 0 {
		c.MonitorPollInterval = 30 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = time.Minute
	}
	if c.ConfirmPollInterval == 0 {
		c.ConfirmPollInterval = 2 * time.Second
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 5 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}

	a := &cfg.Aave
	if a.ChainID == 0 {
		a.ChainID = 42161
	}
	// Aave v3 Arbitrum One deployment.
	if a.Pool == "" {
		a.Pool = "0x794a61358D6845594F94dc1DB02A252b5b4814aD"
	}
	if a.DataProvider == "" {
		a.DataProvider = "0x69FA688f1Dc47d4B5d8029D5a35FB7a548310654"
	}
	if a.WETHGateway == "" {
		a.WETHGateway = "0xecD4bd3121F9FD604ffaC631bF6d41ec12f1fafb"
	}
	if a.WETH == "" {
		a.WETH = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	}
	if a.AWETH == "" {
		a.AWETH = "0xe50fA9b3c56FfB159cB0FCA61F5c9D750e8128c8"
	}
	if a.USDC == "" {
		a.USDC = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	}
	if a.EthUsdFeed == "" {
		a.EthUsdFeed = "0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612"
	}
	if a.GasLimitMultiplier == 0 {
		a.GasLimitMultiplier = 1.2
	}
	if a.ReceiptPollInterval == 0 {
		a.ReceiptPollInterval = 2 * time.Second
	}

	h := &cfg.Hyperliquid
	if h.BaseURL == "" {
		h.BaseURL = "https://api.hyperliquid.xyz"
	}
	if h.WSURL == "" {
		h.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if h.Asset == "" {
		h.Asset = "ETH"
	}
	if h.Timeout == 0 {
		h.Timeout = 10 * time.Second
	}
	if h.ReconnectDelay == 0 {
		h.ReconnectDelay = 3 * time.Second
	}
	if h.PingInterval == 0 {
		h.PingInterval = 30 * time.Second
	}
	if h.ContextRefresh == 0 {
		h.ContextRefresh = 30 * time.Second
	}
	if h.Leverage == 0 {
		h.Leverage = 1
	}
	if h.MaxSlippageBps == 0 {
		h.MaxSlippageBps = 50
	}
	// Hyperliquid Bridge2 on Arbitrum One.
	if h.BridgeAddress == "" {
		h.BridgeAddress = "0x2Df1c51E09aECF9cacB7bc98cB1742757f163dF7"
	}
	if h.WithdrawFeeUSDC == 0 {
		h.WithdrawFeeUSDC = 1
	}
	if h.BridgeConfirmTimeout == 0 {
		h.BridgeConfirmTimeout = 10 * time.Minute
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/dn-carry-bot.db"
	}
	if cfg.State.BadgerDir == "" {
		cfg.State.BadgerDir = "data/badger"
	}
	if cfg.Telegram.OperatorPoll == 0 {
		cfg.Telegram.OperatorPoll = 30 * time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.NATS.TickSubject == "" {
		cfg.NATS.TickSubject = "dn.ticks"
	}
	if cfg.NATS.AlertSubject == "" {
		cfg.NATS.AlertSubject = "dn.alerts"
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if s.TargetCollateralETH <= 0 {
		return errors.New("strategy.target_collateral_eth must be > 0")
	}
	if s.TargetLTV <= 0 || s.TargetLTV >= 1 {
		return errors.New("strategy.target_ltv must be in (0, 1)")
	}
	if s.LTVSafetyMargin < 0 || s.LTVSafetyMargin >= 1 {
		return errors.New("strategy.ltv_safety_margin must be in [0, 1)")
	}
	if s.HedgeRatio <= 0 {
		return errors.New("strategy.hedge_ratio must be > 0")
	}
	if cfg.Risk.MinLiquidationBuffer <= 0 || cfg.Risk.MinLiquidationBuffer >= 1 {
		return errors.New("risk.min_liquidation_buffer must be in (0, 1)")
	}
	if cfg.Risk.MinPerpMarginBuffer < 0 {
		return errors.New("risk.min_perp_margin_buffer must be >= 0")
	}
	if cfg.Risk.DeltaTolerance < 0 {
		return errors.New("risk.delta_tolerance must be >= 0")
	}
	if cfg.Risk.MaxSnapshotAge <= 0 {
		return errors.New("risk.max_snapshot_age must be > 0")
	}
	if cfg.Controller.Retry.Attempts < 1 {
		return errors.New("controller.retry.attempts must be >= 1")
	}
	if cfg.Controller.ConfirmPollInterval > cfg.Controller.ConfirmTimeout {
		return errors.New("controller.confirm_poll_interval exceeds confirm_timeout")
	}
	if h := cfg.Hyperliquid; h.FundMargin {
		if strings.TrimSpace(h.VaultAddress) != "" {
			return errors.New("hyperliquid.fund_margin cannot move margin for a vault")
		}
		if !common.IsHexAddress(strings.TrimSpace(h.BridgeAddress)) {
			return fmt.Errorf("hyperliquid.bridge_address %q is not an address", h.BridgeAddress)
		}
		if h.WithdrawFeeUSDC < 0 {
			return errors.New("hyperliquid.withdraw_fee_usdc must be >= 0")
		}
	}
	switch strings.ToLower(cfg.State.Backend) {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("state.backend %q must be sqlite or badger", cfg.State.Backend)
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	return nil
}
